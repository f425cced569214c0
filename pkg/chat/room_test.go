package chat

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/abelhavalos/contacts/pkg/model"
)

var (
	ada   = &model.Session{ID: "u1", FullName: "Ada"}
	grace = &model.Session{ID: "u2", FullName: "Grace"}

	// local clock for rooms; the fake backend stamps messages after it
	roomNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
)

func newRoom(t *testing.T, b Backend, me *model.Session, target Target) (*Room, *recordingView) {
	t.Helper()
	v := &recordingView{}
	r, err := NewRoom(b, me, target, v, WithInterval(time.Hour), WithClock(func() time.Time { return roomNow }))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Close)
	return r, v
}

func TestTargetFromQuery(t *testing.T) {
	tests := []struct {
		query string
		want  Target
	}{
		{"community=k1&user=u2", Target{Mode: model.ModeCommunity, CommunityID: "k1"}},
		{"otherId=u2&user=u3", Target{Mode: model.ModePrivate, OtherID: "u2"}},
		{"user=u3", Target{Mode: model.ModePrivate, OtherID: "u3"}},
		{"", Target{Mode: model.ModePrivate}},
	}
	for _, tt := range tests {
		q, _ := url.ParseQuery(tt.query)
		if got := TargetFromQuery(q); got != tt.want {
			t.Errorf("TargetFromQuery(%q) = %+v, want %+v", tt.query, got, tt.want)
		}
	}
}

func TestNewRoomRequiresSession(t *testing.T) {
	if _, err := NewRoom(newFakeBackend(), nil, PrivateTarget("u2"), &recordingView{}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
	if _, err := NewRoom(newFakeBackend(), &model.Session{}, PrivateTarget("u2"), &recordingView{}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestResolvePairOrderIndependent(t *testing.T) {
	b := newFakeBackend()
	ctx := context.Background()

	r1, _ := newRoom(t, b, ada, PrivateTarget("u2"))
	r2, _ := newRoom(t, b, grace, PrivateTarget("u1"))
	id1, err := r1.Resolve(ctx)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := r2.Resolve(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("(A,B) resolved to %q, (B,A) to %q", id1, id2)
	}

	again, _ := r1.Resolve(ctx)
	if again != id1 {
		t.Fatalf("second resolve = %q, want %q", again, id1)
	}
	if resolves, _, _ := b.counts(); resolves != 2 {
		t.Fatalf("backend resolve calls = %d, want 2", resolves)
	}
}

func TestResolveFailureLeavesRoomUsable(t *testing.T) {
	b := newFakeBackend()
	b.setOffline(true)
	r, v := newRoom(t, b, ada, CommunityTarget("k1"))
	ctx := context.Background()

	if err := r.Open(ctx); err == nil {
		t.Fatal("Open succeeded while offline")
	}
	if err := r.Load(ctx); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("Load err = %v, want ErrUnresolved", err)
	}
	if err := r.Send(ctx, "hello"); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("Send err = %v, want ErrUnresolved", err)
	}
	if _, get, send := b.counts(); get != 0 || send != 0 {
		t.Fatalf("backend calls while unresolved: get=%d send=%d", get, send)
	}
	if len(v.snapshot()) != 0 {
		t.Fatal("view rendered while unresolved")
	}

	b.setOffline(false)
	r.tick(ctx)
	if r.ConversationID() == "" {
		t.Fatal("tick did not retry resolution")
	}
	if v.title != "Gophers" || len(v.members) != 2 {
		t.Fatalf("header = %q members = %v", v.title, v.members)
	}
}

func TestResolveWithoutTarget(t *testing.T) {
	r, _ := newRoom(t, newFakeBackend(), ada, TargetFromQuery(url.Values{}))
	if _, err := r.Resolve(context.Background()); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("err = %v, want ErrNoTarget", err)
	}
}

func TestLoadTagsMine(t *testing.T) {
	b := newFakeBackend()
	r, v := newRoom(t, b, ada, PrivateTarget("u2"))
	ctx := context.Background()
	id, _ := r.Resolve(ctx)

	b.deliver(id, model.Message{SenderID: "u2", Text: "hi ada"})
	b.deliver(id, model.Message{SenderID: "u1", Text: "hi grace"})
	if err := r.Load(ctx); err != nil {
		t.Fatal(err)
	}

	got := v.snapshot()
	if len(got) != 2 {
		t.Fatalf("rendered %d entries, want 2", len(got))
	}
	for _, e := range got {
		if e.Mine != (e.SenderID == ada.ID) {
			t.Errorf("entry from %s Mine = %v", e.SenderID, e.Mine)
		}
	}
}

func TestLoadOrdersByTimestamp(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	b := &scriptedBackend{fakeBackend: newFakeBackend(), messages: []model.Message{
		{ID: "3", SenderID: "u2", Text: "third", Timestamp: base.Add(3 * time.Minute)},
		{ID: "1", SenderID: "u2", Text: "first", Timestamp: base.Add(time.Minute)},
		{ID: "2", SenderID: "u1", Text: "second", Timestamp: base.Add(2 * time.Minute)},
	}}
	r, v := newRoom(t, b, ada, PrivateTarget("u2"))
	ctx := context.Background()
	r.Resolve(ctx)
	if err := r.Load(ctx); err != nil {
		t.Fatal(err)
	}
	got := v.snapshot()
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Text != want {
			t.Fatalf("entry %d = %q, want %q", i, got[i].Text, want)
		}
	}
}

type scriptedBackend struct {
	*fakeBackend
	messages []model.Message
}

func (s *scriptedBackend) GetMessages(ctx context.Context, addr model.Address) ([]model.Message, error) {
	return s.messages, nil
}

func TestLoadEmptyState(t *testing.T) {
	b := newFakeBackend()
	r, v := newRoom(t, b, ada, PrivateTarget("u2"))
	ctx := context.Background()
	if err := r.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if !v.empty || v.empties != 1 {
		t.Fatalf("empty = %v empties = %d, want explicit empty state", v.empty, v.empties)
	}
	if _, _, send := b.counts(); send != 0 {
		t.Fatalf("send calls = %d", send)
	}
	if r.poller.Active() != 1 {
		t.Fatal("poll not scheduled after empty load")
	}
}

func TestLoadErrorShowsErrorState(t *testing.T) {
	b := newFakeBackend()
	r, v := newRoom(t, b, ada, PrivateTarget("u2"))
	ctx := context.Background()
	r.Resolve(ctx)

	b.setOffline(true)
	if err := r.Load(ctx); !errors.Is(err, errOffline) {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(v.err, errOffline) {
		t.Fatalf("view error = %v", v.err)
	}
}

func TestSendRejectsBlank(t *testing.T) {
	b := newFakeBackend()
	r, v := newRoom(t, b, ada, PrivateTarget("u2"))
	ctx := context.Background()
	r.Resolve(ctx)

	for _, text := range []string{"", "   ", "\n\t "} {
		if err := r.Send(ctx, text); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("Send(%q) err = %v", text, err)
		}
	}
	if _, _, send := b.counts(); send != 0 {
		t.Fatalf("send calls = %d, want 0", send)
	}
	if v.appends != 0 {
		t.Fatalf("optimistic renders = %d, want 0", v.appends)
	}
}

func TestSendConfirms(t *testing.T) {
	b := newFakeBackend()
	r, v := newRoom(t, b, ada, PrivateTarget("u2"))
	ctx := context.Background()
	r.Resolve(ctx)

	if err := r.Send(ctx, "  hello  "); err != nil {
		t.Fatal(err)
	}
	got := v.snapshot()
	if len(got) != 1 {
		t.Fatalf("shown %d entries, want 1", len(got))
	}
	e := got[0]
	if e.Text != "hello" || !e.Mine || e.Status != StatusConfirmed || e.ID == "" {
		t.Fatalf("entry = %+v", e)
	}
	if v.appends != 1 {
		t.Fatalf("appends = %d", v.appends)
	}
}

func TestSendOfflineKeepsFailedEntry(t *testing.T) {
	b := newFakeBackend()
	r, v := newRoom(t, b, ada, PrivateTarget("u2"))
	ctx := context.Background()
	id, _ := r.Resolve(ctx)

	b.setOffline(true)
	if err := r.Send(ctx, "hi"); !errors.Is(err, errOffline) {
		t.Fatalf("Send err = %v", err)
	}
	got := v.snapshot()
	if len(got) != 1 {
		t.Fatalf("shown %d entries, want the optimistic one", len(got))
	}
	if e := got[0]; e.SenderID != "u1" || e.Text != "hi" || !e.Mine || e.Status != StatusFailed {
		t.Fatalf("entry = %+v", e)
	}

	// the message reached the backend after all (sent from another device)
	b.setOffline(false)
	b.deliver(id, model.Message{SenderID: "u1", Text: "hi"})
	if err := r.Load(ctx); err != nil {
		t.Fatal(err)
	}
	got = v.snapshot()
	if len(got) != 1 || got[0].Status != StatusConfirmed || got[0].Text != "hi" || got[0].SenderID != "u1" {
		t.Fatalf("after reload = %+v", got)
	}
}

func TestSendWithoutEchoedClientID(t *testing.T) {
	b := newFakeBackend()
	b.echoClientIDs = false
	r, v := newRoom(t, b, ada, PrivateTarget("u2"))
	ctx := context.Background()
	r.Resolve(ctx)

	for _, text := range []string{"same", "same"} {
		if err := r.Send(ctx, text); err != nil {
			t.Fatal(err)
		}
	}
	got := v.snapshot()
	if len(got) != 2 {
		t.Fatalf("shown %d entries, want 2: %+v", len(got), got)
	}
	for _, e := range got {
		if e.Status != StatusConfirmed {
			t.Fatalf("entry left unreconciled: %+v", e)
		}
	}
}

func TestUnmatchedIgnoresOldCopies(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	local := []pending{{Entry: Entry{Message: model.Message{SenderID: "u1", Text: "ok", ClientID: "c1", Timestamp: now}, Status: StatusFailed}}}
	confirmed := []model.Message{{ID: "1", SenderID: "u1", Text: "ok", Timestamp: now.Add(-time.Hour)}}

	if got := unmatched(local, confirmed); len(got) != 1 {
		t.Fatalf("hour-old message reconciled a fresh entry: %+v", got)
	}
	confirmed = append(confirmed, model.Message{ID: "2", SenderID: "u1", Text: "ok", Timestamp: now.Add(time.Second)})
	if got := unmatched(local, confirmed); len(got) != 0 {
		t.Fatalf("fresh copy not matched: %+v", got)
	}
}

func TestUnmatchedIgnoresCopiesListedBeforeSend(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	local := []pending{{
		Entry: Entry{Message: model.Message{SenderID: "u1", Text: "ok", ClientID: "c1", Timestamp: now}, Status: StatusFailed},
		prior: map[string]bool{"7": true},
	}}
	confirmed := []model.Message{{ID: "7", SenderID: "u1", Text: "ok", Timestamp: now.Add(-20 * time.Second)}}

	got := unmatched(local, confirmed)
	if len(got) != 1 || got[0].Status != StatusFailed {
		t.Fatalf("earlier message reconciled the failed entry: %+v", got)
	}
	confirmed = append(confirmed, model.Message{ID: "8", SenderID: "u1", Text: "ok", Timestamp: now.Add(-20 * time.Second)})
	if got := unmatched(local, confirmed); len(got) != 0 {
		t.Fatalf("copy stored after the send not matched: %+v", got)
	}
}

func TestFailedSendSurvivesEarlierSameText(t *testing.T) {
	b := newFakeBackend()
	b.echoClientIDs = false
	r, v := newRoom(t, b, ada, PrivateTarget("u2"))
	ctx := context.Background()
	id, _ := r.Resolve(ctx)

	b.deliver(id, model.Message{SenderID: "u1", Text: "ok"})
	if err := r.Load(ctx); err != nil {
		t.Fatal(err)
	}
	b.setOffline(true)
	if err := r.Send(ctx, "ok"); !errors.Is(err, errOffline) {
		t.Fatalf("Send err = %v", err)
	}
	b.setOffline(false)
	if err := r.Load(ctx); err != nil {
		t.Fatal(err)
	}

	got := v.snapshot()
	if len(got) != 2 {
		t.Fatalf("shown %d entries, want the old copy and the failed send: %+v", len(got), got)
	}
	if got[0].Status != StatusConfirmed || got[1].Status != StatusFailed || got[1].Text != "ok" {
		t.Fatalf("entries = %+v", got)
	}
}

func TestLoadBreaksTimestampTiesByID(t *testing.T) {
	b := newFakeBackend()
	r, v := newRoom(t, b, ada, PrivateTarget("u2"))
	ctx := context.Background()
	id, _ := r.Resolve(ctx)

	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b.mu.Lock()
	b.messages[id] = []model.Message{
		{ID: "100", ConversationID: id, SenderID: "u2", Text: "later id", Timestamp: ts},
		{ID: "99", ConversationID: id, SenderID: "u2", Text: "earlier id", Timestamp: ts},
		{ID: "5", ConversationID: id, SenderID: "u2", Text: "last", Timestamp: ts.Add(time.Second)},
	}
	b.mu.Unlock()
	if err := r.Load(ctx); err != nil {
		t.Fatal(err)
	}

	var ids []string
	for _, e := range v.snapshot() {
		ids = append(ids, e.ID)
	}
	if got := strings.Join(ids, ","); got != "99,100,5" {
		t.Fatalf("order = %s", got)
	}
}

func TestTickSkipsWhileLoading(t *testing.T) {
	b := newFakeBackend()
	r, _ := newRoom(t, b, ada, PrivateTarget("u2"))
	ctx := context.Background()
	r.Resolve(ctx)

	b.mu.Lock()
	b.getDelay = 100 * time.Millisecond
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.Load(ctx)
		close(done)
	}()
	// wait until the slow load has reached the backend
	deadline := time.Now().Add(time.Second)
	for {
		if _, get, _ := b.counts(); get == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("load never reached backend")
		}
		time.Sleep(time.Millisecond)
	}
	r.tick(ctx)
	<-done

	if _, get, _ := b.counts(); get != 1 {
		t.Fatalf("get calls = %d, want the tick skipped", get)
	}
}

func TestOpenPollsAndCloses(t *testing.T) {
	b := newFakeBackend()
	v := &recordingView{}
	r, err := NewRoom(b, ada, PrivateTarget("u2"), v, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if v.title != "Grace Hopper" {
		t.Fatalf("title = %q", v.title)
	}
	time.Sleep(60 * time.Millisecond)
	r.Close()

	_, get, _ := b.counts()
	if get < 2 {
		t.Fatalf("get calls = %d, want initial load plus polls", get)
	}
	time.Sleep(30 * time.Millisecond)
	if _, after, _ := b.counts(); after != get {
		t.Fatalf("polling continued after Close: %d -> %d", get, after)
	}
}
