package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/abelhavalos/contacts/pkg/auth"
	"github.com/abelhavalos/contacts/pkg/backend"
	"github.com/abelhavalos/contacts/pkg/chat"
	"github.com/abelhavalos/contacts/pkg/model"
	"github.com/abelhavalos/contacts/pkg/snowflake"
	"github.com/abelhavalos/contacts/pkg/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []model.Update
}

func (p *recordingPublisher) Publish(_ context.Context, u model.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) all() []model.Update {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Update(nil), p.updates...)
}

type harness struct {
	t          *testing.T
	url        string
	store      *store.MemoryStore
	pub        *recordingPublisher
	addressing model.Addressing
}

func newHarness(t *testing.T, addressing model.Addressing) *harness {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatal(err)
	}
	st := store.NewMemoryStore()
	pub := &recordingPublisher{}
	srv := NewServer(st, auth.NewSigner("test-secret", time.Hour), node, pub, addressing)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &harness{t: t, url: ts.URL, store: st, pub: pub, addressing: addressing}
}

func (h *harness) client() *backend.Client {
	return backend.NewClient(h.url, backend.WithAddressing(h.addressing))
}

// signup registers a user and returns a client authenticated as them.
func (h *harness) signup(name, email string) (*backend.Client, model.User) {
	h.t.Helper()
	c := h.client()
	res, err := c.Signup(context.Background(), name, email)
	if err != nil {
		h.t.Fatalf("Signup(%s): %v", email, err)
	}
	if res.Token == "" {
		h.t.Fatal("signup returned no token")
	}
	c.SetToken(res.Token)
	return c, res.User
}

func TestSignupAndLogin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.AddressByConversation)
	_, ada := h.signup("Ada Lovelace", "ada@example.com")

	if _, err := h.client().Signup(ctx, "Imposter", "ADA@example.com"); !errors.Is(err, backend.ErrRejected) {
		t.Fatalf("duplicate signup err = %v", err)
	}
	if _, err := h.client().Signup(ctx, "No Mail", "not-an-address"); !errors.Is(err, backend.ErrRejected) {
		t.Fatalf("bad email err = %v", err)
	}
	if _, err := h.client().Login(ctx, "nobody@example.com"); !errors.Is(err, backend.ErrRejected) {
		t.Fatalf("unknown login err = %v", err)
	}

	res, err := h.client().Login(ctx, " ada@example.com")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.User.ID != ada.ID || res.Token == "" {
		t.Fatalf("login = %+v", res)
	}
}

func TestTransportErrors(t *testing.T) {
	h := newHarness(t, model.AddressByConversation)

	if _, err := h.client().GetEvents(context.Background()); !errors.Is(err, backend.ErrTransport) {
		t.Fatalf("unauthenticated call err = %v", err)
	}

	bad := backend.NewClient(h.url, backend.WithToken("garbage"))
	if _, err := bad.GetCommunities(context.Background()); !errors.Is(err, backend.ErrTransport) {
		t.Fatalf("bad token err = %v", err)
	}

	for body, want := range map[string]int{
		"{":                    http.StatusBadRequest,
		`{"module":"explode"}`: http.StatusBadRequest,
	} {
		resp, err := http.Post(h.url, "text/plain", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("POST %s = %d, want %d", body, resp.StatusCode, want)
		}
	}

	req, _ := http.NewRequest(http.MethodOptions, h.url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight headers = %v", resp.Header)
	}
}

func TestDMConversationAndContacts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.AddressByConversation)
	adaClient, ada := h.signup("Ada", "ada@example.com")
	bobClient, bob := h.signup("Bob", "bob@example.com")
	eveClient, _ := h.signup("Eve", "eve@example.com")

	fromAda, err := adaClient.GetOrCreateDMConversation(ctx, ada.ID, bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	fromBob, err := bobClient.GetOrCreateDMConversation(ctx, bob.ID, ada.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fromAda != fromBob {
		t.Fatalf("pair resolved to %s and %s", fromAda, fromBob)
	}

	if _, err := eveClient.GetOrCreateDMConversation(ctx, ada.ID, bob.ID); !errors.Is(err, backend.ErrRejected) {
		t.Fatalf("outsider resolve err = %v", err)
	}
	if _, err := eveClient.GetMessages(ctx, model.Address{ConversationID: fromAda}); !errors.Is(err, backend.ErrRejected) {
		t.Fatalf("outsider read err = %v", err)
	}
	if _, err := adaClient.GetOrCreateDMConversation(ctx, ada.ID, "ghost"); !errors.Is(err, backend.ErrRejected) {
		t.Fatalf("unknown other party err = %v", err)
	}

	contacts, err := adaClient.GetContacts(ctx, ada.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 1 || contacts[0].ContactID != bob.ID {
		t.Fatalf("contacts = %+v", contacts)
	}
	if _, err := eveClient.GetContacts(ctx, ada.ID); !errors.Is(err, backend.ErrRejected) {
		t.Fatalf("foreign contacts err = %v", err)
	}

	members, err := bobClient.GetConversationMembers(ctx, fromAda)
	if err != nil || len(members) != 2 {
		t.Fatalf("members = %+v, %v", members, err)
	}
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.AddressByConversation)
	adaClient, ada := h.signup("Ada", "ada@example.com")
	_, bob := h.signup("Bob", "bob@example.com")

	convID, err := adaClient.GetOrCreateDMConversation(ctx, ada.ID, bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	addr := model.Address{ConversationID: convID}

	if _, err := adaClient.SendMessage(ctx, addr, model.Message{SenderID: bob.ID, Text: "forged"}); !errors.Is(err, backend.ErrRejected) {
		t.Fatalf("forged sender err = %v", err)
	}
	if _, err := adaClient.SendMessage(ctx, addr, model.Message{SenderID: ada.ID, Text: "   "}); !errors.Is(err, backend.ErrRejected) {
		t.Fatalf("blank text err = %v", err)
	}

	first, err := adaClient.SendMessage(ctx, addr, model.Message{SenderID: ada.ID, Text: " hi Bob ", ClientID: "c-1"})
	if err != nil {
		t.Fatal(err)
	}
	if first == nil || first.ID == "" || first.Text != "hi Bob" || first.ClientID != "c-1" || first.SenderName != "Ada" {
		t.Fatalf("echo = %+v", first)
	}
	retry, err := adaClient.SendMessage(ctx, addr, model.Message{SenderID: ada.ID, Text: "hi Bob", ClientID: "c-1"})
	if err != nil {
		t.Fatal(err)
	}
	if retry.ID != first.ID {
		t.Fatalf("retry stored a second copy: %s vs %s", retry.ID, first.ID)
	}
	if _, err := adaClient.SendMessage(ctx, addr, model.Message{SenderID: ada.ID, Text: "second", ClientID: "c-2"}); err != nil {
		t.Fatal(err)
	}

	msgs, err := adaClient.GetMessages(ctx, addr)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Text != "hi Bob" || msgs[1].Text != "second" {
		t.Fatalf("messages = %+v", msgs)
	}

	updates := h.pub.all()
	if len(updates) != 2 || updates[0].ConversationID != convID || updates[0].MessageID != first.ID {
		t.Fatalf("updates = %+v", updates)
	}
}

func TestCommunityConversation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.AddressByConversation)
	if err := h.store.PutCommunity(ctx, model.Community{ID: "garden", Name: "Gardening"}); err != nil {
		t.Fatal(err)
	}
	adaClient, ada := h.signup("Ada", "ada@example.com")
	bobClient, bob := h.signup("Bob", "bob@example.com")

	if _, err := adaClient.GetOrCreateCommunityConversation(ctx, "nowhere", ada.ID); !errors.Is(err, backend.ErrRejected) {
		t.Fatalf("unknown community err = %v", err)
	}
	if _, err := adaClient.GetOrCreateCommunityConversation(ctx, "garden", bob.ID); !errors.Is(err, backend.ErrRejected) {
		t.Fatalf("joining for someone else err = %v", err)
	}

	c1, err := adaClient.GetOrCreateCommunityConversation(ctx, "garden", ada.ID)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := bobClient.GetOrCreateCommunityConversation(ctx, "garden", bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if c1 != c2 {
		t.Fatalf("community resolved to %s and %s", c1, c2)
	}

	members, err := adaClient.GetCommunityMembers(ctx, "garden")
	if err != nil || len(members) != 2 {
		t.Fatalf("community members = %+v, %v", members, err)
	}
	community, err := bobClient.GetCommunity(ctx, "garden")
	if err != nil || community.Name != "Gardening" {
		t.Fatalf("community = %+v, %v", community, err)
	}
}

func TestParticipantsAddressing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.AddressByParticipants)
	adaClient, ada := h.signup("Ada", "ada@example.com")
	bobClient, bob := h.signup("Bob", "bob@example.com")

	toBob := model.Address{Mode: model.ModePrivate, UserID: ada.ID, OtherID: bob.ID}
	if _, err := adaClient.SendMessage(ctx, toBob, model.Message{SenderID: ada.ID, Text: "by pair"}); err != nil {
		t.Fatal(err)
	}
	msgs, err := bobClient.GetMessages(ctx, model.Address{Mode: model.ModePrivate, UserID: bob.ID, OtherID: ada.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Text != "by pair" {
		t.Fatalf("messages = %+v", msgs)
	}

	forged := model.Address{Mode: model.ModePrivate, UserID: bob.ID, OtherID: ada.ID}
	if _, err := adaClient.GetMessages(ctx, forged); !errors.Is(err, backend.ErrRejected) {
		t.Fatalf("forged userId err = %v", err)
	}
	if _, err := adaClient.GetMessages(ctx, model.Address{Mode: model.ModePrivate, UserID: ada.ID}); !errors.Is(err, backend.ErrRejected) {
		t.Fatalf("missing other party err = %v", err)
	}

	// a conversation id alone means nothing on a participants deployment
	byID := backend.NewClient(h.url, backend.WithToken(mustLogin(t, h, "ada@example.com")))
	if _, err := byID.GetMessages(ctx, model.Address{ConversationID: "whatever"}); !errors.Is(err, backend.ErrRejected) {
		t.Fatalf("conversation id addressing err = %v", err)
	}
}

func mustLogin(t *testing.T, h *harness, email string) string {
	t.Helper()
	res, err := h.client().Login(context.Background(), email)
	if err != nil {
		t.Fatal(err)
	}
	return res.Token
}

type capturingView struct {
	mu      sync.Mutex
	title   string
	entries []chat.Entry
	empty   bool
	err     error
}

func (v *capturingView) SetTitle(title string) {
	v.mu.Lock()
	v.title = title
	v.mu.Unlock()
}

func (v *capturingView) SetMembers([]model.User) {}

func (v *capturingView) Render(entries []chat.Entry) {
	v.mu.Lock()
	v.entries = append([]chat.Entry(nil), entries...)
	v.empty = false
	v.mu.Unlock()
}

func (v *capturingView) Append(e chat.Entry) {
	v.mu.Lock()
	v.entries = append(v.entries, e)
	v.mu.Unlock()
}

func (v *capturingView) ShowEmpty() {
	v.mu.Lock()
	v.entries = nil
	v.empty = true
	v.mu.Unlock()
}

func (v *capturingView) ShowError(err error) {
	v.mu.Lock()
	v.err = err
	v.mu.Unlock()
}

func (v *capturingView) snapshot() (string, []chat.Entry, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.title, append([]chat.Entry(nil), v.entries...), v.empty, v.err
}

func TestRoomsOverHTTP(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.AddressByConversation)
	adaClient, ada := h.signup("Ada Lovelace", "ada@example.com")
	bobClient, bob := h.signup("Bob Byte", "bob@example.com")

	adaSession := model.NewSession(ada, "")
	adaView := &capturingView{}
	adaRoom, err := chat.NewRoom(adaClient, &adaSession, chat.PrivateTarget(bob.ID), adaView, chat.WithInterval(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if err := adaRoom.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer adaRoom.Close()

	title, _, empty, _ := adaView.snapshot()
	if title != "Bob Byte" || !empty {
		t.Fatalf("fresh room title=%q empty=%v", title, empty)
	}

	if err := adaRoom.Send(ctx, "  hello Bob  "); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_, entries, _, viewErr := adaView.snapshot()
	if viewErr != nil {
		t.Fatalf("view error: %v", viewErr)
	}
	if len(entries) != 1 || !entries[0].Mine || entries[0].Status != chat.StatusConfirmed || entries[0].Text != "hello Bob" {
		t.Fatalf("sender entries = %+v", entries)
	}

	bobSession := model.NewSession(bob, "")
	bobView := &capturingView{}
	bobRoom, err := chat.NewRoom(bobClient, &bobSession, chat.PrivateTarget(ada.ID), bobView, chat.WithInterval(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if err := bobRoom.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer bobRoom.Close()

	if bobRoom.ConversationID() != adaRoom.ConversationID() {
		t.Fatalf("rooms on %s and %s", bobRoom.ConversationID(), adaRoom.ConversationID())
	}
	_, entries, _, _ = bobView.snapshot()
	if len(entries) != 1 || entries[0].Mine || entries[0].SenderName != "Ada Lovelace" {
		t.Fatalf("receiver entries = %+v", entries)
	}
}
