package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/abelhavalos/contacts/pkg/backend"
	"github.com/abelhavalos/contacts/pkg/chat"
	"github.com/abelhavalos/contacts/pkg/config"
	"github.com/abelhavalos/contacts/pkg/model"
	"github.com/abelhavalos/contacts/pkg/notify"
	"github.com/abelhavalos/contacts/pkg/session"
)

type app struct {
	api      *backend.Client
	sessions session.Store
	gateway  string
	interval time.Duration
	out      io.Writer
	in       io.Reader
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: contacts [flags] <command> [args]

commands:
  signup -name NAME -email EMAIL
  login -email EMAIL
  logout
  whoami
  contacts
  communities
  members -community ID
  events
  profile [-user ID]
  chat (-community ID | -user ID | -otherId ID)

flags:
`)
	flag.PrintDefaults()
}

func main() {
	config.Load()
	apiURL := flag.String("api", config.GetEnv("CONTACTS_API_URL", "http://localhost:8081"), "backend API url")
	gatewayURL := flag.String("gateway", config.GetEnv("CONTACTS_GATEWAY_URL", ""), "gateway websocket url, e.g. ws://localhost:8080/ws (empty: poll only)")
	sessionPath := flag.String("session", config.GetEnv("CONTACTS_SESSION", session.DefaultPath()), "session file")
	redisAddr := flag.String("redis", config.GetEnv("REDIS_ADDR", ""), "keep the session in redis at this address instead of a file")
	profile := flag.String("profile", "default", "session profile name when using redis")
	addressing := flag.String("addressing", string(model.AddressByConversation), "conversation addressing: conversation or participants")
	interval := flag.Duration("interval", config.GetEnvDuration("POLL_INTERVAL", chat.DefaultInterval), "chat refresh interval")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = usage
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	config.SetupLogging(os.Stderr, level, true)

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	mode, err := parseAddressing(*addressing)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	var store session.Store
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer rdb.Close()
		store = session.NewRedisStore(rdb, *profile, 0)
	} else {
		store = session.NewFileStore(*sessionPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{
		api:      backend.NewClient(*apiURL, backend.WithAddressing(mode)),
		sessions: store,
		gateway:  *gatewayURL,
		interval: *interval,
		out:      os.Stdout,
		in:       os.Stdin,
	}
	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			fmt.Fprintln(os.Stderr, "not logged in; run `contacts login -email ...` first")
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func parseAddressing(s string) (model.Addressing, error) {
	mode := model.Addressing(s)
	if !mode.Valid() {
		return "", fmt.Errorf("-addressing must be %s or %s, got %q", model.AddressByConversation, model.AddressByParticipants, s)
	}
	return mode, nil
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "signup":
		return a.signup(ctx, args)
	case "login":
		return a.login(ctx, args)
	case "logout":
		return a.sessions.Clear(ctx)
	case "whoami":
		return a.whoami(ctx)
	case "contacts":
		return a.contacts(ctx)
	case "communities":
		return a.communities(ctx)
	case "members":
		return a.members(ctx, args)
	case "events":
		return a.events(ctx)
	case "profile":
		return a.profile(ctx, args)
	case "chat":
		return a.chat(ctx, args)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// me loads the session and authenticates the API client with it.
func (a *app) me(ctx context.Context) (*model.Session, error) {
	s, err := session.Require(ctx, a.sessions)
	if err != nil {
		return nil, err
	}
	a.api.SetToken(s.Token)
	return s, nil
}

func (a *app) remember(ctx context.Context, res *backend.AuthResult) error {
	s := model.NewSession(res.User, res.Token)
	if err := a.sessions.Save(ctx, s); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "logged in as %s <%s>\n", s.FullName, s.Email)
	return nil
}

func (a *app) signup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	name := fs.String("name", "", "full name")
	email := fs.String("email", "", "email address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *email == "" {
		return errors.New("signup needs -name and -email")
	}
	res, err := a.api.Signup(ctx, *name, *email)
	if err != nil {
		return err
	}
	return a.remember(ctx, res)
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "email address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("login needs -email")
	}
	res, err := a.api.Login(ctx, *email)
	if err != nil {
		return err
	}
	return a.remember(ctx, res)
}

func (a *app) whoami(ctx context.Context) error {
	s, err := session.Require(ctx, a.sessions)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s <%s> (%s)\n", s.FullName, s.Email, s.ID)
	return nil
}

func (a *app) contacts(ctx context.Context) error {
	me, err := a.me(ctx)
	if err != nil {
		return err
	}
	contacts, err := a.api.GetContacts(ctx, me.ID)
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		fmt.Fprintln(a.out, "No contacts yet.")
	}
	for _, c := range contacts {
		fmt.Fprintf(a.out, "%-24s %-32s %s\n", c.FullName, c.Email, c.ContactID)
	}
	return nil
}

func (a *app) communities(ctx context.Context) error {
	if _, err := a.me(ctx); err != nil {
		return err
	}
	communities, err := a.api.GetCommunities(ctx)
	if err != nil {
		return err
	}
	for _, c := range communities {
		fmt.Fprintf(a.out, "%-16s %s\n    %s\n", c.ID, c.Name, c.Description)
	}
	return nil
}

func (a *app) members(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("members", flag.ContinueOnError)
	community := fs.String("community", "", "community id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *community == "" {
		return errors.New("members needs -community")
	}
	if _, err := a.me(ctx); err != nil {
		return err
	}
	members, err := a.api.GetCommunityMembers(ctx, *community)
	if err != nil {
		return err
	}
	for _, m := range members {
		fmt.Fprintf(a.out, "%-24s %s\n", m.FullName, m.ID)
	}
	return nil
}

func (a *app) events(ctx context.Context) error {
	if _, err := a.me(ctx); err != nil {
		return err
	}
	events, err := a.api.GetEvents(ctx)
	if err != nil {
		return err
	}
	for _, e := range events {
		fmt.Fprintf(a.out, "%s  %s @ %s\n    %s\n", e.Date, e.Title, e.Location, e.Description)
	}
	return nil
}

func (a *app) profile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ContinueOnError)
	userID := fs.String("user", "", "user id (default: yourself)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	me, err := a.me(ctx)
	if err != nil {
		return err
	}
	id := *userID
	if id == "" {
		id = me.ID
	}
	u, p, err := a.api.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s <%s>\n", u.FullName, u.Email)
	for _, field := range [][2]string{{"bio", p.Bio}, {"location", p.Location}, {"phone", p.Phone}} {
		if field[1] != "" {
			fmt.Fprintf(a.out, "  %-9s %s\n", field[0]+":", field[1])
		}
	}
	return nil
}

// chatTarget reads the navigation flags the same way the web client read its
// query string.
func chatTarget(args []string) (chat.Target, error) {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	community := fs.String(chat.ParamCommunity, "", "community id")
	user := fs.String("user", "", "other user id")
	otherID := fs.String("otherId", "", "other user id")
	if err := fs.Parse(args); err != nil {
		return chat.Target{}, err
	}
	q := url.Values{}
	for key, v := range map[string]string{chat.ParamCommunity: *community, "user": *user, "otherId": *otherID} {
		if v != "" {
			q.Set(key, v)
		}
	}
	return chat.TargetFromQuery(q), nil
}

func (a *app) chat(ctx context.Context, args []string) error {
	target, err := chatTarget(args)
	if err != nil {
		return err
	}
	me, err := a.me(ctx)
	if err != nil {
		return err
	}

	view := newTerminal(a.out, a.out == io.Writer(os.Stdout))
	room, err := chat.NewRoom(a.api, me, target, view, chat.WithInterval(a.interval))
	if err != nil {
		return err
	}
	if err := room.Open(ctx); err != nil {
		if errors.Is(err, chat.ErrNoTarget) {
			room.Close()
			return errors.New("chat needs -community, -user or -otherId")
		}
		// polling keeps retrying resolution
		fmt.Fprintf(a.out, "Could not open the conversation yet: %v\n", err)
	}
	defer room.Close()

	if a.gateway != "" {
		go a.watch(ctx, room, me.Token)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.TrimSpace(line) {
			case "/quit":
				return nil
			case "/reload":
				_ = room.Load(ctx)
				continue
			}
			if err := room.Send(ctx, line); err != nil && !errors.Is(err, chat.ErrEmptyMessage) {
				log.Debug().Err(err).Msg("send")
			}
		}
	}
}

// watch nudges the room whenever the gateway reports a change. It waits for
// the conversation to resolve first.
func (a *app) watch(ctx context.Context, room *chat.Room, token string) {
	t := time.NewTicker(a.interval)
	defer t.Stop()
	for room.ConversationID() == "" {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
	notify.NewSubscriber(a.gateway, token).Watch(ctx, room.ConversationID(), func(model.Update) {
		room.Nudge()
	})
}
