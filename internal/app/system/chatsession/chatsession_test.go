package chatsession_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	userstore "github.com/dalemusser/chatdesk/internal/app/store/users"
	"github.com/dalemusser/chatdesk/internal/app/system/chatsession"
	"github.com/dalemusser/chatdesk/internal/app/system/pubsub"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// memThreads is an in-memory ThreadStore with a settable failure. Appends
// by a held sender wait until the hold is released.
type memThreads struct {
	mu      sync.Mutex
	threads map[string][]models.ChatMessage
	clock   time.Time
	fail    error
	appends int
	hold    map[models.Sender]chan struct{}
}

func newMemThreads() *memThreads {
	return &memThreads{
		threads: map[string][]models.ChatMessage{},
		clock:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		hold:    map[models.Sender]chan struct{}{},
	}
}

// holdSender makes appends by sender block until the returned func is called.
func (s *memThreads) holdSender(sender models.Sender) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.hold[sender] = ch
	s.mu.Unlock()
	return func() { close(ch) }
}

func (s *memThreads) Append(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	s.mu.Lock()
	held := s.hold[msg.Sender]
	s.mu.Unlock()
	if held != nil {
		select {
		case <-held:
		case <-ctx.Done():
			return models.ChatMessage{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return models.ChatMessage{}, s.fail
	}
	s.appends++
	s.clock = s.clock.Add(time.Second)
	ts := s.clock
	msg.ID = primitive.NewObjectID()
	msg.Timestamp = &ts
	msg.LocalID = ""
	s.threads[msg.ThreadKey] = append(s.threads[msg.ThreadKey], msg)
	return msg, nil
}

func (s *memThreads) ListThread(_ context.Context, key string) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]models.ChatMessage{}, s.threads[key]...)
	models.SortChatMessages(out)
	return out, nil
}

func (s *memThreads) setFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *memThreads) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

type memDir struct {
	mu    sync.Mutex
	users []models.User
}

func (d *memDir) List(_ context.Context, _ userstore.ListFilter) ([]models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.User{}, d.users...), nil
}

func (d *memDir) add(u models.User) {
	d.mu.Lock()
	d.users = append(d.users, u)
	d.mu.Unlock()
}

type sendCounter struct {
	mu     sync.Mutex
	sent   map[string]int
	failed map[string]int
}

func (c *sendCounter) MessageSent(surface string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sent == nil {
		c.sent = map[string]int{}
	}
	c.sent[surface]++
}

func (c *sendCounter) SendFailed(surface, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed == nil {
		c.failed = map[string]int{}
	}
	c.failed[surface+"/"+reason]++
}

// waitSnapshot reads updates until ok accepts one.
func waitSnapshot(t *testing.T, ch <-chan chatsession.Snapshot, desc string, ok func(chatsession.Snapshot) bool) chatsession.Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s, open := <-ch:
			if !open {
				t.Fatalf("updates closed while waiting for %s", desc)
			}
			if ok(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", desc)
		}
	}
}

func assertSorted(t *testing.T, msgs []models.ChatMessage) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		if models.ChatMessageLess(msgs[i], msgs[i-1]) {
			t.Fatalf("messages out of order at %d: %+v", i, msgs)
		}
	}
}

func texts(msgs []models.ChatMessage) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Text
	}
	return strings.Join(parts, ",")
}

func TestPoster_Post(t *testing.T) {
	store := newMemThreads()
	broker := pubsub.NewMemory()
	defer broker.Close()
	rec := &sendCounter{}
	p := chatsession.NewPoster(store, broker, zap.NewNop())
	p.SetRecorder(rec)

	sub, err := broker.Subscribe(context.Background(), pubsub.ThreadTopic("a@x.com"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	msg, err := p.Post(context.Background(), "a@x.com", chatsession.UserAuthor(), "  Hello <b>there</b> ")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if msg.Text != "Hello there" || msg.Sender != models.SenderUser || msg.Timestamp == nil {
		t.Errorf("stored message = %+v", msg)
	}
	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Error("expected thread signal after post")
	}
	if rec.sent["user"] != 1 {
		t.Errorf("sent count = %v", rec.sent)
	}
}

func TestPoster_EmptyAndFailure(t *testing.T) {
	store := newMemThreads()
	rec := &sendCounter{}
	p := chatsession.NewPoster(store, nil, zap.NewNop())
	p.SetRecorder(rec)
	ctx := context.Background()

	for _, text := range []string{"", "   ", "\n\t", "<script>x</script>"} {
		if _, err := p.Post(ctx, "a@x.com", chatsession.UserAuthor(), text); !errors.Is(err, chatsession.ErrEmpty) {
			t.Errorf("Post(%q) err = %v, want ErrEmpty", text, err)
		}
	}
	if store.count() != 0 {
		t.Errorf("empty posts reached the store: %d", store.count())
	}

	if _, err := p.Post(ctx, "", chatsession.UserAuthor(), "hi"); !errors.Is(err, chatsession.ErrNoThread) {
		t.Errorf("missing thread err = %v", err)
	}

	store.setFail(errors.New("write rejected"))
	if _, err := p.Post(ctx, "a@x.com", chatsession.AdminAuthor("admin@x.com", ""), "hi"); err == nil {
		t.Error("expected append failure")
	}
	if rec.failed["admin/store"] != 1 {
		t.Errorf("failed counts = %v", rec.failed)
	}
}

func TestController_OpenLoadsAndFollowsThread(t *testing.T) {
	store := newMemThreads()
	broker := pubsub.NewMemory()
	defer broker.Close()
	p := chatsession.NewPoster(store, broker, zap.NewNop())
	ctx := context.Background()

	if _, err := p.Post(ctx, "a@x.com", chatsession.UserAuthor(), "first"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	c := chatsession.NewController(p, chatsession.UserAuthor(), zap.NewNop())
	defer c.Close()
	if err := c.Open(ctx, "a@x.com"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := texts(c.Messages()); got != "first" {
		t.Fatalf("initial messages = %q", got)
	}

	// An Admin reply through a separate poster shows up as the newest message.
	if _, err := p.Post(ctx, "a@x.com", chatsession.AdminAuthor("admin@x.com", ""), "reply"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	s := waitSnapshot(t, c.Updates(), "reply", func(s chatsession.Snapshot) bool { return len(s.Messages) == 2 })
	assertSorted(t, s.Messages)
	if last := s.Messages[len(s.Messages)-1]; last.Text != "reply" {
		t.Errorf("newest message = %q, want reply", last.Text)
	}
}

func TestController_SendClearsDraftOnSuccess(t *testing.T) {
	store := newMemThreads()
	broker := pubsub.NewMemory()
	defer broker.Close()
	p := chatsession.NewPoster(store, broker, zap.NewNop())
	ctx := context.Background()

	c := chatsession.NewController(p, chatsession.UserAuthor(), zap.NewNop())
	defer c.Close()
	if err := c.Open(ctx, "a@x.com"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	c.SetDraft("Hello")
	if err := c.Send(ctx); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if c.Draft() != "" {
		t.Errorf("draft = %q, want cleared", c.Draft())
	}
	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Text != "Hello" || msgs[0].Sender != models.SenderUser || msgs[0].Pending() {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].ThreadKey != "a@x.com" {
		t.Errorf("thread key = %q", msgs[0].ThreadKey)
	}

	// The thread signal from our own send must not duplicate the message.
	time.Sleep(50 * time.Millisecond)
	if n := len(c.Messages()); n != 1 {
		t.Errorf("messages after reload = %d, want 1", n)
	}
}

func TestController_PendingStaysLastWhileReplyLands(t *testing.T) {
	store := newMemThreads()
	broker := pubsub.NewMemory()
	defer broker.Close()
	p := chatsession.NewPoster(store, broker, zap.NewNop())
	ctx := context.Background()

	c := chatsession.NewController(p, chatsession.UserAuthor(), zap.NewNop())
	defer c.Close()
	if err := c.Open(ctx, "a@x.com"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	release := store.holdSender(models.SenderUser)
	c.SetDraft("mine")
	sent := make(chan error, 1)
	go func() { sent <- c.Send(ctx) }()

	waitSnapshot(t, c.Updates(), "pending message", func(s chatsession.Snapshot) bool {
		return texts(s.Messages) == "mine" && s.Messages[0].Pending()
	})

	if _, err := p.Post(ctx, "a@x.com", chatsession.AdminAuthor("admin@x.com", ""), "reply"); err != nil {
		t.Fatalf("Post reply: %v", err)
	}
	waitSnapshot(t, c.Updates(), "reply before pending", func(s chatsession.Snapshot) bool {
		return texts(s.Messages) == "reply,mine"
	})
	msgs := c.Messages()
	if texts(msgs) != "reply,mine" || !msgs[1].Pending() {
		t.Fatalf("mid-send messages = %+v", msgs)
	}
	if c.Draft() != "mine" {
		t.Errorf("draft cleared before the append confirmed: %q", c.Draft())
	}

	release()
	select {
	case err := <-sent:
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return")
	}
	msgs = c.Messages()
	if texts(msgs) != "reply,mine" || msgs[1].Pending() {
		t.Fatalf("messages after send = %+v", msgs)
	}
	assertSorted(t, msgs)
	if c.Draft() != "" {
		t.Errorf("draft = %q, want cleared", c.Draft())
	}
}

func TestController_EmptySendIsNoOp(t *testing.T) {
	store := newMemThreads()
	p := chatsession.NewPoster(store, nil, zap.NewNop())
	c := chatsession.NewController(p, chatsession.UserAuthor(), zap.NewNop())
	defer c.Close()
	ctx := context.Background()
	if err := c.Open(ctx, "a@x.com"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	for _, draft := range []string{"", "   ", "\t\n"} {
		c.SetDraft(draft)
		if err := c.Send(ctx); err != nil {
			t.Errorf("Send(%q): %v", draft, err)
		}
		if c.Draft() != draft {
			t.Errorf("draft changed: %q -> %q", draft, c.Draft())
		}
	}
	if store.count() != 0 || len(c.Messages()) != 0 {
		t.Errorf("empty sends created messages")
	}
}

func TestController_FailedSendKeepsDraftAndSetsNotice(t *testing.T) {
	store := newMemThreads()
	p := chatsession.NewPoster(store, nil, zap.NewNop())
	c := chatsession.NewController(p, chatsession.AdminAuthor("admin@x.com", ""), zap.NewNop())
	defer c.Close()
	ctx := context.Background()
	if err := c.Open(ctx, "a@x.com"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	store.setFail(errors.New("offline"))
	c.SetDraft("are you there?")
	if err := c.Send(ctx); err == nil {
		t.Fatal("expected send error")
	}
	if c.Draft() != "are you there?" {
		t.Errorf("draft = %q, want kept", c.Draft())
	}
	if c.Notice() != chatsession.NotSentNotice {
		t.Errorf("notice = %q", c.Notice())
	}
	if n := len(c.Messages()); n != 0 {
		t.Errorf("failed send left %d messages", n)
	}

	c.DismissNotice()
	if c.Notice() != "" {
		t.Error("notice not dismissed")
	}

	// Manual retry succeeds once the store recovers.
	store.setFail(nil)
	if err := c.Send(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if c.Draft() != "" || len(c.Messages()) != 1 {
		t.Errorf("retry: draft=%q messages=%d", c.Draft(), len(c.Messages()))
	}
}

func TestController_SendWithoutThread(t *testing.T) {
	p := chatsession.NewPoster(newMemThreads(), nil, zap.NewNop())
	c := chatsession.NewController(p, chatsession.UserAuthor(), zap.NewNop())
	defer c.Close()
	c.SetDraft("hi")
	if err := c.Send(context.Background()); !errors.Is(err, chatsession.ErrNoThread) {
		t.Errorf("err = %v, want ErrNoThread", err)
	}
}

func TestController_SwitchTearsDownPreviousThread(t *testing.T) {
	store := newMemThreads()
	broker := pubsub.NewMemory()
	defer broker.Close()
	p := chatsession.NewPoster(store, broker, zap.NewNop())
	ctx := context.Background()

	p.Post(ctx, "a@x.com", chatsession.UserAuthor(), "from a")
	p.Post(ctx, "b@x.com", chatsession.UserAuthor(), "from b")

	c := chatsession.NewController(p, chatsession.AdminAuthor("admin@x.com", ""), zap.NewNop())
	defer c.Close()
	if err := c.Open(ctx, "a@x.com"); err != nil {
		t.Fatalf("Open a: %v", err)
	}
	if err := c.Open(ctx, "b@x.com"); err != nil {
		t.Fatalf("Open b: %v", err)
	}
	if broker.Subscribers(pubsub.ThreadTopic("a@x.com")) != 0 {
		t.Error("subscription to previous thread still live")
	}
	if broker.Subscribers(pubsub.ThreadTopic("b@x.com")) != 1 {
		t.Error("expected one subscription to the selected thread")
	}

	p.Post(ctx, "a@x.com", chatsession.UserAuthor(), "late a")
	time.Sleep(50 * time.Millisecond)
	for _, m := range c.Messages() {
		if m.ThreadKey != "b@x.com" {
			t.Fatalf("message from another thread leaked: %+v", m)
		}
	}
	if c.ThreadKey() != "b@x.com" {
		t.Errorf("thread key = %q", c.ThreadKey())
	}
}

func TestController_CloseUnsubscribes(t *testing.T) {
	broker := pubsub.NewMemory()
	defer broker.Close()
	p := chatsession.NewPoster(newMemThreads(), broker, zap.NewNop())
	c := chatsession.NewController(p, chatsession.UserAuthor(), zap.NewNop())
	if err := c.Open(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	c.Close()
	c.Close()

	if n := broker.Subscribers(pubsub.ThreadTopic("a@x.com")); n != 0 {
		t.Errorf("subscribers after Close = %d", n)
	}
	if _, open := <-c.Updates(); open {
		// Drain a buffered snapshot, then expect closure.
		if _, open := <-c.Updates(); open {
			t.Error("updates not closed")
		}
	}
	if err := c.Open(context.Background(), "a@x.com"); !errors.Is(err, chatsession.ErrClosed) {
		t.Errorf("Open after Close err = %v", err)
	}
}

func TestAdminController_RosterListsEveryRecord(t *testing.T) {
	store := newMemThreads()
	broker := pubsub.NewMemory()
	defer broker.Close()
	p := chatsession.NewPoster(store, broker, zap.NewNop())
	dir := &memDir{users: []models.User{
		{ID: "u1", Name: "Ann", Email: "a@x.com", Role: models.RoleUser},
		{ID: "u2", Email: "admin@x.com", Role: models.RoleAdmin},
	}}

	a := chatsession.NewAdminController(p, dir, chatsession.AdminAuthor("Admin@X.com", ""), zap.NewNop())
	defer a.Close()
	ctx := context.Background()
	if err := a.OpenRoster(ctx); err != nil {
		t.Fatalf("OpenRoster: %v", err)
	}

	r := a.Roster()
	if len(r) != 2 {
		t.Fatalf("roster len = %d, want 2 (no messages needed)", len(r))
	}
	if r[0].Email != "a@x.com" || r[0].IsAdmin || r[0].IsMe {
		t.Errorf("entry 0 = %+v", r[0])
	}
	if r[1].Name != chatsession.AnonymousName || !r[1].IsAdmin || !r[1].IsMe {
		t.Errorf("entry 1 = %+v", r[1])
	}

	dir.add(models.User{ID: "u3", Name: "Cy", Email: "c@x.com", Role: models.RoleUser})
	if err := broker.Publish(ctx, pubsub.RosterTopic); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-a.RosterUpdates():
			if len(got) == 3 && got[2].ID == "u3" {
				return
			}
		case <-deadline:
			t.Fatal("roster did not pick up the new record")
		}
	}
}

func TestAdminController_SelectAndReply(t *testing.T) {
	store := newMemThreads()
	broker := pubsub.NewMemory()
	defer broker.Close()
	p := chatsession.NewPoster(store, broker, zap.NewNop())
	ctx := context.Background()

	user := chatsession.NewController(p, chatsession.UserAuthor(), zap.NewNop())
	defer user.Close()
	if err := user.Open(ctx, "a@x.com"); err != nil {
		t.Fatalf("user Open: %v", err)
	}
	user.SetDraft("Hello")
	if err := user.Send(ctx); err != nil {
		t.Fatalf("user Send: %v", err)
	}

	admin := chatsession.NewAdminController(p, &memDir{}, chatsession.AdminAuthor("admin@x.com", "https://img/a.png"), zap.NewNop())
	defer admin.Close()
	if err := admin.Select(ctx, "a@x.com"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	msgs := admin.Messages()
	if len(msgs) != 1 || msgs[0].Text != "Hello" || msgs[0].Sender != models.SenderUser {
		t.Fatalf("admin sees %+v", msgs)
	}

	admin.SetDraft("Hi, how can I help?")
	if err := admin.Send(ctx); err != nil {
		t.Fatalf("admin Send: %v", err)
	}

	s := waitSnapshot(t, user.Updates(), "admin reply", func(s chatsession.Snapshot) bool { return len(s.Messages) == 2 })
	assertSorted(t, s.Messages)
	view := chatsession.ForUserView(s.Messages)
	if view[1].From != chatsession.FromAdmin || view[1].Mine {
		t.Errorf("user view of admin reply = %+v", view[1])
	}
	if view[1].SenderEmail != "admin@x.com" || view[1].SenderAvatar != "https://img/a.png" {
		t.Errorf("admin reply attribution fields = %+v", view[1].ChatMessage)
	}
}

func TestForAdminView(t *testing.T) {
	msgs := []models.ChatMessage{
		{Sender: models.SenderUser, Text: "u"},
		{Sender: models.SenderAdmin, SenderEmail: "admin@x.com", Text: "mine"},
		{Sender: models.SenderAdmin, SenderEmail: "other@x.com", Text: "other"},
		{Sender: models.SenderAdmin, SenderEmail: "ADMIN@x.com", Text: "mine-case"},
	}
	tests := []struct {
		from chatsession.Attribution
		mine bool
	}{
		{chatsession.FromUser, false},
		{chatsession.FromMe, true},
		{chatsession.FromOtherAdmin, false},
		{chatsession.FromMe, true},
	}
	got := chatsession.ForAdminView(msgs, "admin@x.com")
	for i, tt := range tests {
		if got[i].From != tt.from || got[i].Mine != tt.mine {
			t.Errorf("%s: from=%q mine=%v, want %q %v", msgs[i].Text, got[i].From, got[i].Mine, tt.from, tt.mine)
		}
	}
}

func TestForUserView(t *testing.T) {
	got := chatsession.ForUserView([]models.ChatMessage{
		{Sender: models.SenderUser},
		{Sender: models.SenderAdmin, SenderEmail: "admin@x.com"},
	})
	if got[0].From != chatsession.FromMe || !got[0].Mine {
		t.Errorf("user message = %+v", got[0])
	}
	if got[1].From != chatsession.FromAdmin || got[1].Mine {
		t.Errorf("admin message = %+v", got[1])
	}
}
