package chatsession

import (
	"context"
	"sync"

	userstore "github.com/dalemusser/chatdesk/internal/app/store/users"
	"github.com/dalemusser/chatdesk/internal/app/system/normalize"
	"github.com/dalemusser/chatdesk/internal/app/system/pubsub"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	"go.uber.org/zap"
)

// AnonymousName labels roster entries whose record has no name.
const AnonymousName = "Anonymous"

// Directory lists every known principal.
type Directory interface {
	List(ctx context.Context, f userstore.ListFilter) ([]models.User, error)
}

// RosterEntry is one selectable thread in the Admin inbox. Every directory
// record is listed whether or not its thread has any messages.
type RosterEntry struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	AvatarURL string      `json:"avatar,omitempty"`
	Role      models.Role `json:"role"`
	// IsAdmin marks entries whose stored role is exactly Admin.
	IsAdmin bool `json:"is_admin"`
	// IsMe marks the viewing Admin's own entry.
	IsMe bool `json:"is_me"`
}

// BuildRoster converts directory records, in directory order, into roster
// entries for the Admin whose email is me.
func BuildRoster(users []models.User, me string) []RosterEntry {
	me = normalize.Email(me)
	out := make([]RosterEntry, 0, len(users))
	for _, u := range users {
		name := u.Name
		if name == "" {
			name = AnonymousName
		}
		out = append(out, RosterEntry{
			ID:        u.ID,
			Name:      name,
			Email:     u.Email,
			AvatarURL: u.AvatarURL,
			Role:      u.Role,
			IsAdmin:   u.IsAdmin(),
			IsMe:      me != "" && normalize.Email(u.Email) == me,
		})
	}
	return out
}

// AdminController is a Controller plus a live roster of every directory
// record. The roster and the selected thread are independent
// subscriptions; selecting an entry opens its thread on the embedded
// Controller.
type AdminController struct {
	*Controller
	dir Directory

	rmu      sync.Mutex
	roster   []RosterEntry
	rgen     uint64
	rcancel  context.CancelFunc
	rdone    chan struct{}
	rclosed  bool
	rupdates chan []RosterEntry
}

// NewAdminController returns an Admin controller writing as admin.
func NewAdminController(poster *Poster, dir Directory, admin Author, logger *zap.Logger) *AdminController {
	return &AdminController{
		Controller: NewController(poster, admin, logger),
		dir:        dir,
		rupdates:   make(chan []RosterEntry, 1),
	}
}

// OpenRoster loads the roster and keeps it current. Calling it again
// restarts the subscription.
func (a *AdminController) OpenRoster(ctx context.Context) error {
	a.stopRoster()

	a.rmu.Lock()
	closed := a.rclosed
	a.rmu.Unlock()
	if closed {
		return ErrClosed
	}

	wctx, cancel := context.WithCancel(ctx)
	var sub pubsub.Subscription
	if a.poster.broker != nil {
		s, err := a.poster.broker.Subscribe(wctx, pubsub.RosterTopic)
		if err != nil {
			cancel()
			return err
		}
		sub = s
	}
	users, err := a.dir.List(wctx, userstore.ListFilter{})
	if err != nil {
		if sub != nil {
			sub.Close()
		}
		cancel()
		return err
	}

	done := make(chan struct{})
	a.rmu.Lock()
	a.rgen++
	gen := a.rgen
	a.roster = BuildRoster(users, a.author.Email)
	a.rcancel = cancel
	a.rdone = done
	a.emitRosterLocked()
	a.rmu.Unlock()

	go a.watchRoster(wctx, gen, sub, done)
	return nil
}

func (a *AdminController) stopRoster() {
	a.rmu.Lock()
	a.rgen++
	cancel, done := a.rcancel, a.rdone
	a.rcancel, a.rdone = nil, nil
	a.rmu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (a *AdminController) watchRoster(ctx context.Context, gen uint64, sub pubsub.Subscription, done chan struct{}) {
	defer close(done)
	if sub == nil {
		<-ctx.Done()
		return
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.C():
			if !ok {
				return
			}
			users, err := a.dir.List(ctx, userstore.ListFilter{})
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				a.log.Warn("roster reload failed", zap.Error(err))
				continue
			}
			a.rmu.Lock()
			if a.rgen == gen {
				a.roster = BuildRoster(users, a.author.Email)
				a.emitRosterLocked()
			}
			a.rmu.Unlock()
		}
	}
}

func (a *AdminController) emitRosterLocked() {
	if a.rclosed {
		return
	}
	r := append([]RosterEntry(nil), a.roster...)
	select {
	case <-a.rupdates:
	default:
	}
	select {
	case a.rupdates <- r:
	default:
	}
}

// Roster returns the current roster in directory order.
func (a *AdminController) Roster() []RosterEntry {
	a.rmu.Lock()
	defer a.rmu.Unlock()
	return append([]RosterEntry(nil), a.roster...)
}

// RosterUpdates delivers the roster after every change, latest only. It
// is closed by Close.
func (a *AdminController) RosterUpdates() <-chan []RosterEntry { return a.rupdates }

// Select opens the thread for threadKey (a roster entry's email). The
// previously selected thread is torn down first.
func (a *AdminController) Select(ctx context.Context, threadKey string) error {
	return a.Open(ctx, threadKey)
}

// Close stops the roster and the selected thread. Safe to call more than once.
func (a *AdminController) Close() {
	a.stopRoster()
	a.rmu.Lock()
	if !a.rclosed {
		a.rclosed = true
		a.rgen++
		close(a.rupdates)
	}
	a.rmu.Unlock()
	a.Controller.Close()
}
