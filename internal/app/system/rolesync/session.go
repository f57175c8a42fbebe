package rolesync

import (
	"context"
	"errors"
	"sync"

	"github.com/dalemusser/chatdesk/internal/app/system/identity"
	"github.com/dalemusser/chatdesk/internal/app/system/pubsub"
	"go.uber.org/zap"
)

// Session keeps one Cell in step with one signed-in principal.
type Session struct {
	res    *Resolver
	broker pubsub.Broker
	cell   *Cell
	log    *zap.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// NewSession creates a session in the signed-out state.
func NewSession(res *Resolver, broker pubsub.Broker, logger *zap.Logger) *Session {
	return &Session{res: res, broker: broker, cell: NewCell(), log: logger}
}

// Cell is the reactive role value for this session.
func (s *Session) Cell() *Cell { return s.cell }

// SetPrincipal handles a principal transition. A nil principal signs out:
// the cell becomes signed-out immediately with no store access. Otherwise
// the cell becomes unresolved for p and a watcher starts that resolves p
// and re-resolves whenever p's directory record is reported changed.
// signIn selects Resolve (create if absent) over Current for the first
// resolution. Work for any previous principal is stopped first, and its
// results are never written to the cell.
func (s *Session) SetPrincipal(ctx context.Context, p *identity.Principal, signIn bool) {
	s.mu.Lock()
	s.stopLocked()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen

	if p == nil {
		s.cell.Set(State{Resolved: true})
		s.mu.Unlock()
		return
	}

	s.cell.Set(State{Principal: p})
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.watch(wctx, gen, p, signIn, done)
}

// stopLocked cancels the current watcher and waits for it to exit. s.mu
// must be held; it is released while waiting so the watcher can finish a
// publish. The generation is bumped first so nothing the old watcher
// publishes lands in the cell.
func (s *Session) stopLocked() {
	for s.cancel != nil {
		s.gen++
		cancel, done := s.cancel, s.done
		s.cancel, s.done = nil, nil
		cancel()
		s.mu.Unlock()
		<-done
		s.mu.Lock()
	}
}

func (s *Session) watch(ctx context.Context, gen uint64, p *identity.Principal, signIn bool, done chan struct{}) {
	defer close(done)

	// Subscribe before the first read so a change between the read and the
	// subscription is not missed.
	var sigs <-chan struct{}
	if s.broker != nil {
		sub, err := s.broker.Subscribe(ctx, pubsub.UserTopic(p.ID))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("role watch subscribe failed; role will not update live",
				zap.String("principal_id", p.ID), zap.Error(err))
		} else {
			defer sub.Close()
			sigs = sub.C()
		}
	}

	s.resolve(ctx, gen, p, signIn)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sigs:
			if !ok {
				return
			}
			s.resolve(ctx, gen, p, false)
		}
	}
}

func (s *Session) resolve(ctx context.Context, gen uint64, p *identity.Principal, signIn bool) {
	var (
		res Result
		err error
	)
	if signIn {
		res, err = s.res.Resolve(ctx, p)
	} else {
		res, err = s.res.Current(ctx, p)
	}
	if ctx.Err() != nil {
		return
	}

	st := State{Principal: p, Resolved: true}
	switch {
	case err == nil:
		st.Role = res.Role
	case errors.Is(err, ErrNoRecord):
		st.Missing = true
	default:
		st.Err = err
		s.log.Error("role resolution failed", zap.String("principal_id", p.ID), zap.Error(err))
	}
	s.publish(gen, st)
}

// publish writes st to the cell only if gen is still current.
func (s *Session) publish(gen uint64, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.closed {
		return
	}
	s.cell.Set(st)
}

// Close stops the watcher and closes the cell. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stopLocked()
	s.closed = true
	s.gen++
	s.mu.Unlock()
	s.cell.Close()
}
