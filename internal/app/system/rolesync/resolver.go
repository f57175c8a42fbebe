// Package rolesync establishes a principal's role and keeps it current.
//
// Resolver reads (and on sign-in, creates) the directory record. Cell is a
// single reactive value holding the resolved state. Session binds the two:
// it re-resolves whenever the principal changes or the principal's record
// is reported changed, and discards results that belong to a principal it
// has already moved past.
package rolesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/chatdesk/internal/app/system/identity"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// ErrNoRecord is returned by Current when the principal has no directory
// record (never signed in, or deleted since).
var ErrNoRecord = errors.New("rolesync: no directory record")

// Directory is the slice of the Role Directory the resolver needs.
type Directory interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	CreateIfAbsent(ctx context.Context, u models.User) (models.User, bool, error)
}

// Recorder receives one outcome per resolution: "existing", "created",
// "missing", or "error".
type Recorder interface {
	RoleResolved(outcome string)
}

// Result is one resolution. Role is the stored value verbatim.
type Result struct {
	Role    models.Role
	Record  *models.User
	Created bool
}

// Resolver resolves principals against the directory.
type Resolver struct {
	dir Directory
	log *zap.Logger
	rec Recorder
	// OnCreate, if set, is called after a sign-in created a record.
	OnCreate func(ctx context.Context, u models.User)
}

func NewResolver(dir Directory, logger *zap.Logger) *Resolver {
	return &Resolver{dir: dir, log: logger}
}

// SetRecorder attaches an outcome recorder.
func (r *Resolver) SetRecorder(rec Recorder) { r.rec = rec }

func (r *Resolver) record(outcome string) {
	if r.rec != nil {
		r.rec.RoleResolved(outcome)
	}
}

// Resolve handles a sign-in event. It reads the principal's record and
// creates one with RoleUser if none exists. A nil principal resolves to no
// role without touching the store.
func (r *Resolver) Resolve(ctx context.Context, p *identity.Principal) (Result, error) {
	if p == nil {
		return Result{}, nil
	}

	u, err := r.dir.GetByID(ctx, p.ID)
	switch {
	case err == nil:
		r.record("existing")
		return r.result(p, u, false), nil
	case !errors.Is(err, mongo.ErrNoDocuments):
		r.record("error")
		return Result{}, fmt.Errorf("read role for %s: %w", p.ID, err)
	}

	created, isNew, err := r.dir.CreateIfAbsent(ctx, models.User{
		ID:        p.ID,
		Name:      p.DisplayName,
		Email:     p.Email,
		Role:      models.RoleUser,
		AvatarURL: p.AvatarURL,
	})
	if err != nil {
		r.record("error")
		return Result{}, fmt.Errorf("create role for %s: %w", p.ID, err)
	}
	if isNew {
		r.record("created")
		r.log.Info("directory record created on first sign-in",
			zap.String("principal_id", p.ID),
			zap.String("email", created.Email))
		if r.OnCreate != nil {
			r.OnCreate(ctx, created)
		}
	} else {
		r.record("existing")
	}
	return r.result(p, &created, isNew), nil
}

// Current reads the principal's role without creating anything. It
// returns ErrNoRecord if the record is missing.
func (r *Resolver) Current(ctx context.Context, p *identity.Principal) (Result, error) {
	if p == nil {
		return Result{}, nil
	}
	u, err := r.dir.GetByID(ctx, p.ID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		r.record("missing")
		return Result{}, ErrNoRecord
	}
	if err != nil {
		r.record("error")
		return Result{}, fmt.Errorf("read role for %s: %w", p.ID, err)
	}
	r.record("existing")
	return r.result(p, u, false), nil
}

func (r *Resolver) result(p *identity.Principal, u *models.User, created bool) Result {
	if !u.Role.Valid() {
		r.log.Warn("directory record has unrecognised role",
			zap.String("principal_id", p.ID),
			zap.String("role", string(u.Role)))
	}
	return Result{Role: u.Role, Record: u, Created: created}
}
