// Package userstore is the Role Directory: one record per principal,
// keyed by the identity provider's principal id.
package userstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/dalemusser/chatdesk/internal/app/system/htmlsanitize"
	"github.com/dalemusser/chatdesk/internal/app/system/normalize"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultName is stored when the principal has no display name.
const DefaultName = "Unnamed"

var (
	// ErrBadRole is returned when a write carries a role outside {Admin, User}.
	ErrBadRole = errors.New(`role must be "Admin" or "User"`)
	// ErrMissingID is returned when a record has no principal id.
	ErrMissingID = errors.New("principal id is required")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("users")}
}

// EnsureIndexes creates the lookup and listing indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetName("idx_users_email")},
		{Keys: bson.D{{Key: "name_ci", Value: 1}}, Options: options.Index().SetName("idx_users_name_ci")},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("idx_users_created"),
		},
		{
			Keys:    bson.D{{Key: "role", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("idx_users_role_created"),
		},
	})
	return err
}

// GetByID loads a record by principal id. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByIDs loads every record whose id is in ids. Unknown ids are skipped.
func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := s.c.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.User
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetByEmail looks up a record by case-insensitive email. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"email": normalize.Email(email)}).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateIfAbsent inserts u unless a record with u.ID already exists, in
// which case the stored record is returned untouched and created is false.
// Concurrent first sign-ins for the same principal converge on one record.
func (s *Store) CreateIfAbsent(ctx context.Context, u models.User) (rec models.User, created bool, err error) {
	if u.ID == "" {
		return models.User{}, false, ErrMissingID
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if !u.Role.Valid() {
		return models.User{}, false, ErrBadRole
	}
	u.Name = normalize.Name(htmlsanitize.PlainText(u.Name))
	if u.Name == "" {
		u.Name = DefaultName
	}
	u.NameCI = text.Fold(u.Name)
	u.Email = normalize.Email(u.Email)
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	onInsert := bson.M{
		"name":       u.Name,
		"name_ci":    u.NameCI,
		"email":      u.Email,
		"role":       u.Role,
		"created_at": u.CreatedAt,
		"updated_at": u.UpdatedAt,
	}
	if u.AvatarURL != "" {
		onInsert["avatar"] = u.AvatarURL
	}

	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": u.ID},
		bson.M{"$setOnInsert": onInsert},
		options.Update().SetUpsert(true),
	)
	if err != nil && !wafflemongo.IsDup(err) {
		return models.User{}, false, fmt.Errorf("create user %s: %w", u.ID, err)
	}
	// A duplicate key means a racing upsert inserted first.
	if err == nil && res.UpsertedCount == 1 {
		return u, true, nil
	}

	existing, err := s.GetByID(ctx, u.ID)
	if err != nil {
		return models.User{}, false, fmt.Errorf("reload user %s: %w", u.ID, err)
	}
	return *existing, false, nil
}

// ListFilter narrows a directory listing.
type ListFilter struct {
	// Search matches a substring of the folded name or the email.
	Search string
	// Role restricts to one stored role value. Empty means all.
	Role models.Role
	// Limit caps the number of records; zero means no cap.
	Limit int64
}

// List returns records in directory order: created_at ascending, then id.
func (s *Store) List(ctx context.Context, f ListFilter) ([]models.User, error) {
	filter := bson.M{}
	if q := normalize.QueryParam(f.Search); q != "" {
		filter["$or"] = []bson.M{
			{"name_ci": bson.M{"$regex": regexp.QuoteMeta(text.Fold(q))}},
			// Admin emails are hidden from viewers, so they are not searchable either.
			{"email": bson.M{"$regex": regexp.QuoteMeta(q), "$options": "i"}, "role": bson.M{"$ne": models.RoleAdmin}},
		}
	}
	if f.Role != "" {
		filter["role"] = f.Role
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(f.Limit)
	}

	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.User{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update holds the editable fields of a record. Nil fields are left alone.
type Update struct {
	Name *string
	Role *models.Role
}

// Update applies upd to the record with the given id. Returns
// mongo.ErrNoDocuments if no such record exists.
func (s *Store) Update(ctx context.Context, id string, upd Update) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	if upd.Name != nil {
		name := normalize.Name(htmlsanitize.PlainText(*upd.Name))
		if name == "" {
			name = DefaultName
		}
		set["name"] = name
		set["name_ci"] = text.Fold(name)
	}
	if upd.Role != nil {
		if !upd.Role.Valid() {
			return ErrBadRole
		}
		set["role"] = *upd.Role
	}

	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// SetRole assigns role to the record with the given id.
func (s *Store) SetRole(ctx context.Context, id string, role models.Role) error {
	return s.Update(ctx, id, Update{Role: &role})
}

// Delete removes the record and returns the number deleted (0 or 1).
func (s *Store) Delete(ctx context.Context, id string) (int64, error) {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
