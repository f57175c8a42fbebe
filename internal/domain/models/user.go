// internal/domain/models/user.go
package models

import "time"

// User is a Role Directory entry: one per principal, keyed by the
// identity provider's stable principal id.
//
// NOTE:
//   - Records are created lazily on the principal's first sign-in and
//     default to RoleUser.
//   - Role is stored verbatim. A value outside {Admin, User} is kept as-is
//     and never grants access (see Role.Valid).
type User struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	NameCI    string    `bson:"name_ci" json:"-"` // lowercase, diacritics-stripped
	Email     string    `bson:"email" json:"email"`
	Role      Role      `bson:"role" json:"role"`
	AvatarURL string    `bson:"avatar,omitempty" json:"avatar,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// IsAdmin reports whether the stored role is exactly RoleAdmin.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
