// internal/domain/models/role.go
package models

// Role is the directory role of a principal.
//
// Exactly two values are recognised. Anything else read from the store is
// carried through unchanged but is not privileged: it can never equal a
// required role at an authorization gate.
type Role string

const (
	RoleAdmin Role = "Admin"
	RoleUser  Role = "User"
)

// Valid reports whether r is one of the recognised roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// ParseRole returns the recognised role named by s, or false.
// Matching is exact; "admin" is not "Admin".
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	if !r.Valid() {
		return "", false
	}
	return r, true
}

func (r Role) String() string { return string(r) }
