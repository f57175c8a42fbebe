// Package normalize holds the small canonicalisation rules applied to
// values before they are stored or compared.
package normalize

import "strings"

// Email trims and lowercases an email address. Thread keys are emails, so
// both sides of a conversation must agree on this form.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Name trims surrounding whitespace and collapses internal runs of
// whitespace to a single space. Case is preserved.
func Name(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// QueryParam trims a query string value.
func QueryParam(s string) string {
	return strings.TrimSpace(s)
}

// RoleFilter maps a role filter query value to a stored role name.
// "All" (any case) and blank mean no filter.
func RoleFilter(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "all") {
		return ""
	}
	return s
}
