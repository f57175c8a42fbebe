// internal/app/features/auditlog/types.go
package auditlog

import (
	"time"

	"github.com/dalemusser/chatdesk/internal/app/store/audit"
)

// listItem is one audit event with its principal ids resolved to names
// where the record still exists.
type listItem struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Category      string            `json:"category"`
	EventType     string            `json:"event_type"`
	UserID        string            `json:"user_id,omitempty"`
	UserName      string            `json:"user_name,omitempty"`
	ActorID       string            `json:"actor_id,omitempty"`
	ActorName     string            `json:"actor_name,omitempty"`
	IP            string            `json:"ip,omitempty"`
	Success       bool              `json:"success"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
}

type listResponse struct {
	Events     []listItem `json:"events"`
	Category   string     `json:"category,omitempty"`
	EventType  string     `json:"event_type,omitempty"`
	Page       int        `json:"page"`
	TotalPages int        `json:"total_pages"`
	Total      int64      `json:"total"`
}

// eventTypesForCategory returns the event types for a given category.
// If category is empty, returns all event types.
func eventTypesForCategory(category string) []string {
	authEvents := []string{
		audit.EventSignInSuccess,
		audit.EventSignInFailed,
		audit.EventSignOut,
		audit.EventUserCreated,
	}
	adminEvents := []string{
		audit.EventUserUpdated,
		audit.EventRoleChanged,
		audit.EventUserDeleted,
		audit.EventAdminSeeded,
	}
	securityEvents := []string{
		audit.EventAccessDenied,
		audit.EventSendRateLimited,
	}

	switch category {
	case audit.CategoryAuth:
		return authEvents
	case audit.CategoryAdmin:
		return adminEvents
	case audit.CategorySecurity:
		return securityEvents
	case "":
		all := make([]string, 0, len(authEvents)+len(adminEvents)+len(securityEvents))
		all = append(all, authEvents...)
		all = append(all, adminEvents...)
		return append(all, securityEvents...)
	default:
		return nil
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
