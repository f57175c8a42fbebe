// internal/app/features/auditlog/list.go
package auditlog

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dalemusser/chatdesk/internal/app/store/audit"
	"github.com/dalemusser/chatdesk/internal/app/system/normalize"
	"github.com/dalemusser/chatdesk/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/pantry/query"
	"go.uber.org/zap"
)

const pageSize = 50

// ServeList handles GET /audit with optional category, event_type,
// user_id, start_date and end_date (YYYY-MM-DD) filters and a page number.
// Events are newest first.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "audit log list")
	defer cancel()

	category := normalize.QueryParam(query.Get(r, "category"))
	eventType := normalize.QueryParam(query.Get(r, "event_type"))

	if category != "" && eventTypesForCategory(category) == nil {
		h.ErrLog.LogBadRequest(w, r, "bad audit category", nil, "Category must be auth, admin, or security.")
		return
	}
	if eventType != "" && !contains(eventTypesForCategory(category), eventType) {
		h.ErrLog.LogBadRequest(w, r, "bad audit event type", nil, "Unknown event type for this category.")
		return
	}

	page := 1
	if p, err := strconv.Atoi(query.Get(r, "page")); err == nil && p > 0 {
		page = p
	}

	filter := audit.QueryFilter{
		UserID:    normalize.QueryParam(query.Get(r, "user_id")),
		Category:  category,
		EventType: eventType,
		Limit:     pageSize,
		Offset:    int64((page - 1) * pageSize),
	}
	if s := query.Get(r, "start_date"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			h.ErrLog.LogBadRequest(w, r, "bad start date", err, "Dates must be YYYY-MM-DD.")
			return
		}
		filter.StartTime = &t
	}
	if s := query.Get(r, "end_date"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			h.ErrLog.LogBadRequest(w, r, "bad end date", err, "Dates must be YYYY-MM-DD.")
			return
		}
		// End of day
		endOfDay := t.Add(24*time.Hour - time.Nanosecond)
		filter.EndTime = &endOfDay
	}

	events, err := h.Events.Query(ctx, filter)
	if err != nil {
		h.ErrLog.LogServerError(w, r, "query audit events failed", err, "A database error occurred.")
		return
	}
	total, err := h.Events.CountByFilter(ctx, filter)
	if err != nil {
		h.ErrLog.LogServerError(w, r, "count audit events failed", err, "A database error occurred.")
		return
	}

	names := h.resolveNames(r, events)

	items := make([]listItem, 0, len(events))
	for _, e := range events {
		items = append(items, listItem{
			ID:            e.ID.Hex(),
			Timestamp:     e.Timestamp,
			Category:      e.Category,
			EventType:     e.EventType,
			UserID:        e.UserID,
			UserName:      names[e.UserID],
			ActorID:       e.ActorID,
			ActorName:     names[e.ActorID],
			IP:            e.IP,
			Success:       e.Success,
			FailureReason: e.FailureReason,
			Details:       e.Details,
		})
	}

	totalPages := int((total + pageSize - 1) / pageSize)
	if totalPages < 1 {
		totalPages = 1
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(listResponse{
		Events:     items,
		Category:   category,
		EventType:  eventType,
		Page:       page,
		TotalPages: totalPages,
		Total:      total,
	})
}

// resolveNames batch-loads directory names for every user and actor id in
// events. A failed lookup only costs the names.
func (h *Handler) resolveNames(r *http.Request, events []audit.Event) map[string]string {
	seen := make(map[string]struct{})
	for _, e := range events {
		if e.UserID != "" {
			seen[e.UserID] = struct{}{}
		}
		if e.ActorID != "" {
			seen[e.ActorID] = struct{}{}
		}
	}
	names := make(map[string]string, len(seen))
	if len(seen) == 0 {
		return names
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "audit name lookup")
	defer cancel()
	users, err := h.Users.GetByIDs(ctx, ids)
	if err != nil {
		h.Log.Warn("failed to fetch user names for audit log", zap.Error(err))
		return names
	}
	for _, u := range users {
		names[u.ID] = u.Name
	}
	return names
}
