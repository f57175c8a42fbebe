package chat

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	userstore "github.com/dalemusser/chatdesk/internal/app/store/users"
	"github.com/dalemusser/chatdesk/internal/app/system/chatsession"
	"github.com/dalemusser/chatdesk/internal/app/system/normalize"
	"github.com/dalemusser/chatdesk/internal/app/system/rolesync"
	"github.com/dalemusser/chatdesk/internal/app/system/timeouts"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/query"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// threadParam reads the {threadKey} path segment. Clients may percent-encode
// the @ in an email.
func threadParam(r *http.Request) string {
	raw := chi.URLParam(r, "threadKey")
	if s, err := url.PathUnescape(raw); err == nil {
		raw = s
	}
	return normalize.Email(raw)
}

// ServeRoster handles GET /chat/admin/roster: every directory record in
// directory order, whether or not its thread has messages.
func (h *Handler) ServeRoster(w http.ResponseWriter, r *http.Request) {
	u, ok := sessionUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()
	recs, err := h.Users.List(ctx, userstore.ListFilter{})
	if err != nil {
		h.ErrLog.LogServerError(w, r, "list roster failed", err, "A database error occurred.")
		return
	}
	writeJSON(w, http.StatusOK, rosterResponse{Roster: chatsession.BuildRoster(recs, u.Email)})
}

// ServeThread handles GET /chat/admin/threads/{threadKey}/messages.
func (h *Handler) ServeThread(w http.ResponseWriter, r *http.Request) {
	u, ok := sessionUser(w, r)
	if !ok {
		return
	}
	key := threadParam(r)
	if key == "" {
		h.ErrLog.LogBadRequest(w, r, "missing thread key", nil, "A thread is required.")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()
	msgs, err := h.Threads.ListThread(ctx, key)
	if err != nil {
		h.ErrLog.LogServerError(w, r, "list thread failed", err, "A database error occurred.")
		return
	}
	writeJSON(w, http.StatusOK, threadResponse{ThreadKey: key, Messages: chatsession.ForAdminView(msgs, u.Email)})
}

// HandleAdminSend handles POST /chat/admin/threads/{threadKey}/messages
// with form field text. Replies go only to threads of known records. With
// ?stream= the reply runs through that open stream, which must have the
// same thread selected.
func (h *Handler) HandleAdminSend(w http.ResponseWriter, r *http.Request) {
	u, ok := sessionUser(w, r)
	if !ok {
		return
	}
	key := threadParam(r)
	if key == "" {
		h.ErrLog.LogBadRequest(w, r, "missing thread key", nil, "A thread is required.")
		return
	}
	if err := r.ParseForm(); err != nil {
		h.ErrLog.LogBadRequest(w, r, "parse form failed", err, "Invalid form data.")
		return
	}
	if !h.allow("admin:" + u.ID) {
		h.AuditLog.SendRateLimited(r.Context(), r, u.ID, key)
		h.Metrics.SendFailed("admin", "rate_limited")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":   "rate_limited",
			"message": "You are sending messages too quickly. " + chatsession.NotSentNotice,
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()
	if _, err := h.Users.GetByEmail(ctx, key); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			h.ErrLog.LogNotFound(w, r, "reply to unknown thread", nil, "No user has that thread.")
			return
		}
		h.ErrLog.LogServerError(w, r, "thread owner lookup failed", err, chatsession.NotSentNotice)
		return
	}
	if id := query.Get(r, "stream"); id != "" {
		h.sendOnStream(w, r, u, id, models.SenderAdmin, key)
		return
	}

	msg, err := h.Poster.Post(ctx, key, chatsession.AdminAuthor(u.Email, u.AvatarURL), r.PostForm.Get("text"))
	switch {
	case errors.Is(err, chatsession.ErrEmpty):
		w.WriteHeader(http.StatusNoContent)
		return
	case err != nil:
		h.ErrLog.LogServerError(w, r, "admin send failed", err, chatsession.NotSentNotice)
		return
	}
	writeJSON(w, http.StatusCreated, chatsession.ForAdminView([]models.ChatMessage{msg}, u.Email)[0])
}

// ServeAdminStream handles GET /chat/admin/stream?thread=. It opens with a
// stream event carrying the stream id, then sends a roster event on open and after every directory change, and, when a
// thread is given, a messages event for that thread likewise. A final
// denied event ends the stream if the Admin's live role changes.
func (h *Handler) ServeAdminStream(w http.ResponseWriter, r *http.Request) {
	u, ok := sessionUser(w, r)
	if !ok {
		return
	}
	es, ok := newEventStream(w)
	if !ok {
		h.ErrLog.LogServerError(w, r, "response writer cannot flush", nil, "Streaming is not supported.")
		return
	}

	ctx := r.Context()
	ac := chatsession.NewAdminController(h.Poster, h.Users, chatsession.AdminAuthor(u.Email, u.AvatarURL), h.Log)
	defer ac.Close()
	if err := ac.OpenRoster(ctx); err != nil {
		h.ErrLog.LogServerError(w, r, "open roster failed", err, "A database error occurred.")
		return
	}
	if thread := normalize.Email(query.Get(r, "thread")); thread != "" {
		if err := ac.Select(ctx, thread); err != nil {
			h.ErrLog.LogServerError(w, r, "open thread failed", err, "A database error occurred.")
			return
		}
	}

	roles := rolesync.NewSession(h.Resolver, h.Broker, h.Log)
	defer roles.Close()
	roles.SetPrincipal(ctx, &u.Principal, false)
	states, unwatch := roles.Cell().Watch()
	defer unwatch()

	id, remove := h.streams.add(u.ID, models.SenderAdmin, ac.Controller)
	defer remove()

	es.start()
	defer h.Metrics.StreamOpened("admin")()
	h.Log.Debug("admin chat stream opened", zap.String("principal_id", u.ID), zap.String("stream_id", id))
	if err := es.send("stream", streamOpened{StreamID: id}); err != nil {
		return
	}

	ping := time.NewTicker(keepAlive)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case roster, ok := <-ac.RosterUpdates():
			if !ok {
				return
			}
			if err := es.send("roster", rosterResponse{Roster: roster}); err != nil {
				return
			}
		case snap, ok := <-ac.Updates():
			if !ok {
				return
			}
			resp := threadResponse{ThreadKey: snap.ThreadKey, Messages: chatsession.ForAdminView(snap.Messages, u.Email), Notice: snap.Notice}
			if err := es.send("messages", resp); err != nil {
				return
			}
		case st, ok := <-states:
			if !ok {
				return
			}
			if d, denied := denial(st, models.RoleAdmin); denied {
				h.recordDenied(ctx, r, u, "chat_admin_stream", d)
				_ = es.send("denied", d.Body())
				return
			}
		case <-ping.C:
			if err := es.ping(); err != nil {
				return
			}
		}
	}
}
