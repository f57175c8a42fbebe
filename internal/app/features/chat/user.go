package chat

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dalemusser/chatdesk/internal/app/system/chatsession"
	"github.com/dalemusser/chatdesk/internal/app/system/rolesync"
	"github.com/dalemusser/chatdesk/internal/app/system/timeouts"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/query"
	"go.uber.org/zap"
)

// ServeUserMessages handles GET /chat/user/messages: the signed-in user's
// own thread, oldest first.
func (h *Handler) ServeUserMessages(w http.ResponseWriter, r *http.Request) {
	u, ok := sessionUser(w, r)
	if !ok {
		return
	}
	key := u.ThreadKey()
	if key == "" {
		h.ErrLog.LogBadRequest(w, r, "principal has no email", nil, "Your account has no email address, so it has no chat thread.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()
	msgs, err := h.Threads.ListThread(ctx, key)
	if err != nil {
		h.ErrLog.LogServerError(w, r, "list thread failed", err, "A database error occurred.")
		return
	}
	writeJSON(w, http.StatusOK, threadResponse{ThreadKey: key, Messages: chatsession.ForUserView(msgs)})
}

// HandleUserSend handles POST /chat/user/messages with form field text.
// Blank text is a no-op answered with 204. With ?stream= the send runs
// through that open stream and is answered with 202 and its snapshot.
func (h *Handler) HandleUserSend(w http.ResponseWriter, r *http.Request) {
	u, ok := sessionUser(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.ErrLog.LogBadRequest(w, r, "parse form failed", err, "Invalid form data.")
		return
	}
	key := u.ThreadKey()
	if !h.allow("user:" + u.ID) {
		h.AuditLog.SendRateLimited(r.Context(), r, u.ID, key)
		h.Metrics.SendFailed("user", "rate_limited")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":   "rate_limited",
			"message": "You are sending messages too quickly. " + chatsession.NotSentNotice,
		})
		return
	}
	if id := query.Get(r, "stream"); id != "" {
		h.sendOnStream(w, r, u, id, models.SenderUser, "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()
	msg, err := h.Poster.Post(ctx, key, chatsession.UserAuthor(), r.PostForm.Get("text"))
	switch {
	case errors.Is(err, chatsession.ErrEmpty):
		w.WriteHeader(http.StatusNoContent)
		return
	case errors.Is(err, chatsession.ErrNoThread):
		h.ErrLog.LogBadRequest(w, r, "principal has no email", nil, "Your account has no email address, so it has no chat thread.")
		return
	case err != nil:
		h.ErrLog.LogServerError(w, r, "user send failed", err, chatsession.NotSentNotice)
		return
	}
	writeJSON(w, http.StatusCreated, chatsession.ForUserView([]models.ChatMessage{msg})[0])
}

// ServeUserStream handles GET /chat/user/stream. It opens with a stream
// event carrying the stream id, then sends a messages event with the whole
// thread on open and after every change, and a final denied event if the
// user's live role stops being User.
func (h *Handler) ServeUserStream(w http.ResponseWriter, r *http.Request) {
	u, ok := sessionUser(w, r)
	if !ok {
		return
	}
	key := u.ThreadKey()
	if key == "" {
		h.ErrLog.LogBadRequest(w, r, "principal has no email", nil, "Your account has no email address, so it has no chat thread.")
		return
	}
	es, ok := newEventStream(w)
	if !ok {
		h.ErrLog.LogServerError(w, r, "response writer cannot flush", nil, "Streaming is not supported.")
		return
	}

	ctx := r.Context()
	ctrl := chatsession.NewController(h.Poster, chatsession.UserAuthor(), h.Log)
	defer ctrl.Close()
	if err := ctrl.Open(ctx, key); err != nil {
		h.ErrLog.LogServerError(w, r, "open thread failed", err, "A database error occurred.")
		return
	}

	roles := rolesync.NewSession(h.Resolver, h.Broker, h.Log)
	defer roles.Close()
	roles.SetPrincipal(ctx, &u.Principal, false)
	states, unwatch := roles.Cell().Watch()
	defer unwatch()

	id, remove := h.streams.add(u.ID, models.SenderUser, ctrl)
	defer remove()

	es.start()
	defer h.Metrics.StreamOpened("user")()
	h.Log.Debug("user chat stream opened", zap.String("principal_id", u.ID), zap.String("stream_id", id))
	if err := es.send("stream", streamOpened{StreamID: id}); err != nil {
		return
	}

	ping := time.NewTicker(keepAlive)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ctrl.Updates():
			if !ok {
				return
			}
			resp := threadResponse{ThreadKey: snap.ThreadKey, Messages: chatsession.ForUserView(snap.Messages), Notice: snap.Notice}
			if err := es.send("messages", resp); err != nil {
				return
			}
		case st, ok := <-states:
			if !ok {
				return
			}
			if d, denied := denial(st, models.RoleUser); denied {
				h.recordDenied(ctx, r, u, "chat_user_stream", d)
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
