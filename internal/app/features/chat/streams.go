package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/dalemusser/chatdesk/internal/app/system/auth"
	"github.com/dalemusser/chatdesk/internal/app/system/chatsession"
	"github.com/dalemusser/chatdesk/internal/app/system/timeouts"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/query"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// streamOpened is the first event on every stream. Clients pass the id back
// as ?stream= when sending so the send runs through this stream's
// controller: the message shows as pending at once and a failure leaves
// the not-sent notice on the stream.
type streamOpened struct {
	StreamID string `json:"stream_id"`
}

type liveStream struct {
	owner string
	side  models.Sender
	ctrl  *chatsession.Controller
	// sendMu keeps one draft-then-send at a time per stream.
	sendMu sync.Mutex
}

// streamRegistry holds the controllers of the streams open on this
// instance, keyed by stream id.
type streamRegistry struct {
	mu sync.Mutex
	m  map[string]*liveStream
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{m: make(map[string]*liveStream)}
}

// add registers ctrl for owner and returns its id and the matching removal.
func (r *streamRegistry) add(owner string, side models.Sender, ctrl *chatsession.Controller) (string, func()) {
	id := uuid.NewString()
	r.mu.Lock()
	r.m[id] = &liveStream{owner: owner, side: side, ctrl: ctrl}
	r.mu.Unlock()
	return id, func() {
		r.mu.Lock()
		delete(r.m, id)
		r.mu.Unlock()
	}
}

// get returns the stream id if it is open, owned by owner, and on side.
func (r *streamRegistry) get(id, owner string, side models.Sender) (*liveStream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok || s.owner != owner || s.side != side {
		return nil, false
	}
	return s, true
}

// sendOnStream posts text through the stream's controller and answers with
// the stream's snapshot as the sender sees it. Blank text is a no-op (204).
// threadKey, when set, must be the thread the stream has open.
func (h *Handler) sendOnStream(w http.ResponseWriter, r *http.Request, u *auth.SessionUser, id string, side models.Sender, threadKey string) {
	s, ok := h.streams.get(id, u.ID, side)
	if !ok {
		h.ErrLog.LogNotFound(w, r, "send on unknown stream", nil, "That chat stream is not open.")
		return
	}
	if threadKey != "" && s.ctrl.ThreadKey() != threadKey {
		h.ErrLog.LogConflict(w, r, "stream has another thread open", nil, "That chat stream shows a different thread.")
		return
	}
	text := r.PostForm.Get("text")
	if strings.TrimSpace(text) == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	s.sendMu.Lock()
	s.ctrl.SetDraft(text)
	err := s.ctrl.Send(ctx)
	s.sendMu.Unlock()

	switch {
	case errors.Is(err, chatsession.ErrNoThread):
		h.ErrLog.LogConflict(w, r, "stream has no thread open", err, "Select a thread before sending.")
		return
	case errors.Is(err, chatsession.ErrClosed):
		h.ErrLog.LogNotFound(w, r, "send on closed stream", err, "That chat stream is not open.")
		return
	case err != nil:
		h.Log.Warn("stream send failed",
			zap.String("principal_id", u.ID),
			zap.String("stream_id", id),
			zap.Error(err))
	}

	snap := s.ctrl.Snapshot()
	resp := threadResponse{ThreadKey: snap.ThreadKey, Notice: snap.Notice, Draft: s.ctrl.Draft()}
	if side == models.SenderAdmin {
		resp.Messages = chatsession.ForAdminView(snap.Messages, u.Email)
	} else {
		resp.Messages = chatsession.ForUserView(snap.Messages)
	}
	status := http.StatusAccepted
	if err != nil {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

// HandleUserDismissNotice handles DELETE /chat/user/notice?stream=.
func (h *Handler) HandleUserDismissNotice(w http.ResponseWriter, r *http.Request) {
	h.dismissNotice(w, r, models.SenderUser)
}

// HandleAdminDismissNotice handles DELETE /chat/admin/notice?stream=.
func (h *Handler) HandleAdminDismissNotice(w http.ResponseWriter, r *http.Request) {
	h.dismissNotice(w, r, models.SenderAdmin)
}

// dismissNotice clears the stream's notice; the stream gets a fresh
// snapshot when there was one to clear.
func (h *Handler) dismissNotice(w http.ResponseWriter, r *http.Request, side models.Sender) {
	u, ok := sessionUser(w, r)
	if !ok {
		return
	}
	id := query.Get(r, "stream")
	s, ok := h.streams.get(id, u.ID, side)
	if !ok {
		h.ErrLog.LogNotFound(w, r, "dismiss on unknown stream", nil, "That chat stream is not open.")
		return
	}
	if notice := s.ctrl.Notice(); notice != "" {
		s.ctrl.DismissNotice()
		h.Log.Debug("stream notice dismissed",
			zap.String("principal_id", u.ID),
			zap.String("stream_id", id),
			zap.String("notice", notice))
	}
	w.WriteHeader(http.StatusNoContent)
}
