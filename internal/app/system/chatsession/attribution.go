package chatsession

import (
	"github.com/dalemusser/chatdesk/internal/app/system/normalize"
	"github.com/dalemusser/chatdesk/internal/domain/models"
)

// Attribution says who a message is shown as coming from.
type Attribution string

const (
	FromMe         Attribution = "me"
	FromAdmin      Attribution = "admin"
	FromOtherAdmin Attribution = "other_admin"
	FromUser       Attribution = "user"
)

// ViewMessage is a message annotated for one viewer.
type ViewMessage struct {
	models.ChatMessage
	From Attribution `json:"from"`
	// Mine is true when the viewer wrote the message and it is aligned
	// to the viewer's side.
	Mine bool `json:"mine"`
}

// ForAdminView annotates msgs for the Admin whose email is adminEmail.
// An Admin message is the viewer's own when its sender email matches;
// one from another Admin is FromOtherAdmin. User messages are FromUser.
func ForAdminView(msgs []models.ChatMessage, adminEmail string) []ViewMessage {
	me := normalize.Email(adminEmail)
	out := make([]ViewMessage, 0, len(msgs))
	for _, m := range msgs {
		v := ViewMessage{ChatMessage: m, From: FromUser}
		if m.Sender == models.SenderAdmin {
			if me != "" && normalize.Email(m.SenderEmail) == me {
				v.From = FromMe
				v.Mine = true
			} else {
				v.From = FromOtherAdmin
			}
		}
		out = append(out, v)
	}
	return out
}

// ForUserView annotates msgs for the end user who owns the thread. Every
// Admin reply is FromAdmin whichever Admin wrote it.
func ForUserView(msgs []models.ChatMessage) []ViewMessage {
	out := make([]ViewMessage, 0, len(msgs))
	for _, m := range msgs {
		v := ViewMessage{ChatMessage: m, From: FromAdmin}
		if m.Sender == models.SenderUser {
			v.From = FromMe
			v.Mine = true
		}
		out = append(out, v)
	}
	return out
}
