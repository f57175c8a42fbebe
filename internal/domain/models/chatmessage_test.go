package models

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func ts(sec int) *time.Time {
	t := time.Date(2025, 1, 1, 0, 0, sec, 0, time.UTC)
	return &t
}

func TestSortChatMessages_TimestampAscending(t *testing.T) {
	msgs := []ChatMessage{
		{Text: "c", Timestamp: ts(30)},
		{Text: "a", Timestamp: ts(10)},
		{Text: "b", Timestamp: ts(20)},
	}

	SortChatMessages(msgs)

	for i, want := range []string{"a", "b", "c"} {
		if msgs[i].Text != want {
			t.Errorf("position %d: got %q, want %q", i, msgs[i].Text, want)
		}
	}
}

func TestSortChatMessages_PendingSortsLast(t *testing.T) {
	msgs := []ChatMessage{
		{Text: "pending-1"},
		{Text: "b", Timestamp: ts(20)},
		{Text: "pending-2"},
		{Text: "a", Timestamp: ts(10)},
	}

	SortChatMessages(msgs)

	want := []string{"a", "b", "pending-1", "pending-2"}
	for i := range want {
		if msgs[i].Text != want[i] {
			t.Errorf("position %d: got %q, want %q", i, msgs[i].Text, want[i])
		}
	}
}

func TestSortChatMessages_EqualTimestampsUseID(t *testing.T) {
	first := primitive.NewObjectIDFromTimestamp(time.Unix(100, 0))
	second := primitive.NewObjectIDFromTimestamp(time.Unix(200, 0))
	msgs := []ChatMessage{
		{ID: second, Text: "second", Timestamp: ts(5)},
		{ID: first, Text: "first", Timestamp: ts(5)},
	}

	SortChatMessages(msgs)

	if msgs[0].Text != "first" || msgs[1].Text != "second" {
		t.Errorf("got order %q, %q", msgs[0].Text, msgs[1].Text)
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
		ok   bool
	}{
		{"Admin", RoleAdmin, true},
		{"User", RoleUser, true},
		{"admin", "", false},
		{"SuperAdmin", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseRole(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseRole(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}
