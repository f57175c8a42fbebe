package auditlog_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/dalemusser/chatdesk/internal/app/features/auditlog"
	uierrors "github.com/dalemusser/chatdesk/internal/app/features/errors"
	"github.com/dalemusser/chatdesk/internal/app/store/audit"
	"github.com/dalemusser/chatdesk/internal/app/system/auth"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	"github.com/dalemusser/chatdesk/internal/testutil"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type feed struct {
	Events []struct {
		EventType string `json:"event_type"`
		UserName  string `json:"user_name"`
		ActorName string `json:"actor_name"`
	} `json:"events"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func newTestHandler(t *testing.T) (*auditlog.Handler, *mongo.Database) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()
	return auditlog.NewHandler(db, uierrors.NewErrorLogger(logger), logger), db
}

func seedEvents(t *testing.T, db *mongo.Database) {
	t.Helper()
	ctx, cancel := testutil.TestContext()
	defer cancel()

	fx := testutil.NewFixtures(t, db)
	fx.CreateAdmin(ctx, "admin-1", "Test Admin", "admin@test.com")
	fx.CreateUser(ctx, "u1", "Ann Lee", "ann@x.com", models.RoleUser)

	store := audit.New(db)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	events := []audit.Event{
		{Timestamp: base, Category: audit.CategoryAuth, EventType: audit.EventSignInSuccess, UserID: "u1", Success: true},
		{Timestamp: base.Add(time.Hour), Category: audit.CategoryAdmin, EventType: audit.EventRoleChanged, UserID: "u1", ActorID: "admin-1", Success: true},
		{Timestamp: base.AddDate(0, 0, 2), Category: audit.CategorySecurity, EventType: audit.EventAccessDenied, UserID: "gone", Success: false},
	}
	for _, e := range events {
		if err := store.Log(ctx, e); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
}

func serve(t *testing.T, h *auditlog.Handler, target string) *testutil.ResponseRecorder {
	t.Helper()
	rec := testutil.NewRecorder()
	h.ServeList(rec, testutil.NewAuthenticatedRequest("GET", target, testutil.AdminUser()))
	return rec
}

func TestServeList_NewestFirstWithNames(t *testing.T) {
	h, db := newTestHandler(t)
	seedEvents(t, db)

	rec := serve(t, h, "/audit")
	rec.AssertStatus(t, http.StatusOK)

	var got feed
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Total != 3 || got.TotalPages != 1 || len(got.Events) != 3 {
		t.Fatalf("feed = %+v", got)
	}
	if got.Events[0].EventType != audit.EventAccessDenied {
		t.Errorf("first event = %q, want newest", got.Events[0].EventType)
	}
	if got.Events[0].UserName != "" {
		t.Errorf("deleted user resolved to %q", got.Events[0].UserName)
	}
	if got.Events[1].UserName != "Ann Lee" || got.Events[1].ActorName != "Test Admin" {
		t.Errorf("names = %+v", got.Events[1])
	}
}

func TestServeList_Filters(t *testing.T) {
	h, db := newTestHandler(t)
	seedEvents(t, db)

	tests := []struct {
		name   string
		target string
		status int
		want   int
	}{
		{"category", "/audit?category=admin", http.StatusOK, 1},
		{"event type", "/audit?category=auth&event_type=signin_success", http.StatusOK, 1},
		{"user", "/audit?user_id=u1", http.StatusOK, 2},
		{"date range", "/audit?start_date=2026-05-01&end_date=2026-05-01", http.StatusOK, 2},
		{"bad category", "/audit?category=billing", http.StatusBadRequest, 0},
		{"event type outside category", "/audit?category=auth&event_type=role_changed", http.StatusBadRequest, 0},
		{"bad date", "/audit?start_date=May", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, h, tt.target)
			rec.AssertStatus(t, tt.status)
			if tt.status != http.StatusOK {
				return
			}
			var got feed
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(got.Events) != tt.want {
				t.Errorf("got %d events, want %d", len(got.Events), tt.want)
			}
		})
	}
}

func TestRoutes_AdminOnly(t *testing.T) {
	h, _ := newTestHandler(t)
	sm, err := auth.NewSessionManager("test-session-key-for-testing-only", "test-session", "", 24*time.Hour, false, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSessionManager failed: %v", err)
	}
	router := auditlog.Routes(h, sm)

	rec := testutil.NewRecorder()
	router.ServeHTTP(rec, testutil.NewAuthenticatedRequest("GET", "/", testutil.EndUser()))
	rec.AssertStatus(t, http.StatusForbidden)

	rec = testutil.NewRecorder()
	router.ServeHTTP(rec, testutil.NewAuthenticatedRequest("GET", "/", testutil.AdminUser()))
	rec.AssertStatus(t, http.StatusOK)
}
