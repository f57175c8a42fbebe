package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dalemusser/chatdesk/internal/app/features/health"
	"github.com/dalemusser/chatdesk/internal/testutil"
	"go.uber.org/zap"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type healthBody struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Broker   string `json:"broker"`
	Message  string `json:"message"`
}

func serve(t *testing.T, h *health.Handler) (*httptest.ResponseRecorder, healthBody) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Serve(rec, httptest.NewRequest("GET", "/health", nil))
	var body healthBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return rec, body
}

func TestServe_DatabaseConnected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	handler := health.NewHandler(db.Client(), nil, zap.NewNop())

	rec, body := serve(t, handler)
	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want %q", ct, "application/json")
	}
	if body.Status != "ok" || body.Database != "connected" || body.Broker != "in-process" {
		t.Errorf("body = %+v", body)
	}
}

func TestServe_BrokerStates(t *testing.T) {
	db := testutil.SetupTestDB(t)

	ok := health.NewHandler(db.Client(), pingFunc(func(context.Context) error { return nil }), zap.NewNop())
	rec, body := serve(t, ok)
	if rec.Code != http.StatusOK || body.Broker != "connected" {
		t.Errorf("healthy broker: code=%d body=%+v", rec.Code, body)
	}

	down := health.NewHandler(db.Client(), pingFunc(func(context.Context) error { return errors.New("refused") }), zap.NewNop())
	rec, body = serve(t, down)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
	if body.Broker != "disconnected" || body.Message != "Broker unavailable" {
		t.Errorf("body = %+v", body)
	}
}
