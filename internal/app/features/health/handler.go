package health

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dalemusser/chatdesk/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Pinger is a dependency that can report whether it is reachable.
// The Redis broker satisfies it; the in-process broker does not need to.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies needed for health checks.
type Handler struct {
	Client *mongo.Client
	Broker Pinger
	Log    *zap.Logger
}

// NewHandler constructs a health Handler. broker may be nil.
func NewHandler(client *mongo.Client, broker Pinger, logger *zap.Logger) *Handler {
	return &Handler{
		Client: client,
		Broker: broker,
		Log:    logger,
	}
}

// healthResponse is the JSON structure for the health check response.
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Broker   string `json:"broker"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Serve handles GET /health.
//
// On success: 200 and
//
//	{ "status":"ok", "database":"connected", "broker":"connected" }
//
// On DB or broker failure: 503 and
//
//	{ "status":"error", "message":"Database unavailable", "error":"…"}
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Ping())
	defer cancel()

	w.Header().Set("Content-Type", "application/json")

	resp := healthResponse{
		Status:   "ok",
		Database: "connected",
		Broker:   "in-process",
	}

	if err := h.Client.Ping(ctx, readpref.Primary()); err != nil {
		h.Log.Error("health-check: mongo ping failed", zap.Error(err))
		resp.Status = "error"
		resp.Database = "disconnected"
		resp.Message = "Database unavailable"
		resp.Error = err.Error()
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	if h.Broker != nil {
		if err := h.Broker.Ping(ctx); err != nil {
			h.Log.Error("health-check: broker ping failed", zap.Error(err))
			resp.Status = "error"
			resp.Broker = "disconnected"
			resp.Message = "Broker unavailable"
			resp.Error = err.Error()
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(resp)
			return
		}
		resp.Broker = "connected"
	}

	_ = json.NewEncoder(w).Encode(resp)
}
