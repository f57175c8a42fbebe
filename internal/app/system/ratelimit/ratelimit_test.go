package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestPool_AllowBurstThenBlock(t *testing.T) {
	p := New(0.001, 3)

	for i := 0; i < 3; i++ {
		if !p.Allow("u1") {
			t.Fatalf("request %d should be allowed within burst", i+1)
		}
	}
	if p.Allow("u1") {
		t.Error("request beyond burst should be blocked")
	}
	if !p.Allow("u2") {
		t.Error("a different key must have its own bucket")
	}
}

func TestPool_ZeroRateDisablesLimiting(t *testing.T) {
	p := New(0, 1)
	for i := 0; i < 100; i++ {
		if !p.Allow("k") {
			t.Fatalf("request %d blocked with limiting disabled", i+1)
		}
	}
}

func TestPool_Sweep(t *testing.T) {
	p := New(1, 1)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return clock }

	p.Allow("old")
	clock = clock.Add(10 * time.Minute)
	p.Allow("fresh")

	if n := p.Sweep(5 * time.Minute); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if p.Len() != 1 {
		t.Errorf("Len = %d, want 1", p.Len())
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		xri    string
		remote string
		want   string
	}{
		{"forwarded first hop", "203.0.113.5, 10.0.0.1", "", "10.0.0.2:1234", "203.0.113.5"},
		{"real ip", "", " 198.51.100.7 ", "10.0.0.2:1234", "198.51.100.7"},
		{"remote with port", "", "", "192.0.2.1:5555", "192.0.2.1"},
		{"remote without port", "", "", "192.0.2.1", "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
