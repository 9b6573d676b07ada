package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "192.0.2.1:5555", "192.0.2.1"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "10.0.0.2:80", "203.0.113.9"},
		{"forwarded garbage skipped", map[string]string{"X-Forwarded-For": "unknown, 203.0.113.10"}, "10.0.0.2:80", "203.0.113.10"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.3"}, "10.0.0.2:80", "198.51.100.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}

func TestVisitorStore_Cleanup(t *testing.T) {
	s := newVisitorStore(1, 1, time.Minute)
	defer s.stop()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.mu.Lock()
	s.now = func() time.Time { return now }
	s.mu.Unlock()

	s.limiter("203.0.113.1")
	now = now.Add(30 * time.Second)
	s.limiter("203.0.113.2")
	assert.Equal(t, 2, s.len())

	now = now.Add(45 * time.Second)
	s.cleanup()
	assert.Equal(t, 1, s.len(), "only the idle visitor is evicted")
}

func TestVisitorStore_StopIsIdempotent(t *testing.T) {
	s := newVisitorStore(1, 1, time.Minute)
	s.stop()
	s.stop()
}
