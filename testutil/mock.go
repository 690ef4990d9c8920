package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockAPIServer is a path-keyed test server used to stand in for the
// schedule, race-coordination, Discord, and randomizer APIs.
type MockAPIServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockAPIServer creates a mock server. Unregistered paths return 404.
func NewMockAPIServer(t *testing.T) *MockAPIServer {
	t.Helper()
	m := &MockAPIServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockJSON registers a handler that returns the given value as JSON.
func (m *MockAPIServer) MockJSON(path string, v interface{}) {
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
	}
}

// MockEpisode registers the schedule episode lookup response.
func (m *MockAPIServer) MockEpisode(v interface{}) {
	m.MockJSON("/episode", v)
}

// MockRoomData registers a room status payload for the given room id.
func (m *MockAPIServer) MockRoomData(roomID string, v interface{}) {
	m.MockJSON("/"+roomID+"/data", v)
}
