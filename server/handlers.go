package server

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/onnwee/race-tender/config"
	"github.com/onnwee/race-tender/race"
	"github.com/onnwee/race-tender/registry"
	"github.com/onnwee/race-tender/sheetsapi"
)

const maxOAuthStates = 10000

// Deps carries the collaborators the HTTP handlers act on.
type Deps struct {
	DB           *sql.DB
	Cfg          *config.Config
	Orchestrator *race.Orchestrator
	Registry     *registry.Registry
	Sheets       *sheetsapi.Service
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps       Deps
	ctx        context.Context
	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	return &Handlers{
		deps:       deps,
		ctx:        ctx,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states. Call with stateMu held.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState stores a state with an expiry, bounding the map so an
// unauthenticated caller cannot exhaust memory by spamming the start URL.
func (h *Handlers) addOAuthState(state string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		return
	}
	h.stateStore[state] = expiry
}

func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	expiry, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return time.Now().Before(expiry)
}
