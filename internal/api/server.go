// Package api implements the Coordination API (spec §4.3, §6): a
// stateless, versioned HTTP/JSON surface in front of the FSM Engine
// and Persistent Store. One Server struct wraps the engines with a
// Start/Stop lifecycle and one handler per RPC, transported over
// HTTP/JSON, with chi's Mount used to express "multiple versions
// simultaneously" as sibling sub-routers.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ihmeuw-scicomp/jobmon/internal/fsm"
	"github.com/ihmeuw-scicomp/jobmon/internal/jmlog"
	"github.com/ihmeuw-scicomp/jobmon/internal/store"
)

// Engines bundles the FSM engines a Server dispatches into. Handlers
// never construct engines themselves — engines carry no state, but
// threading them through keeps handler signatures uniform and tests
// able to substitute fakes.
type Engines struct {
	Task         *fsm.TaskEngine
	TaskInstance *fsm.TaskInstanceEngine
	Array        *fsm.ArrayEngine
	Resume       *fsm.ResumeEngine
}

// NewEngines constructs the standard engine set with their real
// inter-dependencies wired (TaskInstanceEngine needs TaskEngine for
// aggregation; ArrayEngine needs TaskEngine for its per-task
// transitions).
func NewEngines() Engines {
	tasks := fsm.NewTaskEngine()
	return Engines{
		Task:         tasks,
		TaskInstance: fsm.NewTaskInstanceEngine(tasks),
		Array:        fsm.NewArrayEngine(tasks),
		Resume:       fsm.NewResumeEngine(),
	}
}

// Config controls a Server's behavior.
type Config struct {
	AuthEnabled bool
	AdminUsers  []string
	// Versions is the set of API version segments to mount (e.g.
	// "v1", "v2"). AuthoritativeVersion must be one of them; it is the
	// version the distributor targets (spec §6).
	Versions             []string
	AuthoritativeVersion string
}

// Server wraps the store and FSM engines behind the HTTP router.
type Server struct {
	store   store.Store
	engines Engines
	cfg     Config
	http    *http.Server
}

// NewServer constructs a Server bound to addr, ready for Start.
func NewServer(addr string, st store.Store, engines Engines, cfg Config) *Server {
	s := &Server{store: st, engines: engines, cfg: cfg}
	s.http = &http.Server{Addr: addr, Handler: s.router()}
	return s
}

// Start runs the HTTP server until the context is canceled or
// ListenAndServe returns a non-shutdown error.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		jmlog.WithComponent("api").Info().Str("addr", s.http.Addr).Msg("coordination api listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.Stop(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("coordination api: %w", err)
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router directly, for tests that want to drive
// requests through httptest without binding a real listener.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
