// Package health implements the liveness and readiness probes served by the
// debug listener.
//
// Liveness (/healthz) only proves the process can still serve HTTP.
// Readiness (/readyz) additionally runs every registered [Checker] and
// answers 503 while any dependency is down. Both respond with a JSON body of
// the form {"status":"ok","checks":{"gateway":"ok"}}.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/traduvox/internal/timing"
	"github.com/MrWong99/traduvox/pkg/translate"
)

// checkTimeout bounds each readiness probe individually.
const checkTimeout = 5 * time.Second

// Checker is a single named readiness probe. Check returns nil while the
// dependency is usable and an error describing the failure otherwise; it must
// honor ctx cancellation.
type Checker struct {
	// Name keys the probe's outcome in the readiness response, e.g.
	// "gateway" or "store".
	Name string

	// Check probes the dependency.
	Check func(ctx context.Context) error
}

// result is the wire shape of both probe responses.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker set is fixed at
// construction, so a Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a [Handler] that evaluates checkers on every readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts both probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz reports liveness. It never fails: if this handler runs at all, the
// process is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all checkers concurrently and answers 503 when any of them
// fails. Each probe gets its own [checkTimeout] deadline derived from the
// request context, so one stuck dependency cannot delay the rest beyond it.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	outcomes := make([]string, len(h.checkers))

	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			if err := c.Check(ctx); err != nil {
				outcomes[i] = "fail: " + err.Error()
				return err
			}
			outcomes[i] = "ok"
			return nil
		})
	}
	err := g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	for i, c := range h.checkers {
		res.Checks[c.Name] = outcomes[i]
	}
	status := http.StatusOK
	if err != nil {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// writeJSON renders v with the given status. The body is encoded up front so
// a marshal failure cannot corrupt an already-started response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

// GatewayChecker reports ready while the translation session is usable.
// Disconnected and errored sessions fail the probe; the in-between states
// (connecting, listening, processing, stopped) pass, since the session's
// reconnector is responsible for them.
func GatewayChecker(session translate.Session) Checker {
	return Checker{
		Name: "gateway",
		Check: func(_ context.Context) error {
			switch state := session.State(); state {
			case translate.StateDisconnected, translate.StateError:
				return fmt.Errorf("session state %q", state)
			default:
				return nil
			}
		},
	}
}

// StoreChecker probes the run store's database connection. A disabled store
// always passes.
func StoreChecker(store *timing.RunStore) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			return store.Ping(ctx)
		},
	}
}
