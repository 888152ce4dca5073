// Package status serves the latest control cycle over HTTP.
package status

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/ipmifanctl/internal/control"
	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
	"github.com/gorilla/mux"
)

const shutdownTimeout = 5 * time.Second

// Status is the JSON view of one control cycle.
type Status struct {
	Time     time.Time              `json:"time"`
	Mode     string                 `json:"mode"`
	MinSpeed int                    `json:"min_speed"`
	MaxSpeed int                    `json:"max_speed"`
	Sensors  []control.SensorStatus `json:"sensors"`
	Fans     []control.FanStatus    `json:"fans"`
}

// FromReport converts a cycle report.
func FromReport(r control.Report) Status {
	return Status{
		Time:     r.Time,
		Mode:     string(r.Mode),
		MinSpeed: r.Bounds.Min,
		MaxSpeed: r.Bounds.Max,
		Sensors:  r.Sensors(),
		Fans:     r.Fans(),
	}
}

type health struct {
	State    string `json:"state"`
	LastSeen string `json:"last_cycle,omitempty"`
}

// Server keeps the latest Status and serves it.
type Server struct {
	addr  string
	state func() control.State
	log   logger.Logger

	mu     sync.RWMutex
	latest *Status
}

type Option func(*Server)

// WithState exposes the controller state on /healthz.
func WithState(fn func() control.State) Option {
	return func(s *Server) { s.state = fn }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr: addr,
		log:  logger.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report stores r as the latest status.
func (s *Server) Report(_ context.Context, r control.Report) error {
	st := FromReport(r)

	s.mu.Lock()
	s.latest = &st
	s.mu.Unlock()

	return nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.getHealth).Methods(http.MethodGet)
	return router
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errFactory := errors.New()

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("Status server listening")

	select {
	case err := <-errCh:
		return errFactory.Wrap(errors.ErrUnavailable, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(errors.ErrShutdownFailed, err)
	}
	s.log.Debug().Msg("Status server stopped")

	return nil
}

// Run serves like Serve, but a listener failure is logged and Run then waits
// for ctx instead of returning, so the endpoint cannot stop fan control.
func (s *Server) Run(ctx context.Context) error {
	err := s.Serve(ctx)
	if err == nil {
		return nil
	}

	var coded errors.Error
	if errors.As(err, &coded) {
		s.log.ErrorWithCode(coded).Str("addr", s.addr).Msg("Status server unavailable")
	} else {
		s.log.Error().Err(err).Str("addr", s.addr).Msg("Status server unavailable")
	}

	<-ctx.Done()
	return nil
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()

	if latest == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no control cycle completed yet"})
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	h := health{State: control.StateIdle.String()}
	if s.state != nil {
		h.State = s.state().String()
	}

	s.mu.RLock()
	if s.latest != nil {
		h.LastSeen = s.latest.Time.Format(time.RFC3339)
	}
	s.mu.RUnlock()

	code := http.StatusOK
	if h.State == control.StateFaulted.String() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
