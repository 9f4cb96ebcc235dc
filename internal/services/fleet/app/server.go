// Package server hosts the fleet coordinator's connection gateway: the
// operator-facing and worker-facing websocket pools, the assignment engine,
// and the auto-balance loop. Seeder state lives in the domain registry; this
// package owns transport, authorization, and the control loops around it.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/rydklein/bflauncher-server/internal/platform/timeouts"
	"github.com/rydklein/bflauncher-server/internal/services/fleet/auth"
	fleetconfig "github.com/rydklein/bflauncher-server/internal/services/fleet/config"
	"github.com/rydklein/bflauncher-server/internal/services/fleet/domain"
	"github.com/rydklein/bflauncher-server/internal/services/fleet/population"
)

const (
	sessionCookieName = "bfl_session"

	defaultBalanceInterval      = time.Minute
	defaultConfigReloadInterval = 15 * time.Second
)

// Config defines the inputs for the coordinator gateway.
type Config struct {
	HTTPAddr             string
	ConfigDir            string
	SessionIssuer        string
	SessionAudience      string
	SessionPublicKey     string
	BalanceInterval      time.Duration
	ConfigReloadInterval time.Duration
	ReadHeaderTimeout    time.Duration
	ShutdownTimeout      time.Duration

	// Population overrides the real population services, for tests.
	Population population.Service
}

// Server hosts the coordinator HTTP/websocket process.
type Server struct {
	httpAddr             string
	shutdownTimeout      time.Duration
	configReloadInterval time.Duration
	httpServer           *http.Server
	handler              http.Handler

	store    *fleetconfig.Store
	registry *domain.Registry
	hub      *operatorHub
	workers  *workerPool
	auto     *automationState
	engine   *engine
	balancer *balancer
	verifier auth.SessionVerifier
}

// NewServer builds a configured coordinator server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}
	if config.BalanceInterval <= 0 {
		config.BalanceInterval = defaultBalanceInterval
	}
	if config.ConfigReloadInterval <= 0 {
		config.ConfigReloadInterval = defaultConfigReloadInterval
	}

	verifier, err := auth.NewSessionVerifier(config.SessionIssuer, config.SessionAudience, config.SessionPublicKey)
	if err != nil {
		return nil, fmt.Errorf("configure session verifier: %w", err)
	}

	store, err := fleetconfig.Load(config.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("load coordinator config: %w", err)
	}

	service := config.Population
	if service == nil {
		service = population.NewClient(population.Config{})
	}

	hub := newOperatorHub()
	workers := newWorkerPool()
	registry := domain.NewRegistry(domain.RegistryEvents{
		SeederUpdated: func(id string, seeder domain.Seeder) {
			hub.broadcast(wsFrame{
				Type:    frameSeederUpdate,
				Payload: mustJSON(seederUpdatePayload{ID: id, Seeder: seeder}),
			})
		},
		SeederRemoved: func(id string) {
			hub.broadcast(wsFrame{
				Type:    frameSeederGone,
				Payload: mustJSON(seederGonePayload{ID: id}),
			})
		},
	})
	auto := newAutomationState()
	eng := &engine{
		registry: registry,
		resolver: population.Resolver{Service: service},
		workers:  workers,
		hub:      hub,
		auto:     auto,
	}

	s := &Server{
		httpAddr:             httpAddr,
		shutdownTimeout:      config.ShutdownTimeout,
		configReloadInterval: config.ConfigReloadInterval,
		store:                store,
		registry:             registry,
		hub:                  hub,
		workers:              workers,
		auto:                 auto,
		engine:               eng,
		verifier:             verifier,
	}
	s.balancer = &balancer{
		interval: config.BalanceInterval,
		engine:   eng,
		registry: registry,
		servers:  store,
		service:  service,
		auto:     auto,
		now:      time.Now,
	}
	s.handler = s.newHandler()
	s.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	return s, nil
}

// Run creates and serves a coordinator server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init coordinator server: %w", err)
	}

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve coordinator: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server, the config watcher, and the
// auto-balance loop until the context ends. Failure to bind the listener is
// the only fatal condition.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("coordinator server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()
	go s.store.Watch(loopCtx, s.configReloadInterval)
	go s.balancer.Run(loopCtx)

	serveErr := make(chan error, 1)
	log.Printf("coordinator listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

func (s *Server) newHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	operatorWS := websocket.Handler(s.handleOperatorConn)
	mux.HandleFunc("/ws/operator", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		identity, err := s.authorizeOperator(r)
		if err != nil {
			log.Printf("operator websocket unauthorized for remote=%s: %v", r.RemoteAddr, err)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		if !s.store.IsAuthorizedOperator(identity.UserID) {
			log.Printf("operator %q not in authorized list, remote=%s", identity.UserID, r.RemoteAddr)
			http.Error(w, "operator access required", http.StatusForbidden)
			return
		}
		ctx := context.WithValue(r.Context(), operatorIdentityContextKey{}, identity)
		operatorWS.ServeHTTP(w, r.WithContext(ctx))
	})

	workerWS := websocket.Handler(s.handleWorkerConn)
	mux.HandleFunc("/ws/seeder", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		meta, err := s.authorizeWorker(r)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, errWorkerTokenMismatch) {
				status = http.StatusUnauthorized
			}
			log.Printf("worker websocket refused for remote=%s: %v", r.RemoteAddr, err)
			http.Error(w, err.Error(), status)
			return
		}
		ctx := context.WithValue(r.Context(), workerMetaContextKey{}, meta)
		workerWS.ServeHTTP(w, r.WithContext(ctx))
	})

	return mux
}

func (s *Server) authorizeOperator(r *http.Request) (auth.Identity, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return auth.Identity{}, domain.NewError(domain.CodeHandshakeRejected, "missing session cookie")
	}
	return s.verifier.Verify(cookie.Value)
}
