package application

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/eugenenazirov/gnn-trainconf/internal/api"
	"github.com/eugenenazirov/gnn-trainconf/internal/config"
	"github.com/eugenenazirov/gnn-trainconf/internal/registry"
	"github.com/eugenenazirov/gnn-trainconf/internal/schedule"
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	registry registry.Registry
	planner  schedule.Planner
	handler  *api.Handler
	router   http.Handler
	logger   *zap.Logger
	server   *http.Server
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	reg := registry.NewMemoryRegistry()
	if err := RegisterComponents(reg, cfg.Components); err != nil {
		return nil, fmt.Errorf("failed to apply extra components: %w", err)
	}

	planner := schedule.New()
	handler := api.NewHandler(reg, planner,
		api.WithHandlerLogger(logger),
		api.WithPathCheck(cfg.CheckPaths),
		api.WithStrictBatchSize(cfg.StrictBatchSize),
		api.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)
	apiRouter := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	return &App{
		registry: reg,
		planner:  planner,
		handler:  handler,
		router:   apiRouter,
		logger:   logger,
		server:   NewServer(cfg, BuildRootHandler(apiRouter)),
	}, nil
}

// RegisterComponents adds the configured extra component names to reg, in kind order.
func RegisterComponents(reg registry.Registry, components map[string][]string) error {
	kinds := make([]string, 0, len(components))
	for kind := range components {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	for _, raw := range kinds {
		kind, err := registry.ParseKind(raw)
		if err != nil {
			return fmt.Errorf("%q: %w", raw, err)
		}
		if err := reg.Register(kind, components[raw]); err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
	}
	return nil
}

const serviceName = "gnn-trainconf"

type serviceDescription struct {
	Service   string      `json:"service"`
	Endpoints []api.Route `json:"endpoints"`
}

// BuildRootHandler constructs the root HTTP handler that routes API requests
// and describes the service at "/".
func BuildRootHandler(apiHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(serviceDescription{
			Service:   serviceName,
			Endpoints: api.Routes(),
		})
	}))
	return mux
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start starts the HTTP server in a goroutine and logs the listening address.
func (a *App) Start() error {
	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}
