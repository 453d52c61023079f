package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/Harshitk-cp/resona/internal/api/handlers"
	mw "github.com/Harshitk-cp/resona/internal/api/middleware"
	"github.com/Harshitk-cp/resona/internal/buildconfig"
	"github.com/Harshitk-cp/resona/internal/config"
	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/Harshitk-cp/resona/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const healthTimeout = 2 * time.Second

// Options carries the tunables NewApp needs. OptionsFromConfig reads them
// from the environment; tests build them directly.
type Options struct {
	Aggregator        string
	SignalKey         string
	EventWindow       int
	IncidentWindow    int
	CoherenceSpan     time.Duration
	ReturnEpsilon     float64
	DropThreshold     float64
	BroadcastInterval time.Duration
	CycleTimeout      time.Duration
	APIKeys           []string
	ExportSalt        string
	RateLimitRPS      float64
	RateLimitBurst    int
}

func OptionsFromConfig() Options {
	return Options{
		Aggregator:        config.CoherenceAggregator(),
		SignalKey:         config.CoherenceSignalKey(),
		EventWindow:       config.EventWindow(),
		IncidentWindow:    config.IncidentWindow(),
		CoherenceSpan:     config.CoherenceSpan(),
		ReturnEpsilon:     config.ReturnEpsilon(),
		DropThreshold:     config.DropThreshold(),
		BroadcastInterval: config.BroadcastInterval(),
		CycleTimeout:      config.CycleTimeout(),
		APIKeys:           config.APIKeys(),
		ExportSalt:        config.ExportSalt(),
		RateLimitRPS:      config.RateLimitRPS(),
		RateLimitBurst:    config.RateLimitBurst(),
	}
}

// App holds the router and the services with a lifecycle.
type App struct {
	Router      *chi.Mux
	Broadcaster *service.Broadcaster
	State       *service.StateService

	health       domain.HealthChecker
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(stores domain.Stores, opts Options, logger *zap.Logger) (*App, error) {
	agg, err := service.NewAggregator(opts.Aggregator, opts.SignalKey)
	if err != nil {
		return nil, err
	}
	calc := service.NewCoherenceCalculator(agg, service.Window{Limit: opts.EventWindow, Span: opts.CoherenceSpan})

	// Services
	incidentSvc := service.NewIncidentService(stores.Incidents, logger)
	detector := service.NewDriftDetector(stores.Events, incidentSvc, calc, opts.EventWindow, opts.DropThreshold, logger)
	eventSvc := service.NewEventService(stores.Events, detector, logger)
	sessionSvc := service.NewSessionService(stores.Sessions, logger)
	checkpointSvc := service.NewCheckpointService(stores.Checkpoints, stores.Events, calc, opts.EventWindow, logger)
	mappingSvc := service.NewReturnMappingService(stores.ReturnMappings, incidentSvc, logger)
	stateSvc := service.NewStateService(
		stores.Snapshots,
		calc,
		service.NewReturnValidator(opts.ReturnEpsilon),
		mappingSvc,
		domain.SnapshotOpts{EventLimit: opts.EventWindow, IncidentLimit: opts.IncidentWindow},
		logger,
	)
	broadcaster := service.NewBroadcaster(stateSvc, opts.BroadcastInterval, opts.CycleTimeout, logger)
	exportSvc := service.NewExportService(stores.Export, agg.Name(), opts.ReturnEpsilon, opts.ExportSalt, logger)

	// Handlers
	sessionHandler := handlers.NewSessionHandler(sessionSvc)
	eventHandler := handlers.NewEventHandler(eventSvc)
	checkpointHandler := handlers.NewCheckpointHandler(checkpointSvc)
	incidentHandler := handlers.NewIncidentHandler(incidentSvc)
	mappingHandler := handlers.NewReturnMappingHandler(mappingSvc, stateSvc)
	stateHandler := handlers.NewStateHandler(stateSvc, broadcaster)
	streamHandler := handlers.NewStreamHandler(broadcaster, logger)
	exportHandler := handlers.NewExportHandler(exportSvc)

	r := chi.NewRouter()

	app := &App{
		Router:      r,
		Broadcaster: broadcaster,
		State:       stateSvc,
		health:      stores.Health,
		startTime:   time.Now(),
	}

	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(opts.RateLimitRPS, opts.RateLimitBurst))

	// Health and metrics (no auth)
	r.Get("/health", app.healthHandler())
	r.Get("/metrics", app.metricsHandler())
	r.Handle("/metrics/prometheus", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(opts.APIKeys))

		r.Post("/export", exportHandler.Export)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Create)
			r.Get("/", sessionHandler.List)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Post("/end", sessionHandler.End)

				r.Post("/events", eventHandler.Ingest)
				r.Get("/events", eventHandler.List)

				r.Route("/checkpoints", func(r chi.Router) {
					r.Post("/", checkpointHandler.Save)
					r.Get("/", checkpointHandler.List)
					r.Get("/active", checkpointHandler.GetActive)
					r.Post("/{checkpointID}/rollback", checkpointHandler.Rollback)
				})

				r.Post("/incidents", incidentHandler.Record)
				r.Get("/incidents", incidentHandler.List)

				r.Get("/return-mappings", mappingHandler.List)
				r.Post("/return-mappings", mappingHandler.Submit)
				r.Post("/return-mappings/validate", mappingHandler.Validate)

				// Live state
				r.Get("/state", stateHandler.Get)
				r.Get("/stream", streamHandler.SSE)
				r.Get("/ws", streamHandler.WebSocket)
				r.Delete("/feed", stateHandler.CancelFeed)
			})
		})
	})

	logger.Info("coherence pipeline configured",
		zap.String("aggregator", agg.Name()),
		zap.Int("event_window", opts.EventWindow),
		zap.Duration("coherence_span", opts.CoherenceSpan),
		zap.Duration("broadcast_interval", opts.BroadcastInterval),
		zap.Bool("auth_enabled", len(opts.APIKeys) > 0))

	return app, nil
}

// Shutdown stops the live feed. Subscribers see their channels close.
func (app *App) Shutdown() {
	app.Broadcaster.Stop()
}

func (app *App) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := map[string]any{
			"status":  "healthy",
			"version": buildconfig.Version(),
			"commit":  buildconfig.Commit(),
		}
		status := http.StatusOK

		if err := app.health.Ping(ctx); err != nil {
			resp["status"] = "degraded"
			resp["error"] = err.Error()
			status = http.StatusServiceUnavailable
		} else if missing, err := app.health.MissingTables(ctx); err != nil {
			resp["status"] = "degraded"
			resp["error"] = err.Error()
			status = http.StatusServiceUnavailable
		} else if len(missing) > 0 {
			resp["status"] = "degraded"
			resp["error"] = fmt.Sprintf("missing tables: %v", missing)
			resp["missing_tables"] = missing
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"uptime_seconds":     uptime.Seconds(),
			"uptime_human":       uptime.Round(time.Second).String(),
			"request_count":      app.requestCount.Load(),
			"error_count":        app.errorCount.Load(),
			"live_feed_sessions": app.Broadcaster.ActiveSessions(),
			"goroutines":         runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb": float64(memStats.Alloc) / 1024 / 1024,
				"sys_mb":   float64(memStats.Sys) / 1024 / 1024,
				"num_gc":   memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}
