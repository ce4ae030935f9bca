package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/loopcast/internal/api/models"
	"github.com/smazurov/loopcast/internal/events"
	"github.com/smazurov/loopcast/internal/logging"
	"github.com/smazurov/loopcast/internal/streams"
	"github.com/smazurov/loopcast/internal/version"
)

// Server is the loopcast HTTP API.
type Server struct {
	api           huma.API
	mux           *http.ServeMux
	httpServer    *http.Server
	streamService streams.Service
	eventBus      *events.Bus
	options       *Options
	logger        *slog.Logger
}

// Options configures the API server.
type Options struct {
	StreamService     streams.Service
	EventBus          *events.Bus  // shared with the stream service; created when nil
	PrometheusHandler http.Handler // optional, served at GET /metrics
	CORS              *CORSConfig  // nil = DefaultCORSConfig
	OnListening       func()       // called once the listener is bound
}

// NewServer creates the API server with Huma v2 on the Go 1.22+ native router.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	if opts.CORS != nil {
		corsConfig = *opts.CORS
	}

	// Preflight requests never reach huma middleware
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("loopcast API", "1.0.0")
	config.Info.Description = "Loop a video file to an RTMP ingest and supervise the encoder"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}

	api := humago.New(mux, config)

	eventBus := opts.EventBus
	if eventBus == nil {
		eventBus = events.New()
	}

	server := &Server{
		api:           api,
		mux:           mux,
		streamService: opts.StreamService,
		eventBus:      eventBus,
		options:       opts,
		logger:        logging.GetLogger("api"),
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)

	server.registerMetricsRoutes()
	server.registerRoutes()

	return server
}

// GetMux returns the underlying HTTP ServeMux for additional setup
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves the API on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting loopcast API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if s.options.OnListening != nil {
		s.options.OnListening()
	}

	return s.httpServer.Serve(ln)
}

// Stop closes the listener and all connections, including open SSE streams.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	if s.httpServer != nil {
		return s.httpServer.Close()
	}

	return nil
}

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
	}, func(ctx context.Context, input *struct{}) (*models.VersionResponse, error) {
		versionInfo := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   versionInfo.Version,
				GitCommit: versionInfo.GitCommit,
				BuildDate: versionInfo.BuildDate,
				BuildID:   versionInfo.BuildID,
				GoVersion: versionInfo.GoVersion,
				Compiler:  versionInfo.Compiler,
				Platform:  versionInfo.Platform,
			},
		}, nil
	})

	s.registerSessionRoutes()
	s.registerJobRoutes()
	s.registerJobLogRoutes()
	s.registerLogRoutes()
	s.registerSSERoutes()
}
