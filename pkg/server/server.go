package server

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/denysvitali/sharedfiles-go/pkg/config"
	"github.com/denysvitali/sharedfiles-go/pkg/metrics"
	"github.com/denysvitali/sharedfiles-go/pkg/store"
	"github.com/denysvitali/sharedfiles-go/pkg/telemetry"
)

//go:embed templates/*.html
var templatesFS embed.FS

const requestIDKey = "request_id"

// Server represents the HTTP server
type Server struct {
	config *config.Config
	logger *logrus.Logger
	store  *store.Store
	engine *gin.Engine
	server *http.Server
}

// New creates a new server instance, creating the shared root if needed
func New(cfg *config.Config, logger *logrus.Logger) (*Server, error) {
	st, err := store.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	return NewWithStore(cfg, st, logger)
}

// NewWithStore creates a server on top of an existing store
func NewWithStore(cfg *config.Config, st *store.Store, logger *logrus.Logger) (*Server, error) {
	if logger.Level == logrus.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	tmpl, err := template.New("").Funcs(template.FuncMap{"urlpath": urlPath}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	engine := gin.New()
	engine.MaxMultipartMemory = cfg.Server.MaxUploadMemoryMB << 20
	engine.SetHTMLTemplate(tmpl)

	engine.Use(gin.Recovery())
	engine.Use(requestID())
	engine.Use(ginLogger(logger))

	if cfg.Telemetry.Enabled {
		engine.Use(otelgin.Middleware(telemetry.ServiceName))
	}

	if cfg.Metrics.Enabled {
		engine.Use(metrics.Middleware())
	}

	engine.Use(corsMiddleware())

	server := &Server{
		config: cfg,
		logger: logger,
		store:  st,
		engine: engine,
	}

	server.setupRoutes()

	return server, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port)),
		Handler:           s.engine,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Infof("Serving %s on %s", s.store.Root(), s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Engine returns the gin engine for testing purposes
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.GET("/alive", s.handleAlive)
	s.engine.GET("/server_info", s.handleServerInfo)

	if s.config.Metrics.Enabled {
		s.engine.GET(s.config.Metrics.Path, gin.WrapH(metrics.Handler()))
	}

	// Browsing
	s.engine.GET("/", s.handleIndex)
	s.engine.GET("/api/tree", s.handleTree)

	// Files
	s.engine.POST("/upload", s.handleUpload)
	s.engine.GET("/files/*path", s.handleServeFile)
	s.engine.GET("/download_file/*path", s.handleDownloadFile)
	s.engine.POST("/delete_file/*path", s.handleDeleteFile)

	// Folders
	s.engine.GET("/download_folder/*path", s.handleDownloadFolder)
	s.engine.POST("/delete_folder/*path", s.handleDeleteFolder)

	// Scratch text
	s.engine.POST("/create_local_text", s.handleCreateText)
	s.engine.GET("/read_local_text", s.handleReadText)
	s.engine.GET("/api/text", s.handleGetText)
	s.engine.PUT("/api/text", s.handlePutText)
}

// requestID tags every request with an X-Request-ID, reusing a valid one
// sent by the client
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// ginLogger creates a gin logger middleware using logrus
func ginLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		entry := logger.WithFields(logrus.Fields{
			"status":     statusCode,
			"method":     c.Request.Method,
			"path":       path,
			"ip":         c.ClientIP(),
			"latency":    latency,
			"request_id": c.GetString(requestIDKey),
		})

		if raw != "" {
			entry = entry.WithField("query", raw)
		}
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		if statusCode >= 500 {
			entry.Error("Server error")
		} else if statusCode >= 400 {
			entry.Warn("Client error")
		} else {
			entry.Info("Request completed")
		}
	}
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
