// Package web serves the material request pages and the admin JSON API.
package web

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/hpnt/matreq/internal/db"
	"github.com/hpnt/matreq/internal/logging"
	"github.com/hpnt/matreq/internal/service"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// Opts holds the dependencies of the HTTP handlers.
type Opts struct {
	Service *service.Service
	DB      *gorm.DB
	Schema  *db.Schema
	Log     logrus.FieldLogger

	// Shown on the home page.
	Environment string
	Storage     string
	Version     string
}

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	Opts
	Port int
	Out  io.Writer
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 5000
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts.Opts)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "matreq running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts Opts) (*gin.Engine, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("web: service is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("web: db is required")
	}
	if opts.Schema == nil {
		opts.Schema = &db.Schema{}
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	registerValidators()

	router := gin.New()
	router.MaxMultipartMemory = 8 << 20
	router.Use(gin.Recovery(), requestID(), requestLogger(logging.Component(opts.Log, "web")), noCache())

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("web: %w", err)
	}
	router.SetHTMLTemplate(tmpl)

	registerRoutes(router, &handlers{Opts: opts})
	return router, nil
}

// parseTemplates loads the embedded HTML templates.
func parseTemplates() (*template.Template, error) {
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}

// apiCORS opens the read-only JSON API to other origins.
func apiCORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowMethods:    []string{"GET"},
		AllowHeaders:    []string{"Origin", "X-Request-ID"},
		ExposeHeaders:   []string{"Content-Length", "X-Request-ID"},
		AllowAllOrigins: true,
		MaxAge:          12 * time.Hour,
	})
}
