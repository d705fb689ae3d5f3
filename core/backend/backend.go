package backend

import (
	"embed"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/kumii/core/access"
	"github.com/relabs-tech/kumii/core/backend/kss"
	"github.com/relabs-tech/kumii/core/envelope"
	"github.com/relabs-tech/kumii/core/events"
	"github.com/relabs-tech/kumii/core/jobs"
	"github.com/relabs-tech/kumii/core/logger"
	"github.com/relabs-tech/kumii/core/schema"
)

//go:embed schemas
var schemaFS embed.FS

// Configuration contains the tunables of the REST API
type Configuration struct {
	// Environment is one of development, production or test
	Environment string
	// CORSOrigins are the origins allowed to call the API. The first one is the web
	// client, used for links in emails.
	CORSOrigins []string
	// AllowedFileTypes are the MIME types accepted for attachments
	AllowedFileTypes []string
	// MaxFileSize is the maximum size of an attachment in bytes
	MaxFileSize int64
	// RateLimitWindow and RateLimitMax limit the number of /api/ requests per client.
	// In development the limit is 1000.
	RateLimitWindow time.Duration
	RateLimitMax    int
	// PublicURL is the externally visible URL of the API
	PublicURL string
}

// Backend is the Kumii REST API
type Backend struct {
	config    Configuration
	store     Store
	router    *mux.Router
	api       *mux.Router
	validator *schema.Validator
	verifier  access.TokenVerifier
	queue     jobs.Enqueuer
	jobHealth JobHealth
	publisher events.Publisher
	storage   kss.Driver
	metrics   *metrics
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config contains the tunables of the API. Zero values are replaced by defaults.
	Config Configuration
	// Store is the data access. This is mandatory.
	Store Store
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Verifier checks bearer tokens. This is mandatory.
	Verifier access.TokenVerifier
	// Queue receives the side jobs for mentions, replies and moderation notices. This is
	// optional, without a queue no notifications are sent.
	Queue jobs.Enqueuer
	// JobHealth reports failed jobs on /api/health/jobs. This is optional.
	JobHealth JobHealth
	// Publisher receives domain events. This is optional.
	Publisher events.Publisher
	// Storage stores attachments. If it is nil, the storage is created from KSS.
	Storage kss.Driver
	// KSS configures the attachment storage if Storage is nil. Without either,
	// attachment uploads answer 503.
	KSS *kss.Configuration
}

// New realizes the actual backend and adds all routes to the router
func New(bb *Builder) *Backend {
	if bb.Store == nil {
		panic("Store is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}
	if bb.Verifier == nil {
		panic("Verifier is missing")
	}

	validator, err := schema.NewValidatorFromFS(schemaFS, "schemas")
	if err != nil {
		panic(fmt.Errorf("invalid request schemas: %w", err))
	}

	b := &Backend{
		config:    withDefaults(bb.Config),
		store:     bb.Store,
		router:    bb.Router,
		validator: validator,
		verifier:  bb.Verifier,
		queue:     bb.Queue,
		jobHealth: bb.JobHealth,
		publisher: bb.Publisher,
		storage:   bb.Storage,
		metrics:   newMetrics(),
	}
	if b.publisher == nil {
		b.publisher = events.Nop()
	}
	if b.storage == nil && bb.KSS != nil {
		if err := b.configureKSS(*bb.KSS); err != nil {
			panic(err)
		}
	}

	b.handleRoutes()
	return b
}

func withDefaults(c Configuration) Configuration {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"http://localhost:5173"}
	}
	if len(c.AllowedFileTypes) == 0 {
		c.AllowedFileTypes = []string{"image/jpeg", "image/png", "image/gif", "application/pdf"}
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 10 * 1024 * 1024
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = 15 * time.Minute
	}
	if c.RateLimitMax <= 0 {
		c.RateLimitMax = 100
	}
	return c
}

// Router returns the mux router of the backend
func (b *Backend) Router() *mux.Router {
	return b.router
}

// webOrigin returns the origin of the web client
func (b *Backend) webOrigin() string {
	return strings.TrimSuffix(b.config.CORSOrigins[0], "/")
}

func (b *Backend) development() bool {
	return b.config.Environment == "development"
}

func (b *Backend) handleRoutes() {
	logger.Default().Debugln("backend: handle routes")

	b.router.NotFoundHandler = http.HandlerFunc(notFound)
	b.router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	b.router.Use(b.metrics.middleware)

	// routes without authentication must come before the /api prefix
	b.handleHealth(b.router)
	b.handleMetrics(b.router)

	b.api = b.router.PathPrefix("/api").Subrouter()
	b.api.NotFoundHandler = http.HandlerFunc(notFound)
	b.api.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	b.api.Use(access.Authenticate(b.verifier, b.store))

	access.HandleAuthorizationRoute(b.api)
	b.handleVersion(b.api)
	b.handleStatistics(b.api)
	b.handleJobHealth(b.api)
	b.handleChat(b.api.PathPrefix("/chat").Subrouter())
	b.handleForum(b.api.PathPrefix("/forum").Subrouter())
	b.handleModeration(b.api.PathPrefix("/moderation").Subrouter())
	b.handleNotifications(b.api.PathPrefix("/notifications").Subrouter())
	b.handleUsers(b.api.PathPrefix("/users").Subrouter())
	b.handleDashboard(b.api.PathPrefix("/dashboard").Subrouter())
}

func notFound(w http.ResponseWriter, r *http.Request) {
	envelope.Error(w, http.StatusNotFound, "Resource not found")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	envelope.Error(w, http.StatusMethodNotAllowed, "Method not allowed")
}
