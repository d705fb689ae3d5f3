package backend

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/relabs-tech/kumii/core/logger"
)

// cors allows the configured origins to call the API with credentials
func (b *Backend) cors() func(http.Handler) http.Handler {
	logger.Default().Debugln("cors origins:", b.config.CORSOrigins)
	return cors.Handler(cors.Options{
		AllowedOrigins:   b.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Accept-Encoding", logger.RequestIDHeader},
		ExposedHeaders:   []string{logger.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	})
}
