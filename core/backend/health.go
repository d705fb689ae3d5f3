package backend

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/kumii/core/envelope"
	"github.com/relabs-tech/kumii/core/logger"
)

type healthStatus struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Environment string    `json:"environment"`
	Database    string    `json:"database"`
}

func (b *Backend) handleHealth(router *mux.Router) {
	logger.Default().Debugln("health")
	logger.Default().Debugln("  handle health route: /health GET")
	logger.Default().Debugln("  handle health route: /api/health GET")
	router.HandleFunc("/health", b.health).Methods(http.MethodGet)
	router.HandleFunc("/api/health", b.health).Methods(http.MethodGet)
}

// health reports healthy as long as the database answers within two seconds
func (b *Backend) health(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Environment: b.config.Environment,
		Database:    "connected",
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := b.store.Ping(ctx); err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4101: database not reachable")
		status.Status = "unhealthy"
		status.Database = "disconnected"
		envelope.OK(w, http.StatusServiceUnavailable, status)
		return
	}
	envelope.OK(w, http.StatusOK, status)
}
