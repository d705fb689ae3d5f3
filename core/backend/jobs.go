package backend

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/kumii/core/access"
	"github.com/relabs-tech/kumii/core/envelope"
	"github.com/relabs-tech/kumii/core/jobs"
	"github.com/relabs-tech/kumii/core/logger"
)

func (b *Backend) handleJobHealth(router *mux.Router) {
	logger.Default().Debugln("job health")
	logger.Default().Debugln("  handle job health route: /api/health/jobs GET")
	logger.Default().Debugln("  handle job health route: /api/health/jobs DELETE")
	admin := access.RequireAdmin()
	router.Handle("/health/jobs", admin(http.HandlerFunc(b.jobsHealth))).Methods(http.MethodGet)
	router.Handle("/health/jobs", admin(http.HandlerFunc(b.purgeJobsHealth))).Methods(http.MethodDelete)
}

// jobsHealth reports failed, failing and overdue jobs. details=true lists them.
func (b *Backend) jobsHealth(w http.ResponseWriter, r *http.Request) {
	var q struct {
		Details bool `query:"details,default:false"`
	}
	if !decodeQuery(w, r, &q) {
		return
	}
	if b.jobHealth == nil {
		envelope.OK(w, http.StatusOK, jobs.Health{})
		return
	}
	health, err := b.jobHealth.Health(r.Context(), q.Details)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4222: cannot query database")
		envelope.Error(w, http.StatusInternalServerError, "Failed to fetch job health")
		return
	}
	envelope.OK(w, http.StatusOK, health)
}

// purgeJobsHealth deletes all failed jobs
func (b *Backend) purgeJobsHealth(w http.ResponseWriter, r *http.Request) {
	var purged int64
	if b.jobHealth != nil {
		var err error
		purged, err = b.jobHealth.HealthPurge(r.Context())
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("Error 4223: cannot query database")
			envelope.Error(w, http.StatusInternalServerError, "Failed to purge failed jobs")
			return
		}
	}
	envelope.OK(w, http.StatusOK, map[string]int64{"purged": purged})
}
