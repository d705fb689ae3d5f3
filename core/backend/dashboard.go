package backend

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/kumii/core/envelope"
	"github.com/relabs-tech/kumii/core/logger"
)

func (b *Backend) handleDashboard(router *mux.Router) {
	logger.Default().Debugln("dashboard")
	logger.Default().Debugln("  handle dashboard routes: /api/dashboard/stats GET, /api/dashboard/activity GET")
	router.HandleFunc("/stats", b.dashboardStats).Methods(http.MethodGet)
	router.HandleFunc("/activity", b.recentActivity).Methods(http.MethodGet)
}

func (b *Backend) dashboardStats(w http.ResponseWriter, r *http.Request) {
	auth := caller(r)
	stats, err := b.store.DashboardStats(r.Context(), auth.UserID, auth.IsModerator())
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4951: cannot load dashboard stats")
		envelope.Error(w, http.StatusInternalServerError, "Failed to fetch dashboard stats")
		return
	}
	envelope.OK(w, http.StatusOK, stats)
}

func (b *Backend) recentActivity(w http.ResponseWriter, r *http.Request) {
	var q struct {
		Limit int `query:"limit,default:10" validate:"min=1,max=50"`
	}
	if !decodeQuery(w, r, &q) {
		return
	}
	activities, err := b.store.RecentActivity(r.Context(), caller(r).UserID, q.Limit)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4952: cannot load activity")
		envelope.Error(w, http.StatusInternalServerError, "Failed to fetch activity")
		return
	}
	envelope.OK(w, http.StatusOK, activities)
}
