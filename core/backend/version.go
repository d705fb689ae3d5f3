package backend

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/kumii/core/envelope"
	"github.com/relabs-tech/kumii/core/logger"
)

var (
	// Version is the version of the curent build
	Version = "unset"
)

func (b *Backend) handleVersion(router *mux.Router) {
	logger.Default().Debugln("version")
	logger.Default().Debugln("  handle version route: /api/version GET")
	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		envelope.OK(w, http.StatusOK, map[string]string{"version": Version, "environment": b.config.Environment})
	}).Methods(http.MethodGet)
}
