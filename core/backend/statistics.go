package backend

import (
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/kumii/core/access"
	"github.com/relabs-tech/kumii/core/envelope"
	"github.com/relabs-tech/kumii/core/logger"
	"github.com/relabs-tech/kumii/core/store"
)

func (b *Backend) handleStatistics(router *mux.Router) {
	logger.Default().Debugln("statistics")
	logger.Default().Debugln("  handle statistics route: /api/admin/statistics GET")
	router.Handle("/admin/statistics", access.RequireAdmin()(http.HandlerFunc(b.statistics))).Methods(http.MethodGet)
}

// statistics reports row count and size of every table. The response carries an ETag.
func (b *Backend) statistics(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	tables, err := b.store.TableStatistics(r.Context())
	if err != nil {
		rlog.WithError(err).Errorln("Error 4028: cannot query statistics")
		envelope.Error(w, http.StatusInternalServerError, "Failed to fetch statistics")
		return
	}
	data := struct {
		Tables []store.TableStatistics `json:"tables"`
	}{Tables: tables}

	jsonData, _ := json.Marshal(data)
	etag := bytesToEtag(jsonData)
	w.Header().Set("Etag", etag)
	if ifNoneMatchFound(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	envelope.OK(w, http.StatusOK, data)
}

func bytesToEtag(b []byte) string {
	hash := md5.Sum(b)
	return "\"" + hex.EncodeToString(hash[:]) + "\""
}

func ifNoneMatchFound(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.Trim(ifNoneMatch, " ")
	if len(ifNoneMatch) == 0 {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	for _, s := range strings.Split(ifNoneMatch, ",") {
		s = strings.Trim(s, " \"")
		t := strings.Trim(etag, " \"")
		if s == t {
			return true
		}
	}
	return false
}
