package backend

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/go-chi/httprate"
	"github.com/gorilla/handlers"
	"github.com/relabs-tech/kumii/core/envelope"
	"github.com/relabs-tech/kumii/core/logger"
)

// maxBodySize is the size limit of JSON request bodies
const maxBodySize = 10 * 1024 * 1024

// Handler returns the router wrapped into the middleware chain of the service. From
// the outside in: proxy headers, request id and logger, panic recovery, security
// headers, CORS, compression, body limit, rate limit and request logging.
func (b *Backend) Handler() http.Handler {
	var h http.Handler = b.router
	h = logger.RequestLogger(h)
	h = b.rateLimit(h)
	h = b.limitBody(h)
	h = handlers.CompressHandler(h)
	h = b.cors()(h)
	h = b.securityHeaders(h)
	h = b.recovery(h)
	h = logger.RequestIDMiddleware(h)
	h = handlers.ProxyHeaders(h)
	return h
}

func (b *Backend) recovery(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if err == http.ErrAbortHandler {
				panic(err)
			}
			logger.FromContext(r.Context()).WithField("stack", string(debug.Stack())).
				Errorln("Error 4000: panic in", r.Method, r.URL.Path, ":", err)
			res := envelope.Response{Error: "Internal server error"}
			if b.development() {
				res.Details = []envelope.FieldError{{Message: fmt.Sprint(err)}}
			}
			envelope.Write(w, http.StatusInternalServerError, res)
		}()
		h.ServeHTTP(w, r)
	})
}

func (b *Backend) securityHeaders(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; script-src 'self'; img-src 'self' data: https:")
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-Frame-Options", "SAMEORIGIN")
		header.Set("Referrer-Policy", "no-referrer")
		if b.config.Environment == "production" {
			header.Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
		}
		h.ServeHTTP(w, r)
	})
}

// limitBody limits JSON bodies to maxBodySize. Multipart uploads may carry an
// attachment of the maximum file size plus form overhead.
func (b *Backend) limitBody(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			limit := int64(maxBodySize)
			if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
				limit = b.config.MaxFileSize + 1024*1024
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		h.ServeHTTP(w, r)
	})
}

// rateLimit limits the requests per client IP on /api/. The health routes are exempt.
func (b *Backend) rateLimit(h http.Handler) http.Handler {
	max := b.config.RateLimitMax
	if b.development() {
		max = 1000
	}
	limited := httprate.Limit(max, b.config.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			logger.FromContext(r.Context()).Warnln("rate limit exceeded")
			envelope.Error(w, http.StatusTooManyRequests, "Too many requests, please try again later.")
		}),
	)(h)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/api/health" {
			h.ServeHTTP(w, r)
			return
		}
		limited.ServeHTTP(w, r)
	})
}
