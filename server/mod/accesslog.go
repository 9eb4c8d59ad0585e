package mod

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/omalloc/crateproxy/contrib/log"
	xhttp "github.com/omalloc/crateproxy/pkg/x/http"
)

// AccessLog logs one line per request: method, path, status, size and
// latency. It also stamps the request with a fresh request id, carried
// both on the response (X-Request-Id) and on the request context so
// downstream handlers' log lines (e.g. httpfront's per-download
// logging) are correlated to the same id.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := xhttp.NewResponseRecorder(w)

		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)
		ctx := log.WithContext(r.Context(), "request_id", requestID, "remote_addr", xhttp.ClientIP(r.RemoteAddr, r.Header))
		r = r.WithContext(ctx)

		next.ServeHTTP(rec, r)

		log.Infof("%s %s %s -> %d %dB %s client=%s request_id=%s",
			r.Proto, r.Method, r.URL.Path,
			rec.Status(), rec.Size(), time.Since(start),
			xhttp.ClientIP(r.RemoteAddr, r.Header),
			requestID,
		)
	})
}
