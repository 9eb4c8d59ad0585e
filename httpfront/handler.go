// Package httpfront is the mirror's public HTTP surface: it serves
// cached crate downloads directly and falls through to the tunnel
// multiplexer on a cache miss (spec §4.E).
package httpfront

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/omalloc/crateproxy/cache"
	"github.com/omalloc/crateproxy/contrib/log"
	xerrors "github.com/omalloc/crateproxy/pkg/errors"
	"github.com/omalloc/crateproxy/metrics"
	"github.com/omalloc/crateproxy/mux"
	"github.com/omalloc/crateproxy/wire"
)

// writeError applies err's headers, writes its status code and a plain
// text body, and records the response in metrics.
func writeError(w http.ResponseWriter, err *xerrors.Error, message string) {
	for k, vs := range err.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	http.Error(w, message, err.Code)
	metrics.HTTPResponse(err.Code)
}

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 32*1024)
		return &b
	},
}

// Handler serves GET /api/v1/crates/{name}/{version}/download.
type Handler struct {
	cache *cache.Cache
	mux   *mux.Multiplexer
}

// New builds a Handler.
func New(c *cache.Cache, m *mux.Multiplexer) *Handler {
	return &Handler{cache: c, mux: m}
}

// DownloadPrefix is the path prefix routed to Handler.
const DownloadPrefix = "/api/v1/crates/"

const downloadSuffix = "/download"

// parseDownloadPath extracts (name, version) from a request path of
// the form /api/v1/crates/{name}/{version}/download, or ok=false if it
// doesn't match.
func parseDownloadPath(path string) (name, version string, ok bool) {
	if !strings.HasPrefix(path, DownloadPrefix) || !strings.HasSuffix(path, downloadSuffix) {
		return "", "", false
	}
	middle := strings.TrimSuffix(strings.TrimPrefix(path, DownloadPrefix), downloadSuffix)
	parts := strings.Split(middle, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := log.Context(r.Context())

	if r.Method != http.MethodGet {
		http.Error(w, "bad request", http.StatusBadRequest)
		metrics.HTTPResponse(http.StatusBadRequest)
		return
	}
	if r.URL.Path == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		metrics.HTTPResponse(http.StatusBadRequest)
		return
	}
	if r.URL.RawQuery != "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		metrics.HTTPResponse(http.StatusBadRequest)
		return
	}

	name, version, ok := parseDownloadPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		metrics.HTTPResponse(http.StatusNotFound)
		return
	}
	id := wire.PackageId{Name: name, Version: version}

	if rc, size, err := h.cache.Open(id); err == nil {
		defer rc.Close()
		metrics.CacheResult("hit")
		w.Header().Set("Content-Type", "application/gzip")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
		w.WriteHeader(http.StatusOK)
		h.copyBody(logger, w, rc)
		return
	} else if !errors.Is(err, cache.ErrNotFound) {
		logger.Errorf("httpfront: cache open %s: %v", id, err)
		writeError(w, xerrors.New(http.StatusInternalServerError, nil).WithCause(err), "internal error")
		return
	}

	metrics.CacheResult("miss")
	h.streamFromUpstream(logger, w, r, id)
}

// streamFromUpstream binds a cache-miss request to a multiplexer
// session and copies its Opcodes onto the HTTP response body as they
// arrive. Per spec §4.E, a successful proxied download is never
// written to the cache from this path: cache population happens only
// through the control plane's UploadCrate, so this function never
// touches h.cache.
func (h *Handler) streamFromUpstream(logger *log.Helper, w http.ResponseWriter, r *http.Request, id wire.PackageId) {
	opcodes, cancel, err := h.mux.BeginDownload(id.Name, id.Version)
	if err != nil {
		logger.Warnf("httpfront: %s: %v", id, err)
		http.NotFound(w, r)
		metrics.HTTPResponse(http.StatusNotFound)
		return
	}
	defer cancel()

	headerWritten := false
	var streamErr error

	for {
		select {
		case <-r.Context().Done():
			return
		case op, ok := <-opcodes:
			if !ok {
				return
			}
			switch op.Kind {
			case wire.OpcodeInit:
				if headerWritten {
					logger.Errorf("httpfront: %s: Init opcode out of order", id)
					return
				}
				w.Header().Set("Content-Type", op.ContentType)
				if op.ContentLength > 0 {
					w.Header().Set("Content-Length", fmt.Sprintf("%d", op.ContentLength))
				}
				w.WriteHeader(http.StatusOK)
				headerWritten = true
			case wire.OpcodeChunk:
				if !headerWritten {
					logger.Errorf("httpfront: %s: Chunk before Init", id)
					writeError(w, xerrors.New(http.StatusInternalServerError, nil), "internal error")
					return
				}
				if _, werr := w.Write(op.Bytes); werr != nil {
					streamErr = werr
				}
			case wire.OpcodeComplete:
				if !headerWritten {
					writeError(w, xerrors.New(http.StatusInternalServerError, nil), "internal error")
					return
				}
				if !op.IsOk() && streamErr == nil {
					logger.Warnf("httpfront: %s: upstream reported failure mid-stream", id)
				}
				if streamErr != nil {
					logger.Errorf("httpfront: stream %s to client: %v", id, streamErr)
				}
				metrics.HTTPResponse(http.StatusOK)
				return
			}
		}
	}
}

func (h *Handler) copyBody(logger *log.Helper, w http.ResponseWriter, rc io.Reader) {
	buf := bufPool.Get().(*[]byte)
	defer bufPool.Put(buf)

	if _, err := io.CopyBuffer(w, rc, *buf); err != nil {
		logger.Errorf("httpfront: copy cached body: %v", err)
	}
	metrics.HTTPResponse(http.StatusOK)
}
