// Package stats exposes the optional, read-only JSON statistics endpoint
// described by the client configuration's statistics section: cache
// occupancy, the effective configuration, and per-service handle listings.
package stats

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/thrasher-corp/lsd/client"
	"github.com/thrasher-corp/lsd/config"
	"github.com/thrasher-corp/lsd/log"
)

// Error codes, matching the request/reply contract verbatim.
const (
	ErrBadJSON             = 1
	ErrNoVersion           = 2
	ErrUnsupportedVersion  = 3
	ErrNoAction            = 4
	ErrUnsupportedAction   = 5
)

// SupportedVersion is the only request version this server accepts.
const SupportedVersion = 1

// nopLogger is used when Server.Logger is left nil.
var nopLogger = &log.SubLogger{}

// Server serves the statistics endpoint over HTTP, with the request/reply
// body shape and error codes from the wire contract regardless of
// transport.
type Server struct {
	Client *client.Client
	Config *config.Config
	Logger *log.SubLogger

	httpServer *http.Server
}

// New builds a Server backed by cl and cfg. cfg may be nil if the config
// action is never expected to be called.
func New(cl *client.Client, cfg *config.Config) *Server {
	return &Server{Client: cl, Config: cfg, Logger: nopLogger}
}

type request struct {
	Version int    `json:"version"`
	Action  string `json:"action"`
	Name    string `json:"name,omitempty"`
}

type errorReply struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// Router builds the gorilla/mux router this server answers requests on,
// suitable for embedding in a larger HTTP server or passing to ListenAndServe.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/stats", s.handle).Methods(http.MethodPost)
	return r
}

// ListenAndServe starts serving the statistics endpoint on addr until the
// server is shut down via Close.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.Router()}
	return s.httpServer.ListenAndServe()
}

// Close shuts down the underlying HTTP server, if running.
func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ErrBadJSON, "malformed request body")
		return
	}

	if req.Version == 0 {
		writeError(w, ErrNoVersion, "version is required")
		return
	}
	if req.Version != SupportedVersion {
		writeError(w, ErrUnsupportedVersion, "unsupported version")
		return
	}
	if req.Action == "" {
		writeError(w, ErrNoAction, "action is required")
		return
	}

	switch req.Action {
	case "cache_stats":
		s.writeCacheStats(w)
	case "config":
		s.writeConfig(w)
	case "all_services":
		s.writeAllServices(w)
	case "service":
		s.writeService(w, req.Name)
	default:
		writeError(w, ErrUnsupportedAction, "unsupported action")
	}
}

func (s *Server) writeCacheStats(w http.ResponseWriter) {
	writeJSON(w, map[string]any{
		"cache_used_bytes": s.Client.CacheUsed(),
		"services":         s.Client.CacheStats(),
	})
}

func (s *Server) writeConfig(w http.ResponseWriter) {
	if s.Config == nil {
		writeJSON(w, map[string]any{})
		return
	}
	writeJSON(w, s.Config)
}

func (s *Server) writeAllServices(w http.ResponseWriter) {
	writeJSON(w, map[string]any{"services": s.Client.ServiceNames()})
}

func (s *Server) writeService(w http.ResponseWriter, name string) {
	if name == "" {
		writeError(w, ErrBadJSON, "service action requires a name")
		return
	}
	stat, ok := s.Client.ServiceCacheStats(name)
	if !ok {
		writeJSON(w, map[string]any{"name": name, "found": false})
		return
	}
	writeJSON(w, map[string]any{"name": name, "found": true, "handles": stat})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, errorReply{Error: code, Message: message})
}
