// Package dashboard exposes the blocklist engine's operations over HTTP for
// the listforge UI: list metadata, the merged all-domains view, domain
// lookup, policy simulation, forced refresh and cache clearing.
package dashboard

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dnsdash/listforge/blocklist"
)

var log = logging.Logger("dashboard")

// Server is a thin controller layer; all policy lives in blocklist.
type Server struct {
	engine *blocklist.Engine
	sched  *blocklist.Scheduler
	store  *blocklist.Store
	router *mux.Router
}

// NewServer builds the router over an engine, scheduler and store.
func NewServer(engine *blocklist.Engine, sched *blocklist.Scheduler, store *blocklist.Store) *Server {
	s := &Server{engine: engine, sched: sched, store: store, router: mux.NewRouter()}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/nodes/{node}/lists", s.handleLists).Methods(http.MethodGet)
	api.HandleFunc("/nodes/{node}/domains", s.handleDomains).Methods(http.MethodGet)
	api.HandleFunc("/nodes/{node}/check", s.handleCheck).Methods(http.MethodGet)
	api.HandleFunc("/nodes/{node}/groups/{group}/simulate", s.handleSimulate).Methods(http.MethodGet)
	api.HandleFunc("/nodes/{node}/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/nodes/{node}/cache", s.handleClearNode).Methods(http.MethodDelete)
	api.HandleFunc("/cache", s.handleClearAll).Methods(http.MethodDelete)

	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return s
}

// Handler returns the HTTP handler with request metrics attached.
func (s *Server) Handler() http.Handler {
	initMetrics()
	return withRequestMetrics(s.router)
}

func (s *Server) handleLists(w http.ResponseWriter, r *http.Request) {
	infos, err := s.engine.ListMetadata(r.Context(), mux.Vars(r)["node"])
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleDomains(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	page, err := s.engine.AllDomains(r.Context(), mux.Vars(r)["node"], q.Get("group"), offset, limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		writeError(w, http.StatusBadRequest, errMissingDomain)
		return
	}
	report, err := s.engine.CheckDomain(r.Context(), mux.Vars(r)["node"], domain)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		writeError(w, http.StatusBadRequest, errMissingDomain)
		return
	}
	vars := mux.Vars(r)
	verdict, err := s.engine.SimulateGroupPolicy(r.Context(), vars["node"], vars["group"], domain)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["node"]
	if err := s.sched.ForceRefresh(r.Context(), nodeID); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	last, _ := s.sched.LastRefreshed(nodeID)
	writeJSON(w, http.StatusOK, map[string]any{"node": nodeID, "refreshedAt": last.Unix()})
}

func (s *Server) handleClearNode(w http.ResponseWriter, r *http.Request) {
	s.store.ClearNode(mux.Vars(r)["node"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	s.store.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

type apiError struct {
	Error string `json:"error"`
}

var errMissingDomain = &missingParamError{"domain"}

type missingParamError struct{ param string }

func (e *missingParamError) Error() string { return "missing required query parameter: " + e.param }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, apiError{Error: err.Error()})
}
