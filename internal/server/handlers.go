package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/schoolmap/internal/analysis"
	"github.com/sells-group/schoolmap/internal/indicator"
	"github.com/sells-group/schoolmap/internal/monitoring"
	"github.com/sells-group/schoolmap/internal/report"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine errors to status codes. Data conditions are
// never errors, so anything unexpected is a 500 with a generic body.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, analysis.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, analysis.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request timed out")
	default:
		zap.L().Error("server: request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Version    int64                `json:"version"`
	Records    int                  `json:"records"`
	Points     int                  `json:"points"`
	Dropped    int                  `json:"dropped"`
	Duplicates int                  `json:"duplicates"`
	LoadedAt   time.Time            `json:"loaded_at"`
	Store      *monitoring.Snapshot `json:"store,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	data, err := s.engine.Dataset(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	resp := statusResponse{
		Version:    data.Version,
		Records:    data.Records,
		Points:     len(data.Points),
		Dropped:    data.Dropped,
		Duplicates: data.Duplicates,
		LoadedAt:   data.LoadedAt,
	}
	if s.collector != nil {
		snap, err := s.collector.Collect(r.Context())
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		s.metrics.Apply(snap)
		resp.Store = snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.engine.Snapshot(r.Context(), req)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleIndicator(w http.ResponseWriter, r *http.Request) {
	kind, err := indicator.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	req, err := parseRequest(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Kinds = []indicator.Kind{kind}

	snap, err := s.engine.Snapshot(r.Context(), req)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Result(kind))
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.engine.Regions(r.Context(), req)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleClosure(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.engine.Closure(r.Context(), req, chi.URLParam(r, "seedID"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVulnerability(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.engine.Vulnerability(r.Context(), req)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGeoJSON(w http.ResponseWriter, r *http.Request) {
	layer, err := report.ParseLayer(chi.URLParam(r, "layer"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	req, err := parseRequest(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := report.Build(r.Context(), s.engine, req, layer)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	fc, err := b.Layer(layer)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	if err := report.WriteGeoJSON(w, fc); err != nil {
		zap.L().Warn("server: write geojson", zap.Error(err))
	}
}
