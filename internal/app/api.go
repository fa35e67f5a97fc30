package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/MrWong99/scribehook/internal/observe"
	"github.com/MrWong99/scribehook/internal/pipeline"
	"github.com/MrWong99/scribehook/internal/recorder"
	"github.com/MrWong99/scribehook/pkg/audio"
)

// Report listing limits for GET /v1/reports.
const (
	defaultReportLimit = 20
	maxReportLimit     = 500
)

// ReportLister lists finished reports, newest first.
type ReportLister interface {
	Recent(ctx context.Context, limit int) ([]pipeline.Report, error)
}

// API serves the recording control endpoints.
type API struct {
	ctrl    *Controller
	reports ReportLister
}

// NewAPI returns the control API for ctrl. reports may be nil, in which case
// GET /v1/reports returns 404.
func NewAPI(ctrl *Controller, reports ReportLister) *API {
	return &API{ctrl: ctrl, reports: reports}
}

// Register adds the /v1 routes to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/recordings/start", a.start)
	mux.HandleFunc("POST /v1/recordings/stop", a.stop)
	mux.HandleFunc("GET /v1/recordings/status", a.status)
	if a.reports != nil {
		mux.HandleFunc("GET /v1/reports", a.listReports)
	}
}

type errorBody struct {
	Error  string           `json:"error"`
	Report *pipeline.Report `json:"report,omitempty"`
}

func (a *API) start(w http.ResponseWriter, r *http.Request) {
	info, err := a.ctrl.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, info)
	case errors.Is(err, recorder.ErrAlreadyRecording):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, audio.ErrDeviceUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	default:
		observe.Logger(r.Context()).Error("start recording failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func (a *API) stop(w http.ResponseWriter, r *http.Request) {
	report, err := a.ctrl.Stop(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case errors.Is(err, recorder.ErrInvalidState):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Report: &report})
	}
}

func (a *API) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.Status())
}

func (a *API) listReports(w http.ResponseWriter, r *http.Request) {
	limit := defaultReportLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxReportLimit)
	}

	reports, err := a.reports.Recent(r.Context(), limit)
	if err != nil {
		observe.Logger(r.Context()).Error("list reports failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	if reports == nil {
		reports = []pipeline.Report{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
