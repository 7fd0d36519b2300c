package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"billnotif/internal/dispatch"
	"billnotif/internal/schedule"
)

// Dispatcher is the control surface of the schedule driver.
type Dispatcher interface {
	TriggerNow(ctx context.Context) (dispatch.RunSummary, error)
	Status() schedule.Status
	Statistics() dispatch.Statistics
	ResetStatistics()
	Start() error
	Stop(ctx context.Context) error
	Restart(recurrence string) error
}

type API struct {
	Driver Dispatcher
}

func (a *API) Register(r *mux.Router) {
	v1 := r.PathPrefix("/v1/dispatch").Subrouter()
	v1.HandleFunc("/status", a.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/statistics", a.handleStatistics).Methods(http.MethodGet)
	v1.HandleFunc("/statistics", a.handleResetStatistics).Methods(http.MethodDelete)
	v1.HandleFunc("/trigger", a.handleTrigger).Methods(http.MethodPost)
	v1.HandleFunc("/start", a.handleStart).Methods(http.MethodPost)
	v1.HandleFunc("/stop", a.handleStop).Methods(http.MethodPost)
	v1.HandleFunc("/restart", a.handleRestart).Methods(http.MethodPost)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Driver.Status())
}

func (a *API) handleStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Driver.Statistics())
}

func (a *API) handleResetStatistics(w http.ResponseWriter, r *http.Request) {
	a.Driver.ResetStatistics()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleTrigger(w http.ResponseWriter, r *http.Request) {
	sum, err := a.Driver.TriggerNow(r.Context())
	if err != nil {
		status := statusFor(err)
		if status == http.StatusBadGateway {
			slog.Error("manual dispatch failed", "run_id", sum.RunID, "err", err)
			writeJSON(w, status, sum)
			return
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := a.Driver.Start(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.Driver.Status())
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := a.Driver.Stop(r.Context()); err != nil {
		slog.Warn("dispatch stop incomplete", "err", err)
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.Driver.Status())
}

type restartRequest struct {
	Schedule string `json:"schedule"`
}

func (a *API) handleRestart(w http.ResponseWriter, r *http.Request) {
	var req restartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	if err := a.Driver.Restart(req.Schedule); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.Driver.Status())
}
