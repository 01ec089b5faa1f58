package worker

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Handler exposes GET /health and GET|POST /run.
func (w *Worker) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"last_report": w.LastReport(),
		})
	})
	run := func(rw http.ResponseWriter, req *http.Request) {
		rep, err := w.RunOnce(req.Context())
		switch {
		case errors.Is(err, ErrBusy):
			writeJSON(rw, http.StatusConflict, map[string]string{"error": err.Error()})
		case err != nil:
			w.log.Error("manual run failed", zap.Error(err))
			writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		default:
			writeJSON(rw, http.StatusOK, rep)
		}
	}
	r.Get("/run", run)
	r.Post("/run", run)
	r.NotFound(func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = rw.Write([]byte("trading worker"))
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
