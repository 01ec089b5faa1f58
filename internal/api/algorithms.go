package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/emily-flambe/get-money-get-paid/internal/store"
	"github.com/emily-flambe/get-money-get-paid/internal/strategy"
)

func (s *Server) handleListAlgorithms(w http.ResponseWriter, r *http.Request) {
	algos, err := s.store.ListAlgorithms(r.Context())
	if err != nil {
		s.fail(w, "list algorithms", err)
		return
	}
	if algos == nil {
		algos = []store.Algorithm{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"algorithms": algos})
}

func (s *Server) handleCreateAlgorithm(w http.ResponseWriter, r *http.Request) {
	var in store.NewAlgorithm
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.StrategyType != "" && !strategy.IsKnownType(in.StrategyType) {
		writeError(w, http.StatusBadRequest, "unknown strategy_type: "+in.StrategyType+
			" (want one of "+strings.Join(strategy.Types(), ", ")+")")
		return
	}
	for i, sym := range in.Symbols {
		in.Symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
	}

	id, err := s.store.CreateAlgorithm(r.Context(), in)
	if err != nil {
		s.fail(w, "create algorithm", err)
		return
	}
	s.log.Info("algorithm created", zap.String("id", id), zap.String("type", in.StrategyType))
	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "message": "Algorithm created"})
}

func (s *Server) handleGetAlgorithm(w http.ResponseWriter, r *http.Request) {
	algo, err := s.store.GetAlgorithm(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Algorithm not found")
		return
	}
	if err != nil {
		s.fail(w, "get algorithm", err)
		return
	}
	writeJSON(w, http.StatusOK, algo)
}

func (s *Server) handleUpdateAlgorithm(w http.ResponseWriter, r *http.Request) {
	var patch store.AlgorithmPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if patch.Symbols != nil {
		syms := *patch.Symbols
		for i, sym := range syms {
			syms[i] = strings.ToUpper(strings.TrimSpace(sym))
		}
	}

	err := s.store.UpdateAlgorithm(r.Context(), chi.URLParam(r, "id"), patch)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Algorithm not found")
		return
	}
	if err != nil {
		s.fail(w, "update algorithm", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Algorithm updated"})
}

func (s *Server) handleDeleteAlgorithm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteAlgorithm(r.Context(), id); err != nil {
		s.fail(w, "delete algorithm", err)
		return
	}
	s.log.Info("algorithm deleted", zap.String("id", id))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Algorithm deleted"})
}

// fail logs err and answers 500 with its message.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	s.log.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}
