package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/emily-flambe/get-money-get-paid/internal/eventbus"
	"github.com/emily-flambe/get-money-get-paid/internal/performance"
	"github.com/emily-flambe/get-money-get-paid/internal/store"
)

func (s *Server) handleAlgorithmTrades(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultTradeLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	trades, err := s.store.ListTrades(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.fail(w, "list trades", err)
		return
	}
	if trades == nil {
		trades = []store.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

func (s *Server) handleAlgorithmSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.store.ListSnapshots(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "list snapshots", err)
		return
	}
	if snaps == nil {
		snaps = []store.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"snapshots": snaps})
}

func (s *Server) handleAlgorithmPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.store.ListPositions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "list positions", err)
		return
	}
	if positions == nil {
		positions = []store.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
}

func (s *Server) handleAlgorithmPerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := s.performance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "performance", err)
		return
	}
	writeJSON(w, http.StatusOK, perf)
}

func (s *Server) performance(ctx context.Context, algoID string) (performance.Performance, error) {
	snaps, err := s.store.ListSnapshots(ctx, algoID)
	if err != nil {
		return performance.Performance{}, err
	}
	count, err := s.store.CountTrades(ctx, algoID)
	if err != nil {
		return performance.Performance{}, err
	}
	pnls, err := s.store.TradePnLs(ctx, algoID)
	if err != nil {
		return performance.Performance{}, err
	}
	return performance.Summarize(algoID, store.Equities(snaps), count, pnls), nil
}

func (s *Server) handleComparison(w http.ResponseWriter, r *http.Request) {
	algos, err := s.store.ListAlgorithms(r.Context())
	if err != nil {
		s.fail(w, "list algorithms", err)
		return
	}
	out := make([]performance.Performance, 0, len(algos))
	for _, a := range algos {
		perf, err := s.performance(r.Context(), a.ID)
		if err != nil {
			s.fail(w, "performance", err)
			return
		}
		perf.Name = a.Name
		out = append(out, perf)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalReturnPct > out[j].TotalReturnPct })
	writeJSON(w, http.StatusOK, map[string]interface{}{"comparison": out})
}

func (s *Server) handleIngestTrade(w http.ResponseWriter, r *http.Request) {
	var ev eventbus.TradeEvent
	if err := decodeJSON(w, r, &ev); err != nil {
		s.metrics.TradeEvents.WithLabelValues("http", "invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, err := s.ingest(r.Context(), "http", ev)
	if errors.Is(err, eventbus.ErrInvalidEvent) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.fail(w, "ingest trade", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// IngestTrade stores a trade event received from the event stream.
func (s *Server) IngestTrade(ctx context.Context, ev eventbus.TradeEvent) error {
	_, err := s.ingest(ctx, "redis", ev)
	return err
}

func (s *Server) ingest(ctx context.Context, source string, ev eventbus.TradeEvent) (string, error) {
	if err := ev.Validate(); err != nil {
		s.metrics.TradeEvents.WithLabelValues(source, "invalid").Inc()
		return "", err
	}
	id, err := s.store.InsertTrade(ctx, ev.ToTrade())
	if err != nil {
		s.metrics.TradeEvents.WithLabelValues(source, "error").Inc()
		return "", err
	}
	s.metrics.TradeEvents.WithLabelValues(source, "stored").Inc()
	s.log.Info("trade recorded",
		zap.String("source", source),
		zap.String("algorithm_id", ev.AlgorithmID),
		zap.String("symbol", ev.Symbol),
		zap.String("side", ev.Side))
	return id, nil
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if s.account == nil {
		writeError(w, http.StatusInternalServerError, "account source not configured")
		return
	}
	raw, err := s.account.AccountRaw(r.Context())
	if err != nil {
		s.fail(w, "account", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
