package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// PoolSource is the live ledger view. *pool.Ledger satisfies it.
type PoolSource interface {
	Bases() []string
	Snapshot(base string) (domain.BaseLog, bool)
}

// PoolHandler serves pool snapshots and their trade history.
type PoolHandler struct {
	pools   PoolSource
	history domain.LedgerReader
	logger  *slog.Logger
}

func NewPoolHandler(pools PoolSource, history domain.LedgerReader, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{
		pools:   pools,
		history: history,
		logger:  logger.With(slog.String("handler", "pools")),
	}
}

type listPoolsResponse struct {
	Pools []domain.BaseLog `json:"pools"`
}

// ListPools returns the current entry of every tracked pool.
// GET /api/pools
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	out := listPoolsResponse{Pools: []domain.BaseLog{}}
	for _, base := range h.pools.Bases() {
		if log, ok := h.pools.Snapshot(base); ok {
			out.Pools = append(out.Pools, log)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPool returns one pool entry.
// GET /api/pools/{base}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	log, ok := h.pools.Snapshot(baseParam(r))
	if !ok {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}
	writeJSON(w, http.StatusOK, log)
}

// ListArbitrage returns recent arbitrage trades for a pool, newest first.
// GET /api/pools/{base}/arbitrage?limit=50&since=2030-01-01T00:00:00Z
func (h *PoolHandler) ListArbitrage(w http.ResponseWriter, r *http.Request) {
	base := baseParam(r)
	if _, ok := h.pools.Snapshot(base); !ok {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}
	trades, err := h.history.ListArbitrage(r.Context(), base, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list arbitrage trades failed",
			slog.String("base", base),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list arbitrage trades")
		return
	}
	if trades == nil {
		trades = []domain.ArbitrageTrade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// ListRebalance returns recent rebalance trades for a pool, newest first.
// GET /api/pools/{base}/rebalance?limit=50
func (h *PoolHandler) ListRebalance(w http.ResponseWriter, r *http.Request) {
	base := baseParam(r)
	if _, ok := h.pools.Snapshot(base); !ok {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}
	trades, err := h.history.ListRebalance(r.Context(), base, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list rebalance trades failed",
			slog.String("base", base),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list rebalance trades")
		return
	}
	if trades == nil {
		trades = []domain.RebalanceTrade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}
