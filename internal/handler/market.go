// Package handler implements the read-only HTTP observation surface over a
// running simulation.
package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/gridmarket/internal/domain"
	"github.com/efreitasn/gridmarket/internal/service"
)

// MarketHandler handles HTTP requests for simulation, area and market
// endpoints.
type MarketHandler struct {
	query *service.Query
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(query *service.Query) *MarketHandler {
	return &MarketHandler{query: query}
}

// GetStatus handles GET /status.
func (h *MarketHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.query.Status())
}

// ListAreas handles GET /areas.
func (h *MarketHandler) ListAreas(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.query.Areas())
}

// areaParam extracts the {area} route parameter. Area names may contain
// spaces, so the escaped form is decoded here.
func areaParam(r *http.Request) string {
	area := chi.URLParam(r, "area")
	if decoded, err := url.PathUnescape(area); err == nil {
		return decoded
	}
	return area
}

// ListAreaMarkets handles GET /areas/{area}/markets.
func (h *MarketHandler) ListAreaMarkets(w http.ResponseWriter, r *http.Request) {
	area := areaParam(r)
	infos, err := h.query.AreaMarkets(area)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, infos)
}

// ListAreaTrades handles GET /areas/{area}/trades.
func (h *MarketHandler) ListAreaTrades(w http.ResponseWriter, r *http.Request) {
	area := areaParam(r)
	trades, err := h.query.AreaTrades(area)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if trades == nil {
		trades = []map[string]any{}
	}
	WriteJSON(w, http.StatusOK, trades)
}

// GetMarket handles GET /markets/{market_id}.
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "market_id")
	info, err := h.query.MarketInfo(id)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, info)
}

// ListMarketOffers handles GET /markets/{market_id}/offers.
func (h *MarketHandler) ListMarketOffers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "market_id")
	offers, err := h.query.MarketOffers(id)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if offers == nil {
		offers = []map[string]any{}
	}
	WriteJSON(w, http.StatusOK, offers)
}

// ListMarketBids handles GET /markets/{market_id}/bids.
func (h *MarketHandler) ListMarketBids(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "market_id")
	bids, err := h.query.MarketBids(id)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if bids == nil {
		bids = []map[string]any{}
	}
	WriteJSON(w, http.StatusOK, bids)
}

// GetMarketStats handles GET /markets/{market_id}/stats.
func (h *MarketHandler) GetMarketStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "market_id")
	stats, err := h.query.MarketStats(id)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// ListMarketTrades handles GET /markets/{market_id}/trades.
func (h *MarketHandler) ListMarketTrades(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "market_id")
	trades, err := h.query.MarketTrades(id)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if trades == nil {
		trades = []map[string]any{}
	}
	WriteJSON(w, http.StatusOK, trades)
}

func writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAreaNotFound):
		WriteError(w, http.StatusNotFound, "area_not_found", err.Error())
	case errors.Is(err, domain.ErrMarketNotFound):
		WriteError(w, http.StatusNotFound, "market_not_found", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
