package handler

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/gridmarket/internal/service"
)

// NewRouter creates a chi router with all routes registered and request
// logging middleware.
func NewRouter(query *service.Query, hub *TradeHub, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(requestLogging(logger))

	marketH := NewMarketHandler(query)

	// Health check.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Simulation routes.
	r.Get("/status", marketH.GetStatus)

	// Area routes.
	r.Get("/areas", marketH.ListAreas)
	r.Get("/areas/{area}/markets", marketH.ListAreaMarkets)
	r.Get("/areas/{area}/trades", marketH.ListAreaTrades)

	// Market routes.
	r.Get("/markets/{market_id}", marketH.GetMarket)
	r.Get("/markets/{market_id}/offers", marketH.ListMarketOffers)
	r.Get("/markets/{market_id}/bids", marketH.ListMarketBids)
	r.Get("/markets/{market_id}/trades", marketH.ListMarketTrades)
	r.Get("/markets/{market_id}/stats", marketH.GetMarketStats)

	// Live trade feed.
	r.Get("/ws/trades", hub.HandleWS)

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes the connection through so the WebSocket upgrade works behind
// the logging middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}
