package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/efreitasn/gridmarket/internal/config"
	"github.com/efreitasn/gridmarket/internal/domain"
	"github.com/efreitasn/gridmarket/internal/handler"
	"github.com/efreitasn/gridmarket/internal/market"
	"github.com/efreitasn/gridmarket/internal/service"
	"github.com/efreitasn/gridmarket/internal/sim"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up slog logger with configured level.
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	var kind market.Kind
	switch cfg.MarketType {
	case "one_sided":
		kind = market.OneSided
	case "two_sided_pay_as_clear":
		kind = market.TwoSidedPayAsClear
	default:
		kind = market.TwoSidedPayAsBid
	}
	fee := market.GridFee{Type: market.FeeType(cfg.GridFeeType), Rate: cfg.GridFeeValue}

	// Demo grid: two houses under one grid market. Each house has a PV
	// producer and a load; the inter-area agents let surplus PV from one
	// house serve the other house's load through the grid market.
	root := sim.NewArea("Grid", fee,
		sim.NewArea("House 1", fee,
			sim.NewLeaf("H1 PV", &sim.Producer{Name: "H1 PV", EnergyKWh: 5, Rate: 10, Log: logger}),
			sim.NewLeaf("H1 Load", &sim.Consumer{Name: "H1 Load", EnergyKWh: 3, MaxRate: 30, Log: logger}),
		),
		sim.NewArea("House 2", fee,
			sim.NewLeaf("H2 PV", &sim.Producer{Name: "H2 PV", EnergyKWh: 1, Rate: 12, Log: logger}),
			sim.NewLeaf("H2 Load", &sim.Consumer{Name: "H2 Load", EnergyKWh: 4, MaxRate: 28, Log: logger}),
		),
	)

	simulation, err := sim.New(root, sim.Params{
		Kind:             kind,
		StartTime:        time.Now().UTC(),
		SlotLength:       cfg.SlotLength,
		TicksPerSlot:     cfg.TicksPerSlot,
		SlotCount:        cfg.SlotCount,
		TickInterval:     cfg.TickInterval,
		MinOfferAge:      cfg.MinOfferAge,
		MinBidAge:        cfg.MinBidAge,
		SpotRetention:    cfg.SpotRetention,
		SettlementAge:    cfg.SettlementAge,
		EnableSettlement: cfg.EnableSettlement,
		Seed:             cfg.RNGSeed,
	}, logger)
	if err != nil {
		logger.Error("failed to build simulation", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Live trade feed.
	hub := handler.NewTradeHub(logger)
	go hub.Run()
	simulation.OnTrade(func(areaName, marketID string, t *domain.Trade) {
		hub.Broadcast(handler.TradeMessage{
			Type:         "trade",
			Area:         areaName,
			MarketID:     marketID,
			TradeID:      t.ID,
			Seller:       t.Seller.Name,
			Buyer:        t.Buyer.Name,
			TradedEnergy: t.TradedEnergy,
			TradePrice:   t.TradePrice,
			TradeRate:    t.TradeRate(),
			TimeSlot:     t.TimeSlot.Format(time.RFC3339),
		})
	})

	query := service.NewQuery(simulation)
	router := handler.NewRouter(query, hub, logger)

	// Run the simulation with a cancellable context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := simulation.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("simulation error", slog.String("error", err.Error()))
		}
	}()

	// Configure HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start HTTP server in a goroutine.
	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Graceful shutdown: stop HTTP server, cancel context (stops the tick loop).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	cancel()

	logger.Info("server stopped")
}
