package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"CoffeeClear/internal/core"
	"CoffeeClear/internal/observability"
	"CoffeeClear/internal/query"
)

// Server exposes the clearing engine and query service over HTTP/JSON.
// Engine commands run synchronously under the engine mutex; query routes
// read the Postgres projections.
type Server struct {
	engine  *core.ClearingEngine
	queries *query.QueryService
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger

	httpServer *http.Server
}

func New(
	addr string,
	engine *core.ClearingEngine,
	queries *query.QueryService,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Server {
	s := &Server{
		engine:  engine,
		queries: queries,
		health:  health,
		metrics: metrics,
		log:     log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	if s.health != nil {
		r.Get("/healthz", s.health.LivenessHandler)
		r.Get("/readyz", s.health.ReadinessHandler)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// Command routes
		r.Post("/assets", s.instrument("register_cert_asset", s.handleRegisterCertAsset))
		r.Post("/deposits", s.instrument("deposit", s.handleDeposit))
		r.Post("/markets", s.instrument("create_market", s.handleCreateMarket))
		r.Post("/markets/{marketID}/prices", s.instrument("publish_price", s.handlePublishPrice))
		r.Post("/markets/{marketID}/oracle-rotations", s.instrument("propose_rotation", s.handleProposeRotation))
		r.Post("/markets/{marketID}/oracle-rotations/activate", s.instrument("activate_rotation", s.handleActivateRotation))
		r.Post("/deals", s.instrument("open_deal", s.handleOpenDeal))
		r.Post("/deals/{dealID}/margin-deposits", s.instrument("deposit_margin", s.handleDepositMargin))
		r.Post("/deals/{dealID}/margin-topups", s.instrument("topup_margin", s.handleTopUpMargin))
		r.Post("/deals/{dealID}/cancel", s.instrument("cancel_deal", s.handleCancelDeal))
		r.Post("/deals/{dealID}/close", s.instrument("close_deal", s.handleCloseDeal))
		r.Post("/deals/{dealID}/margin-calls", s.instrument("margin_call", s.handleMarginCall))
		r.Post("/deals/{dealID}/mark", s.instrument("mark_to_market", s.handleMarkToMarket))
		r.Post("/deals/{dealID}/settle-cash", s.instrument("settle_cash", s.handleSettleCash))
		r.Post("/deals/{dealID}/deliveries", s.instrument("settle_physical", s.handleDelivery))

		// Query routes
		r.Get("/parties/{partyID}/balances", s.instrument("party_balances", s.handlePartyBalances))
		r.Get("/parties/{partyID}/journal", s.instrument("journal_history", s.handleJournalHistory))
		r.Get("/markets/{marketID}/treasuries", s.instrument("treasury_balances", s.handleTreasuryBalances))
		r.Get("/markets/{marketID}/deals", s.instrument("list_deals", s.handleListDeals))
		r.Get("/markets/{marketID}/prices", s.instrument("price_history", s.handlePriceHistory))
		r.Get("/deals/{dealID}", s.instrument("get_deal", s.handleGetDeal))
		r.Get("/events", s.instrument("get_events", s.handleGetEvents))
		r.Get("/admin/integrity", s.instrument("verify_integrity", s.handleVerifyIntegrity))
	})

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves HTTP until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
