// Package httpapi exposes the payout engine over HTTP.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tyranno/nanumpay-sub001/internal/auth"
	"github.com/tyranno/nanumpay-sub001/internal/metrics"
	"github.com/tyranno/nanumpay-sub001/internal/middleware"
	"github.com/tyranno/nanumpay-sub001/internal/service"
)

// Options configures the router.
type Options struct {
	// JWT enables bearer authentication on /v1 when non-nil.
	JWT *auth.JWTManager

	// Metrics mounts the Prometheus handler at /metrics.
	Metrics bool
}

type api struct {
	payouts *service.PayoutService
}

// NewRouter returns the HTTP handler for payouts.
func NewRouter(payouts *service.PayoutService, opts Options) http.Handler {
	a := &api{payouts: payouts}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Get("/health", a.handleHealth)
	if opts.Metrics {
		r.Handle("/metrics", metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if opts.JWT != nil {
			r.Use(middleware.RequireAuth(opts.JWT))
		}

		r.Post("/tree", a.handleApplyTree)

		r.Route("/members/{memberID}", func(r chi.Router) {
			r.Get("/grade", a.handleMemberGrade)
			r.Get("/plans", a.handleMemberPlans)
			r.Get("/totals", a.handleMemberTotals)
			r.Put("/insurance", a.handleUpdateInsurance)
		})

		r.Route("/snapshots", func(r chi.Router) {
			r.Post("/", a.handleCaptureSnapshot)
			r.Get("/{date}", a.handleGetSnapshot)
		})

		r.Route("/revenue/{month}", func(r chi.Router) {
			r.Put("/", a.handleSetRevenue)
			r.Post("/adjust", a.handleAdjustRevenue)
			r.Post("/close", a.handleCloseMonth)
			r.Get("/table", a.handlePaymentTable)
		})

		r.Post("/payouts/run", a.handleRunWeekly)
		r.Post("/plans/{planID}/installments/{number}/paid", a.handleMarkPaid)
		r.Get("/reports/{month}/installments.xlsx", a.handleInstallmentReport)
	})

	return r
}
