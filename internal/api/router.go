package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/needafrica/donations/internal/orchestrator"
	"github.com/needafrica/donations/internal/repository"
)

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(
	orch *orchestrator.Service,
	donationRepo *repository.DonationRepo,
	campaignRepo *repository.CampaignRepo,
	rateRepo *repository.RateRepo,
) http.Handler {
	h := &Handlers{
		orch:         orch,
		donationRepo: donationRepo,
		campaignRepo: campaignRepo,
		rateRepo:     rateRepo,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Route("/api/v1", func(r chi.Router) {
		// Donations.
		r.Post("/donations", h.CreateDonation)
		r.Get("/donations", h.ListDonations)
		r.Get("/donations/metrics", h.GetDonationMetrics)
		r.Get("/donations/{id}", h.GetDonation)

		// Gateway callbacks. Webhooks are unauthenticated and self-verify.
		r.Post("/webhooks/paystack", h.PaystackWebhook)
		r.Post("/webhooks/paypal", h.PaypalWebhook)
		r.Get("/paypal/execute", h.ExecutePaypal)
		r.Get("/paypal/cancel", h.CancelPaypal)

		// Campaigns.
		r.Post("/campaigns", h.CreateCampaign)
		r.Get("/campaigns", h.ListCampaigns)
		r.Get("/campaigns/{id}", h.GetCampaign)
		r.Put("/campaigns/{id}/spent", h.RecordCampaignSpend)

		// Exchange rate administration.
		r.Put("/exchange-rate", h.SetExchangeRate)
		r.Get("/exchange-rate", h.GetExchangeRate)

		// Dashboard.
		r.Get("/dashboard", h.GetDashboard)
	})

	return r
}
