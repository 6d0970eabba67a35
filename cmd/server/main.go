package main

import (
	"log"
	"net/http"

	"github.com/needafrica/donations/internal/api"
	"github.com/needafrica/donations/internal/config"
	"github.com/needafrica/donations/internal/gateway"
	"github.com/needafrica/donations/internal/orchestrator"
	"github.com/needafrica/donations/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Initializing database at %s", cfg.DBPath)
	db, err := repository.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init DB: %v", err)
	}
	defer db.Close()

	// Create repositories.
	donationRepo := repository.NewDonationRepo(db)
	campaignRepo := repository.NewCampaignRepo(db)
	rateRepo := repository.NewRateRepo(db)

	// Create gateway adapters.
	paystack := gateway.NewPaystack(cfg.PaystackSecretKey, cfg.PaystackAPIURL)
	paypal := gateway.NewPaypal(cfg.PaypalClientID, cfg.PaypalSecretKey, cfg.PaypalAPIURL, cfg.PaypalWebhookID)

	// Create the orchestrator.
	orch := orchestrator.NewService(db, donationRepo, campaignRepo, rateRepo,
		[]gateway.Gateway{paystack, paypal}, cfg.FrontendURL)

	// Create router.
	router := api.NewRouter(orch, donationRepo, campaignRepo, rateRepo)

	log.Printf("NeedsAfrica Donation Collection Engine")
	log.Printf("Listening on http://localhost:%s", cfg.Port)
	log.Printf("API base: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("")
	log.Printf("Endpoints:")
	log.Printf("  POST   /api/v1/donations")
	log.Printf("  GET    /api/v1/donations")
	log.Printf("  GET    /api/v1/donations/{id}")
	log.Printf("  GET    /api/v1/donations/metrics")
	log.Printf("  POST   /api/v1/webhooks/paystack")
	log.Printf("  POST   /api/v1/webhooks/paypal")
	log.Printf("  GET    /api/v1/paypal/execute")
	log.Printf("  GET    /api/v1/paypal/cancel")
	log.Printf("  POST   /api/v1/campaigns")
	log.Printf("  GET    /api/v1/campaigns")
	log.Printf("  GET    /api/v1/campaigns/{id}")
	log.Printf("  PUT    /api/v1/campaigns/{id}/spent")
	log.Printf("  PUT    /api/v1/exchange-rate")
	log.Printf("  GET    /api/v1/exchange-rate")
	log.Printf("  GET    /api/v1/dashboard")

	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
