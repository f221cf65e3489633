package main

import (
	"log"
	"net/http"

	"bookings/db"
	"bookings/db/migrations"
	"bookings/internal/config"
	"bookings/internal/handlers"
	"bookings/internal/notify"
	"bookings/internal/tokens"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	// .env подхватывается в локальной разработке, в проде переменные
	// приходят из окружения
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbConn, err := sqlx.Connect("postgres", cfg.PostgresConn)
	if err != nil {
		log.Fatalf("Cannot connect to DB: %v", err)
	}
	defer dbConn.Close()

	migrations.Run()

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.MailRelayURL != "" {
		notifier = notify.NewMailRelay(cfg.MailRelayURL)
	}

	store := db.NewStorage(dbConn)
	h := handlers.NewHandler(store, notifier, tokens.NewService(cfg.SessionSecret), cfg.BaseURL)
	h.AdminEmail = cfg.AdminEmail
	h.AdminPassword = cfg.AdminPassword
	h.SessionTTL = cfg.SessionTTL

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", h.PingHandler)
		r.Post("/auth/login", h.LoginHandler)

		// публичная форма захвата лидов
		r.Post("/deals", h.CreateDealHandler)

		// спикерские страницы по токену, без логина
		r.Get("/firm-offer/{token}", h.GetFirmOfferByTokenHandler)
		r.Post("/firm-offer/{token}/decision", h.SpeakerDecisionHandler)

		// страницы подписания по токену, без логина
		r.Get("/contract/sign/{token}", h.GetSigningStateHandler)
		r.Post("/contract/sign/{token}", h.SignContractHandler)

		// админка
		r.Group(func(r chi.Router) {
			r.Use(h.RequireAdmin)

			r.Get("/deals", h.GetDealsHandler)
			r.Get("/deals/{dealId}", h.GetDealHandler)
			r.Put("/deals/{dealId}/status", h.ChangeDealStatusHandler)

			r.Post("/firm-offers", h.CreateFirmOfferHandler)
			r.Get("/firm-offers/{offerId}", h.GetFirmOfferHandler)
			r.Post("/firm-offers/{offerId}/submit", h.SubmitFirmOfferHandler)
			r.Post("/firm-offers/{offerId}/send-to-speaker", h.SendToSpeakerHandler)

			r.Post("/contracts", h.CreateContractHandler)
			r.Get("/contracts", h.GetContractsHandler)
			r.Get("/contracts/{contractId}", h.GetContractHandler)
			r.Post("/contracts/{contractId}/send", h.SendContractHandler)
		})
	})

	log.Printf("Starting server on %s", cfg.ServerAddress)
	log.Fatal(http.ListenAndServe(cfg.ServerAddress, r))
}
