// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	rh "trade-service/internal/handler/rest"
	wsh "trade-service/internal/handler/websocket"
	"trade-service/internal/pkg/middleware"
)

func SetupRoutes(
	r chi.Router,
	ticketHandler *rh.TicketRestHandler,
	webhookHandler *rh.ChainWebhookHandler,
	eventHub *wsh.TicketEventHub,
	auth *middleware.AuthMiddleware,
	rdb *redis.Client,
) chi.Router {

	// ---- Global Middleware ----
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Watcher-Secret"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Global rate limiting
	r.Use(middleware.RateLimiter(rdb, 100, time.Minute, 10*time.Minute, "global"))

	// ============================================================
	// TRADE ROUTES
	// ============================================================
	r.Route("/trade", func(tr chi.Router) {

		// ---------- Public ----------
		tr.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Trade service is running"))
		})

		// ---------- Watcher callbacks (shared-secret auth) ----------
		tr.Post("/chain/events", webhookHandler.HandleEvent)

		// ---------- Authenticated ----------
		tr.Group(func(authTr chi.Router) {
			authTr.Use(auth.Require())

			// ============ PASSES ============
			authTr.Get("/passes", ticketHandler.PassBalance)

			// ============ TICKETS ============
			authTr.Route("/tickets", func(tk chi.Router) {
				tk.Post("/", ticketHandler.CreateTicket)
				tk.Get("/", ticketHandler.ListTickets)

				tk.Route("/{ticketID}", func(t chi.Router) {
					t.Get("/", ticketHandler.GetTicket)
					t.Post("/invitation", ticketHandler.RespondToInvitation)
					t.Post("/cancel", ticketHandler.CancelTicket)

					t.Post("/role", ticketHandler.SelectRole)
					t.Post("/role/confirm", ticketHandler.ConfirmRole)

					t.Post("/amount/detect", ticketHandler.DetectAmount)
					t.Post("/amount/confirm", ticketHandler.ConfirmAmount)

					t.Post("/fee/option", ticketHandler.SelectFeeOption)
					t.Post("/fee/pass/confirm", ticketHandler.ConfirmPassUse)
					t.Post("/fee/confirm", ticketHandler.ConfirmFees)

					t.Post("/payout-address", ticketHandler.SubmitPayoutAddress)
					t.Post("/payout-address/confirm", ticketHandler.ConfirmPayoutAddress)

					t.Post("/details/copy", ticketHandler.CopyTransactionDetails)
					t.Post("/rescan", ticketHandler.RescanTransaction)
					t.Post("/monitoring/cancel", ticketHandler.CancelTransactionMonitoring)

					t.Post("/release", ticketHandler.ReleaseFunds)
					t.Post("/privacy", ticketHandler.SelectPrivacy)
					t.Post("/finalize", ticketHandler.FinalizeTicket)
				})
			})

			// ============ WEBSOCKET ============
			authTr.Get("/ws", eventHub.HandleConnection)
		})
	})

	return r
}
