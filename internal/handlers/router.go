package handlers

import (
	"net/http"

	"bankledger/internal/config"
	"bankledger/internal/db"
	"bankledger/internal/middleware"
	"bankledger/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	gorillaws "github.com/gorilla/websocket"
)

type Handler struct {
	txRunner   db.TxRunner
	cfg        config.Config
	users      UserStore
	admin      AdminStore
	audit      AuditStore
	reconciler Reconciler
	ledger     LedgerService
	hub        *websocket.Hub
	upgrader   gorillaws.Upgrader
}

type Deps struct {
	TxRunner   db.TxRunner
	Config     config.Config
	Users      UserStore
	Admin      AdminStore
	Audit      AuditStore
	Reconciler Reconciler
	Ledger     LedgerService
	Hub        *websocket.Hub
}

func New(deps Deps) *Handler {
	return &Handler{
		txRunner:   deps.TxRunner,
		cfg:        deps.Config,
		users:      deps.Users,
		admin:      deps.Admin,
		audit:      deps.Audit,
		reconciler: deps.Reconciler,
		ledger:     deps.Ledger,
		hub:        deps.Hub,
		upgrader:   websocket.Upgrader(deps.Config.Origins()),
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.Origins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	authenticated := middleware.Auth(h.cfg.JWTSecret)

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(authenticated).Get("/me", h.Me)
	})
	router.Route("/accounts", func(r chi.Router) {
		r.Use(authenticated)
		r.Post("/", h.CreateAccount)
		r.Get("/", h.ListAccounts)
		r.Get("/self-check", h.SelfCheck)
		r.Get("/{id}/transactions", h.AccountHistory)
		r.Put("/{id}/deposit", h.Deposit)
		r.Put("/{id}/withdraw", h.Withdraw)
		r.Put("/transfer/{fromId}/{toId}", h.Transfer)
	})
	router.With(authenticated).Get("/users/username/{username}", h.GetUserByUsername)
	router.Get("/ws/balances", h.WSBalances)

	router.Route("/admin", func(r chi.Router) {
		r.Use(authenticated)
		r.With(middleware.RequireAdmin(h.admin, middleware.RoleViewAccounts)).Get("/accounts", h.AdminListAccounts)
		r.With(middleware.RequireAdmin(h.admin, middleware.RoleDeleteAccounts)).Delete("/accounts/{id}", h.AdminDeleteAccount)
		r.With(middleware.RequireAdmin(h.admin, middleware.RoleViewAudit)).Get("/audit", h.ListAuditLogs)
		r.With(middleware.RequireAdmin(h.admin, middleware.RoleViewAudit)).Get("/reconcile", h.Reconcile)
		r.With(middleware.RequireAdmin(h.admin, "")).Post("/roles/grant", h.GrantRole)
		r.With(middleware.RequireAdmin(h.admin, "")).Post("/promote", h.PromoteAdmin)
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
