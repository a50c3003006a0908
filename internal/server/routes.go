package server

import (
	"log/slog"
	"net/http"

	"quietend-server/internal/middleware"
	serverHandlers "quietend-server/internal/server/handlers"
	"quietend-server/internal/shared/database"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes is the ops HTTP surface: health, live counters, Prometheus
// metrics, and the JWT-guarded admin endpoints. Players never touch this;
// they interact through the chat platform.
type Routes struct {
	db        *database.DB
	reaper    serverHandlers.Sweeper
	lifecycle serverHandlers.CharacterDeleter
	logger    *slog.Logger
}

func NewRoutes(db *database.DB, reaper serverHandlers.Sweeper, lifecycle serverHandlers.CharacterDeleter, logger *slog.Logger) *Routes {
	return &Routes{db: db, reaper: reaper, lifecycle: lifecycle, logger: logger}
}

func (r *Routes) Setup() *http.ServeMux {
	logger := slog.With("component", "routes", "operation", "setup")
	logger.Debug("Setting up ops routes")

	mux := http.NewServeMux()

	mux.Handle("/api/health", serverHandlers.NewHealthHandler(r.db))
	mux.Handle("/api/status", serverHandlers.NewStatusHandler(r.db))
	mux.Handle("/metrics", promhttp.Handler())

	mux.Handle("/api/admin/reaper/run",
		middleware.RequireAdmin(serverHandlers.NewReaperHandler(r.reaper)))
	mux.Handle("/api/admin/characters/{id}",
		middleware.RequireAdmin(serverHandlers.NewCharacterHandler(r.lifecycle)))

	logger.Info("Routes configured successfully",
		"public_endpoints", []string{"/api/health", "/api/status", "/metrics"},
		"admin_endpoints", []string{"/api/admin/reaper/run", "/api/admin/characters/{id}"},
	)

	return mux
}
