package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-queue/internal/consultation"
	"github.com/hackgods/consultation-queue/internal/notify"
)

type RouterConfig struct {
	Coordinator  *consultation.Coordinator
	Hub          *notify.Hub
	PgPool       *pgxpool.Pool // nil with the memory store
	Redis        *redis.Client // nil when no component uses Redis
	Logger       *zap.Logger
	Env          string
	Version      string
	WSSendBuffer int
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger.Named("api")
	coord := cfg.Coordinator

	sendBuffer := cfg.WSSendBuffer
	if sendBuffer <= 0 {
		sendBuffer = 64
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	ws := newWSHandler(cfg.Hub, coord, logger, sendBuffer)

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Get("/ws", ws.ServeWS)

		r.Route("/provider", func(r chi.Router) {
			r.Use(RequireRole(consultation.RoleProvider))

			r.Post("/schedules", createScheduleHandler(coord, logger))
			r.Get("/schedules", listProviderSchedulesHandler(coord, logger))
			r.Post("/schedules/{id}/start", startPracticeHandler(coord, logger))
			r.Post("/schedules/{id}/end", endPracticeHandler(coord, logger))
			r.Get("/schedules/{id}/queue", queueHandler(coord, logger))
			r.Post("/schedules/{id}/invitations", inviteHandler(coord, logger))
			r.Post("/call-sessions/{id}/peer-id", peerIDHandler(coord, logger))
			r.Post("/call-sessions/{id}/end", endCallHandler(coord, logger))
		})

		r.Route("/patient", func(r chi.Router) {
			r.Use(RequireRole(consultation.RolePatient))

			r.Get("/schedules", listAvailableSchedulesHandler(coord, logger))
			r.Get("/schedules/{id}", scheduleDetailHandler(coord, logger))
			r.Post("/schedules/{id}/queue", joinQueueHandler(coord, logger))
			r.Put("/schedules/{id}/ready", setReadyHandler(coord, logger))
			r.Get("/invitation", pendingInvitationHandler(coord, logger))
			r.Post("/call-sessions/{id}/confirm", confirmCallHandler(coord, logger))
			r.Post("/call-sessions/{id}/decline", declineCallHandler(coord, logger))
			r.Post("/call-sessions/{id}/peer-id", peerIDHandler(coord, logger))
			r.Post("/call-sessions/{id}/end", endCallHandler(coord, logger))
		})

		r.Get("/call-sessions/{id}", getCallSessionHandler(coord, logger))
		r.Post("/call-sessions/{id}/activate", activateCallHandler(coord, logger))
	})

	return r
}
