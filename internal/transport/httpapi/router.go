// Package httpapi is the JSON-over-HTTP surface of the scheduling service.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"turnoplus/backend/internal/domain"
	"turnoplus/backend/internal/service/scheduling"
)

type schedulingService interface {
	CreateAvailability(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (domain.Availability, error)
	CreateRecurringAvailability(ctx context.Context, in scheduling.RecurringAvailabilityInput) ([]domain.Availability, error)
	UpdateAvailability(ctx context.Context, id uuid.UUID, patch scheduling.AvailabilityPatch) (domain.Availability, error)
	GetAvailability(ctx context.Context, id uuid.UUID) (domain.Availability, error)
	ListAvailability(ctx context.Context, doctorID uuid.UUID) ([]domain.Availability, error)
	ListAvailableBlocks(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]domain.Block, error)
	DeleteAvailability(ctx context.Context, id uuid.UUID) error
	DeleteUnbookedBlocks(ctx context.Context, id uuid.UUID) (*domain.Availability, error)
	DeleteBlock(ctx context.Context, blockID uuid.UUID) error

	Book(ctx context.Context, in scheduling.BookInput) (domain.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	Confirm(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	Complete(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	ListForDoctor(ctx context.Context, doctorID uuid.UUID, window *domain.TimeWindow) ([]domain.Appointment, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID, window *domain.TimeWindow) ([]domain.Appointment, error)

	CheckConsistency(ctx context.Context, doctorID uuid.UUID) ([]scheduling.Inconsistency, error)
	RepairConsistency(ctx context.Context, doctorID uuid.UUID) ([]scheduling.Inconsistency, error)
}

type RouterConfig struct {
	Service  schedulingService
	Health   *HealthHandler
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	Timeout  time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "http"))
	h := &handlers{svc: cfg.Service, log: log}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(middleware.Recoverer)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		if cfg.Timeout > 0 {
			r.Use(RequestTimeoutMiddleware(cfg.Timeout))
		}

		r.Route("/doctors/{doctorID}", func(r chi.Router) {
			r.Post("/availabilities", h.createAvailability)
			r.Post("/availabilities/recurring", h.createRecurringAvailability)
			r.Get("/availabilities", h.listAvailability)
			r.Get("/blocks", h.listAvailableBlocks)
			r.Get("/appointments", h.listForDoctor)
			r.Get("/consistency", h.checkConsistency)
			r.Post("/consistency/repair", h.repairConsistency)
		})

		r.Route("/availabilities/{availabilityID}", func(r chi.Router) {
			r.Get("/", h.getAvailability)
			r.Patch("/", h.updateAvailability)
			r.Delete("/", h.deleteAvailability)
			r.Delete("/blocks", h.deleteUnbookedBlocks)
		})

		r.Delete("/blocks/{blockID}", h.deleteBlock)

		r.Post("/appointments", h.book)
		r.Route("/appointments/{appointmentID}", func(r chi.Router) {
			r.Get("/", h.getAppointment)
			r.Delete("/", h.deleteAppointment)
			r.Post("/cancel", h.cancel)
			r.Post("/confirm", h.confirm)
			r.Post("/complete", h.complete)
		})

		r.Get("/patients/{patientID}/appointments", h.listForPatient)
	})

	return r
}
