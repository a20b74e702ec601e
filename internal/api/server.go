// Package api assembles the HTTP surface of the MAR service.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/carehaven/go-mar/internal/api/handlers"
	"github.com/carehaven/go-mar/internal/api/middleware"
	"github.com/carehaven/go-mar/internal/domain/grouphome"
	"github.com/carehaven/go-mar/internal/domain/intake"
	"github.com/carehaven/go-mar/internal/domain/medication"
	"github.com/carehaven/go-mar/internal/observability/metrics"
	"github.com/carehaven/go-mar/internal/session"
)

// Deps are the services behind the router. Metrics and Ready are optional.
type Deps struct {
	ServiceName string
	Medications *medication.Service
	GroupHomes  *grouphome.Service
	Intake      *intake.Service
	Sessions    session.Store
	Metrics     *metrics.Metrics
	Ready       func(ctx context.Context) error
	Logger      *zap.Logger
}

// NewRouter builds the chi router with the global middleware stack
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if d.ServiceName == "" {
		d.ServiceName = "mar-api"
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(d.ServiceName))

	var clientOpts []handlers.ClientOption
	if d.Metrics != nil {
		r.Use(middleware.Metrics(d.Metrics.ObserveRequest))
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
		clientOpts = append(clientOpts, handlers.WithReportCounter(d.Metrics.ReportGenerated))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				logger.Warn("readiness check failed", zap.Error(err))
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	auth := handlers.NewAuthHandler(d.Sessions, logger)
	meds := handlers.NewMedicationHandler(d.Medications, logger)
	var names handlers.ClientNamer
	if d.Intake != nil {
		names = d.Intake
	}
	clients := handlers.NewClientHandler(d.Medications, names, logger, clientOpts...)

	requireSession := middleware.SessionAuth(d.Sessions)
	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/auth", auth.Routes(requireSession))

		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Mount("/medications", meds.MedicationRoutes())
			r.Mount("/client-medications", meds.ClientMedicationRoutes())
			r.Mount("/administrations", meds.AdministrationRoutes())
			r.Mount("/clients", clients.Routes())
			if d.GroupHomes != nil {
				r.Mount("/group-homes", handlers.NewGroupHomeHandler(d.GroupHomes, logger).Routes())
			}
			if d.Intake != nil {
				r.Mount("/intake", handlers.NewIntakeHandler(d.Intake, logger).Routes())
			}
		})
	})

	return r
}
