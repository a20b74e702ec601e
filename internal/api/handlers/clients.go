package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/carehaven/go-mar/internal/domain/medication"
	"github.com/carehaven/go-mar/internal/fhir/mapper"
	"github.com/carehaven/go-mar/internal/report"
)

// ClientNamer looks up a display name for a client. An empty name falls back
// to the client id.
type ClientNamer interface {
	ClientName(ctx context.Context, clientID string) (string, error)
}

// ClientHandler serves per-client history, the MAR report and its FHIR form
type ClientHandler struct {
	responder
	svc      *medication.Service
	names    ClientNamer
	onReport func(format string)
	now      func() time.Time
}

// ClientOption configures a ClientHandler
type ClientOption func(*ClientHandler)

// WithReportCounter counts generated reports by format
func WithReportCounter(fn func(format string)) ClientOption {
	return func(h *ClientHandler) { h.onReport = fn }
}

// NewClientHandler creates a new handler. names may be nil.
func NewClientHandler(svc *medication.Service, names ClientNamer, logger *zap.Logger, opts ...ClientOption) *ClientHandler {
	h := &ClientHandler{
		responder: responder{orNop(logger)},
		svc:       svc,
		names:     names,
		onReport:  func(string) {},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes is mounted at /clients
func (h *ClientHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/{clientId}", func(r chi.Router) {
		r.Get("/administrations", h.History)
		r.Get("/mar-report", h.Report)
		r.Get("/fhir/medication-administrations", h.FHIR)
	})
	return r
}

// History handles GET /clients/{clientId}/administrations
func (h *ClientHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.svc.History(r.Context(), chi.URLParam(r, "clientId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// Report handles GET /clients/{clientId}/mar-report?from=&to=
func (h *ClientHandler) Report(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := chi.URLParam(r, "clientId")

	q := r.URL.Query()
	dateRange, err := report.ParseDateRange(q.Get("from"), q.Get("to"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	in, err := h.reportInput(ctx, clientID, dateRange)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := report.Generate(in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.onReport("pdf")

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.Filename(in.GeneratedAt)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := doc.WriteTo(w); err != nil {
		h.logger.Warn("write report", zap.String("client_id", clientID), zap.Error(err))
	}
}

func (h *ClientHandler) reportInput(ctx context.Context, clientID string, dateRange report.DateRange) (report.Input, error) {
	entries, err := h.svc.ClientMAR(ctx, clientID)
	if err != nil {
		return report.Input{}, err
	}
	history, err := h.svc.History(ctx, clientID)
	if err != nil {
		return report.Input{}, err
	}
	in := report.Input{
		ClientID:        clientID,
		Medications:     entries,
		Administrations: history,
		Range:           dateRange,
		GeneratedAt:     h.now(),
	}
	if h.names != nil {
		name, err := h.names.ClientName(ctx, clientID)
		if err != nil {
			h.logger.Warn("client name lookup failed", zap.String("client_id", clientID), zap.Error(err))
		}
		in.ClientName = name
	}
	return in, nil
}

// FHIR handles GET /clients/{clientId}/fhir/medication-administrations
func (h *ClientHandler) FHIR(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.ClientMAR(r.Context(), chi.URLParam(r, "clientId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	bundle, err := mapper.ToBundle(entries)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.onReport("fhir")
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(http.StatusOK)
	if err := jsonEncode(w, bundle); err != nil {
		h.logger.Warn("write bundle", zap.Error(err))
	}
}
