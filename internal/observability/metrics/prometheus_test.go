package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/carehaven/go-mar/internal/domain/medication"
)

func TestObserver(t *testing.T) {
	m := New(nil)

	m.MedicationResolved(true)
	m.MedicationResolved(false)
	m.MedicationResolved(true)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MedicationsResolved.WithLabelValues("reused")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MedicationsResolved.WithLabelValues("created")))

	neg := -1
	m.AdministrationRecorded(medication.StatusAdministered, true, &neg)
	m.AdministrationRecorded(medication.StatusMissed, false, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdministrationsRecorded.WithLabelValues("administered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SupplyDecrements))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NegativeSupplyObserved))

	m.BreakerState("sendgrid", 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("sendgrid")))

	m.ReportGenerated("pdf")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReportsGenerated.WithLabelValues("pdf")))

	m.AlertResult("sent")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LowSupplyAlerts.WithLabelValues("sent")))

	m.SetOutboxPending(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.OutboxPending))

	m.ObserveRequest("GET", "/api/v1/medications", "200", 0.01)
	assert.Equal(t, 1, testutil.CollectAndCount(m.HTTPRequestDuration))
}

func TestNewIsolatedRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}
