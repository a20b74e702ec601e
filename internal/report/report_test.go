package report_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carehaven/go-mar/internal/domain/medication"
	"github.com/carehaven/go-mar/internal/infrastructure/memory"
	"github.com/carehaven/go-mar/internal/report"
)

func intPtr(v int) *int { return &v }

func entry(id, name, dosage string, status medication.ClientMedicationStatus) medication.MAREntry {
	return medication.MAREntry{
		Medication:       &medication.BaseMedication{ID: id, Name: name, Dosage: dosage, Instructions: "with food"},
		ClientMedication: &medication.ClientMedication{ID: "cm-" + id, MedicationID: id, ClientID: "client-1", Status: status},
	}
}

func TestIbuprofenEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMedicationStore()
	svc := medication.NewService(store, nil)

	res, err := svc.AddMedication(ctx, medication.AddMedicationRequest{
		Medication: medication.MedicationFields{
			Name: "Ibuprofen", Dosage: "200mg", Frequency: "every 6 hours", Route: medication.RouteOral,
		},
		ClientID:           "client-1",
		ClientSpecificData: medication.ClientSpecificData{Supply: intPtr(10)},
	})
	require.NoError(t, err)

	times := []medication.Timestamp{"2024-02-01T08:00:00Z", "2024-02-01T14:00:00Z", "2024-02-01T20:00:00Z"}
	for _, ts := range times {
		_, err := svc.RecordAdministration(ctx, medication.AdministrationInput{
			MedicationID:     res.BaseMedication.ID,
			ClientID:         "client-1",
			Status:           medication.StatusAdministered,
			AdministeredTime: ts,
			AdministeredBy:   "Sam Staff",
		})
		require.NoError(t, err)
	}

	cm, err := store.GetClientMedication(ctx, res.ClientMedication.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, *cm.Supply)
	assert.Len(t, cm.AdministrationLog, 3)

	entries, err := svc.ClientMAR(ctx, "client-1")
	require.NoError(t, err)
	history, err := svc.History(ctx, "client-1")
	require.NoError(t, err)

	doc, err := report.Generate(report.Input{
		ClientID:        "client-1",
		ClientName:      "Jordan Client",
		Medications:     entries,
		Administrations: history,
	})
	require.NoError(t, err)

	meds := doc.Layout.Rows(report.TableMedications)
	require.Len(t, meds, 1)
	assert.Equal(t, "Ibuprofen", meds[0][0])

	rows := doc.Layout.Rows(report.TableHistory)
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, "Ibuprofen", r[1])
	}
	assert.Equal(t, "2024-02-01 20:00", rows[0][0], "newest first")
	assert.Equal(t, "2024-02-01 08:00", rows[2][0])

	assert.True(t, bytes.HasPrefix(doc.Bytes(), []byte("%PDF-")))

	path := filepath.Join(t.TempDir(), report.Filename(time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, doc.Save(path))
	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, doc.Bytes(), saved)
	assert.Equal(t, "MAR_Report_2024-02-02.pdf", filepath.Base(path))
}

func TestBuildToleratesBadData(t *testing.T) {
	in := report.Input{
		ClientID:    "client-1",
		Medications: []medication.MAREntry{entry("m1", "Sertraline", "50mg", medication.ClientMedicationActive), {ClientMedication: &medication.ClientMedication{ID: "orphan"}}},
		Administrations: []medication.Administration{
			{ID: "a1", MedicationID: "m1", AdministeredTime: "not-a-date", Status: medication.StatusAdministered},
			{ID: "a2", MedicationID: "unknown", AdministeredTime: "2024-01-01T08:00:00Z", Status: medication.StatusAdministered},
			{ID: "a3", MedicationID: "m1", AdministeredTime: "2024-01-02T08:00:00Z", Status: medication.AdministrationStatus("held")},
			{ID: "a4", MedicationID: "m1", AdministeredTime: "", Status: medication.StatusMissed},
		},
	}

	var layout *report.Layout
	require.NotPanics(t, func() { layout = report.Build(in) })

	rows := layout.Rows(report.TableHistory)
	require.Len(t, rows, 3, "unknown medication is skipped")
	assert.Equal(t, "2024-01-02 08:00", rows[0][0])
	assert.Equal(t, "held", rows[0][2])
	assert.Equal(t, report.InvalidDate, rows[1][0])
	assert.Equal(t, report.InvalidDate, rows[2][0])

	_, err := report.Generate(in)
	assert.NoError(t, err)
}

func TestBuildPaginates(t *testing.T) {
	in := report.Input{
		ClientID:    "client-1",
		Medications: []medication.MAREntry{entry("m1", "Lithium", "300mg", medication.ClientMedicationActive)},
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		in.Administrations = append(in.Administrations, medication.Administration{
			ID:               fmt.Sprintf("a%d", i),
			MedicationID:     "m1",
			AdministeredTime: medication.TimestampOf(base.Add(time.Duration(i) * time.Hour)),
			Status:           medication.StatusAdministered,
		})
	}

	layout := report.Build(in)
	require.GreaterOrEqual(t, len(layout.Pages), 2)
	assert.Len(t, layout.Rows(report.TableHistory), 60)

	for i, p := range layout.Pages {
		for _, it := range p.Items {
			assert.LessOrEqual(t, it.Y, report.BreakThreshold, "page %d", i+1)
			assert.GreaterOrEqual(t, it.Y, report.TopMargin, "page %d", i+1)
		}
		if i > 0 {
			first := p.Items[0]
			assert.Equal(t, report.KindTableHeader, first.Kind, "header repeats on page %d", i+1)
			assert.Equal(t, report.TableHistory, first.Table)
			assert.Equal(t, report.TopMargin, first.Y)
		}
	}

	doc, err := report.Generate(in)
	require.NoError(t, err)
	var buf bytes.Buffer
	n, err := doc.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(doc.Bytes())), n)
}

func TestBuildDateRange(t *testing.T) {
	r, err := report.ParseDateRange("2024-01-02", "2024-01-03")
	require.NoError(t, err)

	in := report.Input{
		Medications: []medication.MAREntry{entry("m1", "Lithium", "300mg", medication.ClientMedicationActive)},
		Administrations: []medication.Administration{
			{MedicationID: "m1", AdministeredTime: "2024-01-01T23:59:00Z"},
			{MedicationID: "m1", AdministeredTime: "2024-01-02T00:00:00Z"},
			{MedicationID: "m1", AdministeredTime: "2024-01-03T23:00:00Z"},
			{MedicationID: "m1", AdministeredTime: "2024-01-04T00:00:00Z"},
			{MedicationID: "m1", AdministeredTime: "bad"},
		},
		Range: r,
	}

	rows := report.Build(in).Rows(report.TableHistory)
	require.Len(t, rows, 3)
	assert.Equal(t, "2024-01-03 23:00", rows[0][0])
	assert.Equal(t, "2024-01-02 00:00", rows[1][0])
	assert.Equal(t, report.InvalidDate, rows[2][0])

	_, err = report.ParseDateRange("2024-01-05", "2024-01-01")
	assert.Error(t, err)
	_, err = report.ParseDateRange("01/05/2024", "")
	assert.Error(t, err)

	zero, err := report.ParseDateRange("", "")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}

func TestBuildActiveOnly(t *testing.T) {
	in := report.Input{
		Medications: []medication.MAREntry{
			entry("m1", "Lithium", "300mg", medication.ClientMedicationActive),
			entry("m2", "Quetiapine", "25mg", medication.ClientMedicationDiscontinued),
		},
		Administrations: []medication.Administration{
			{MedicationID: "m2", AdministeredTime: "2024-01-01T08:00:00Z", Status: medication.StatusAdministered},
		},
	}

	layout := report.Build(in)
	meds := layout.Rows(report.TableMedications)
	require.Len(t, meds, 1)
	assert.Equal(t, "Lithium", meds[0][0])

	history := layout.Rows(report.TableHistory)
	require.Len(t, history, 1, "history of discontinued medications is kept")
	assert.Equal(t, "Quetiapine", history[0][1])
}
