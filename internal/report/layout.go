// Package report generates the paginated MAR report for one client.
package report

import (
	"fmt"
	"time"

	"github.com/carehaven/go-mar/internal/domain/medication"
)

// Page geometry in millimetres (A4 portrait)
const (
	PageWidth      = 210.0
	PageHeight     = 297.0
	MarginLeft     = 15.0
	TopMargin      = 20.0
	RowHeight      = 8.0
	BreakThreshold = 270.0
)

// InvalidDate replaces timestamps that cannot be parsed
const InvalidDate = "Invalid Date"

const (
	dateTimeLayout = "2006-01-02 15:04"
	dateLayout     = "2006-01-02"
)

// ItemKind identifies how a layout item is drawn
type ItemKind int

const (
	KindTitle ItemKind = iota
	KindText
	KindHeading
	KindTableHeader
	KindRow
	KindNote
)

// Table identifies which table a header or row belongs to
type Table int

const (
	TableNone Table = iota
	TableMedications
	TableHistory
)

// Item is one positioned line of the report
type Item struct {
	Kind  ItemKind
	Table Table
	Y     float64
	Cells []string
}

// Page is an ordered list of items placed top to bottom
type Page struct {
	Items []Item
}

// Layout is the page-broken report before rendering
type Layout struct {
	Pages []Page
}

// Rows returns the data rows of the given table across all pages
func (l *Layout) Rows(table Table) [][]string {
	var rows [][]string
	for _, p := range l.Pages {
		for _, it := range p.Items {
			if it.Kind == KindRow && it.Table == table {
				rows = append(rows, it.Cells)
			}
		}
	}
	return rows
}

// DateRange bounds the history section. A zero bound is open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// IsZero reports whether the range applies no filter
func (r DateRange) IsZero() bool { return r.From.IsZero() && r.To.IsZero() }

// Contains reports whether t falls inside the range, bounds included
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

func (r DateRange) String() string {
	switch {
	case r.IsZero():
		return "All dates"
	case r.From.IsZero():
		return "Through " + r.To.Format(dateLayout)
	case r.To.IsZero():
		return "From " + r.From.Format(dateLayout)
	default:
		return r.From.Format(dateLayout) + " - " + r.To.Format(dateLayout)
	}
}

// Input holds everything the report is built from
type Input struct {
	ClientID        string
	ClientName      string
	Medications     []medication.MAREntry
	Administrations []medication.Administration
	Range           DateRange
	GeneratedAt     time.Time
}

var (
	medicationColumns = []string{"Medication", "Dosage", "Instructions"}
	historyColumns    = []string{"Date/Time", "Medication", "Status", "Administered By", "Notes"}
)

type builder struct {
	layout  Layout
	y       float64
	table   Table
	columns []string
}

func (b *builder) newPage() {
	b.layout.Pages = append(b.layout.Pages, Page{})
	b.y = TopMargin
}

func (b *builder) place(kind ItemKind, table Table, cells ...string) {
	if b.y > BreakThreshold {
		b.newPage()
		if kind == KindRow && b.columns != nil {
			b.put(KindTableHeader, b.table, b.columns...)
		}
	}
	b.put(kind, table, cells...)
}

func (b *builder) put(kind ItemKind, table Table, cells ...string) {
	p := &b.layout.Pages[len(b.layout.Pages)-1]
	p.Items = append(p.Items, Item{Kind: kind, Table: table, Y: b.y, Cells: cells})
	b.y += RowHeight
}

func (b *builder) startTable(table Table, columns []string) {
	b.table = table
	b.columns = columns
	b.place(KindTableHeader, table, columns...)
}

func (b *builder) endTable() {
	b.table = TableNone
	b.columns = nil
	b.y += RowHeight / 2
}

// Build lays the report out into pages. It never fails on bad data:
// unparseable times render as InvalidDate and administrations of unknown
// medications are skipped.
func Build(in Input) *Layout {
	b := &builder{}
	b.newPage()

	generated := in.GeneratedAt
	if generated.IsZero() {
		generated = time.Now().UTC()
	}
	client := in.ClientName
	if client == "" {
		client = in.ClientID
	}

	b.place(KindTitle, TableNone, "Medication Administration Record")
	b.place(KindText, TableNone, "Client: "+client)
	b.place(KindText, TableNone, "Period: "+in.Range.String())
	b.place(KindText, TableNone, "Generated: "+generated.Format(dateTimeLayout))
	b.y += RowHeight / 2

	names := make(map[string]string, len(in.Medications))
	b.place(KindHeading, TableNone, "Active Medications")
	b.startTable(TableMedications, medicationColumns)
	active := 0
	for _, m := range in.Medications {
		if m.Medication == nil || m.ClientMedication == nil {
			continue
		}
		names[m.Medication.ID] = m.Medication.Name
		if m.ClientMedication.Status != medication.ClientMedicationActive {
			continue
		}
		instructions := m.Medication.Instructions
		if m.ClientMedication.SpecialInstructions != "" {
			instructions = joinNonEmpty(instructions, m.ClientMedication.SpecialInstructions)
		}
		b.place(KindRow, TableMedications, m.Medication.Name, m.Medication.Dosage, instructions)
		active++
	}
	if active == 0 {
		b.place(KindNote, TableMedications, "No active medications")
	}
	b.endTable()

	history := make([]medication.Administration, len(in.Administrations))
	copy(history, in.Administrations)
	medication.SortByAdministeredTime(history)

	b.place(KindHeading, TableNone, "Administration History")
	b.startTable(TableHistory, historyColumns)
	shown := 0
	for _, a := range history {
		name, ok := names[a.MedicationID]
		if !ok {
			continue
		}
		when, parsed := a.AdministeredTime.Time()
		if parsed && !in.Range.IsZero() && !in.Range.Contains(when) {
			continue
		}
		b.place(KindRow, TableHistory, formatTime(when, parsed), name, string(a.Status), a.AdministeredBy, a.Notes)
		shown++
	}
	if shown == 0 {
		b.place(KindNote, TableHistory, "No administrations recorded")
	}
	b.endTable()

	return &b.layout
}

func formatTime(t time.Time, ok bool) string {
	if !ok {
		return InvalidDate
	}
	return t.Format(dateTimeLayout)
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return fmt.Sprintf("%s; %s", a, b)
	}
}

// ParseDateRange parses optional YYYY-MM-DD bounds. The upper bound covers
// the whole day.
func ParseDateRange(from, to string) (DateRange, error) {
	var r DateRange
	if from != "" {
		t, err := time.Parse(dateLayout, from)
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid from date %q: %w", from, err)
		}
		r.From = t
	}
	if to != "" {
		t, err := time.Parse(dateLayout, to)
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid to date %q: %w", to, err)
		}
		r.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return DateRange{}, fmt.Errorf("date range ends before it starts")
	}
	return r, nil
}
