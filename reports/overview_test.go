package reports

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarSubjectNames(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Anatomia Humana I", "ANATOMIA HUMANA I", true},
		{"Bioquímica", "bioquimica", true},
		{"Saúde Coletiva II", "Saude Coletiva", true},
		{"Clínica Médica Geral Adulto", "Clinica Medica Geral Infantil", true},
		{"Anatomia", "Fisiologia", false},
		{"Clinica Medica", "Clinica Cirurgica Pediatrica", false},
		{"", "Anatomia", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SimilarSubjectNames(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestNormalizeSubjectName(t *testing.T) {
	assert.Equal(t, "etica e bioetica", NormalizeSubjectName("  Ética   e Bioética. "))
}

func TestCombineAttendance(t *testing.T) {
	att := &Attendance{Items: []AttendanceItem{
		{Code: "83-057-1", Subject: "ANATOMIA HUMANA I", PercentageValue: 12.5},
		{Code: "83-070", Subject: "Fisiologia", PercentageValue: 30},
		{Code: "9-9-9", Subject: "ÉTICA", PercentageValue: 3},
	}}
	hist := &History{Periods: []HistoryPeriod{{Subjects: []HistorySubject{
		{Name: "ANATOMIA HUMANA I", Code: "83-057", Workload: "40"},
		{Name: "FISIOLOGIA", Code: "83-070", Workload: "80"},
	}}}}
	sched := &Schedule{Classes: []Class{
		{Subject: "ANATOMIA HUMANA I", Start: "07:30", StartDateISO: "2026-02-02"},
		{Subject: "ANATOMIA HUMANA I", Start: "07:30", StartDateISO: "2026-02-09"},
		{Subject: "ANATOMIA HUMANA I", Start: "07:30", StartDateISO: "2026-03-30"},
		{Subject: "FISIOLOGIA HUMANA", Start: "10:00"},
		{Subject: "FISIOLOGIA HUMANA", Start: "14:00"},
	}}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	out := CombineAttendance(att, hist, sched, now)
	require.Len(t, out.Items, 3)

	physiology := out.Items[0]
	assert.Equal(t, "Fisiologia", physiology.Subject, "sorted by absence percentage")
	assert.Equal(t, "80", physiology.Workload, "matched by code")
	assert.Equal(t, "1.25%", physiology.OneAbsencePercentage)
	assert.Equal(t, 2, physiology.ClassesTotal, "matched by name containment")
	assert.Equal(t, 0, physiology.ClassDays)
	// No dated classes: 2 - round(30% of 80) floors at zero.
	assert.Equal(t, 0, physiology.ClassesHeld)

	anatomy := out.Items[1]
	assert.Equal(t, "40", anatomy.Workload, "code differs, matched by name")
	assert.Equal(t, "2.50%", anatomy.OneAbsencePercentage)
	assert.Equal(t, 3, anatomy.ClassesTotal)
	assert.Equal(t, 3, anatomy.ClassDays)
	assert.Equal(t, 2, anatomy.ClassesHeld, "only classes that already started")

	ethics := out.Items[2]
	assert.Empty(t, ethics.Workload)
	assert.Empty(t, ethics.OneAbsencePercentage)
	assert.Zero(t, ethics.ClassesTotal)
}

func TestCombineAttendanceWithoutSources(t *testing.T) {
	att := &Attendance{Items: []AttendanceItem{{Code: "1-1-1", Subject: "ANATOMIA", PercentageValue: 5}}}
	out := CombineAttendance(att, nil, nil, time.Now())
	require.Len(t, out.Items, 1)
	assert.Equal(t, att.Items[0], out.Items[0].AttendanceItem)
	assert.Zero(t, out.Items[0].ClassesTotal)
}
