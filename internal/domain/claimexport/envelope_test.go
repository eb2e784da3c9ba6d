package claimexport

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Pallinder/go-randomdata"

	"github.com/ehr/claimexport/internal/platform/x12"
)

var envelopeTime = time.Date(2024, 4, 1, 9, 30, 0, 0, time.UTC)

func indexOf(segs []string, prefix string) int {
	for i, s := range segs {
		if strings.HasPrefix(s, prefix) {
			return i
		}
	}
	return -1
}

// countSegments counts segments whose id is id.
func countSegments(segs []string, id string) int {
	n := 0
	for _, s := range segs {
		if strings.HasPrefix(s, id+"*") {
			n++
		}
	}
	return n
}

func elements(seg string) []string {
	return strings.Split(seg, string(x12.DefaultDelimiters.Element))
}

// assertTrailers checks that every trailer agrees with its header and that
// SE01 equals the span from ST through SE.
func assertTrailers(t *testing.T, segs []string) {
	t.Helper()
	isa, gs, st := indexOf(segs, "ISA*"), indexOf(segs, "GS*"), indexOf(segs, "ST*")
	se, ge, iea := indexOf(segs, "SE*"), indexOf(segs, "GE*"), indexOf(segs, "IEA*")
	if isa != 0 || gs != 1 || st != 2 || iea != len(segs)-1 || ge != iea-1 || se != ge-1 {
		t.Fatalf("unexpected envelope layout: isa=%d gs=%d st=%d se=%d ge=%d iea=%d of %d", isa, gs, st, se, ge, iea, len(segs))
	}
	isaEl, gsEl, stEl := elements(segs[isa]), elements(segs[gs]), elements(segs[st])
	seEl, geEl, ieaEl := elements(segs[se]), elements(segs[ge]), elements(segs[iea])

	if want := se - st + 1; seEl[1] != strconv.Itoa(want) {
		t.Errorf("expected SE01 %d, got %s", want, seEl[1])
	}
	if seEl[2] != stEl[2] {
		t.Errorf("SE02 %s != ST02 %s", seEl[2], stEl[2])
	}
	if geEl[1] != "1" || ieaEl[1] != "1" {
		t.Errorf("expected GE01 and IEA01 of 1, got %s and %s", geEl[1], ieaEl[1])
	}
	if geEl[2] != gsEl[6] {
		t.Errorf("GE02 %s != GS06 %s", geEl[2], gsEl[6])
	}
	if ieaEl[2] != isaEl[13] {
		t.Errorf("IEA02 %s != ISA13 %s", ieaEl[2], isaEl[13])
	}
}

func buildEnvelope(t *testing.T, s Settings, cn ControlNumbers, rows ...EncounterRow) *Envelope {
	t.Helper()
	asm, err := NewAssembler(s, cn, envelopeTime)
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	for _, row := range rows {
		if _, err := asm.Add(row, ResolveDiagnosis(row.Encounter.Assessment, row.Encounter.ClinicalNote)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	env, err := asm.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return env
}

func sampleControl() ControlNumbers {
	return ControlNumbers{Interchange: 123456789, Group: 54321, TransactionSet: 4321}
}

func TestAssembler_SegmentCount(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		for _, lineBreaks := range []bool{false, true} {
			s := testSettings()
			s.LineBreaks = lineBreaks
			rows := make([]EncounterRow, n)
			for i := range rows {
				rows[i] = encounterRow("2024-03-05", "Patient", "Test", "concern", diabeticFootNote)
			}
			env := buildEnvelope(t, s, sampleControl(), rows...)

			segs := x12.Split(env.Text, x12.DefaultDelimiters)
			if len(segs) != env.TotalCount {
				t.Errorf("n=%d lineBreaks=%v: expected %d segments, got %d", n, lineBreaks, env.TotalCount, len(segs))
			}
			if got := indexOf(segs, "SE*") - indexOf(segs, "ST*") + 1; got != env.SegmentCount {
				t.Errorf("n=%d lineBreaks=%v: SE01 %d, actual span %d", n, lineBreaks, env.SegmentCount, got)
			}
			assertTrailers(t, segs)
			if lineBreaks != strings.Contains(env.Text, "~\n") {
				t.Errorf("n=%d: line break rendering mismatch", n)
			}
			if got := countSegments(segs, "CLM"); got != n {
				t.Errorf("n=%d lineBreaks=%v: expected %d claims, got %d", n, lineBreaks, n, got)
			}
		}
	}
}

func TestAssembler_ControlNumberWidths(t *testing.T) {
	tests := []struct {
		name string
		cn   ControlNumbers
		isa  string
		st   string
	}{
		{"minimum", ControlNumbers{MinInterchangeControl, MinGroupControl, MinTransactionControl}, "100000000", "1000"},
		{"maximum", ControlNumbers{MaxInterchangeControl, MaxGroupControl, MaxTransactionControl}, "999999999", "9999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := buildEnvelope(t, testSettings(), tt.cn, encounterRow("2024-03-05", "Doe", "Jane", "stable", sacralNote))
			segs := x12.Split(env.Text, x12.DefaultDelimiters)
			if got := elements(segs[0])[13]; got != tt.isa {
				t.Errorf("expected ISA13 %s, got %s", tt.isa, got)
			}
			if got := elements(segs[2])[2]; got != tt.st {
				t.Errorf("expected ST02 %s, got %s", tt.st, got)
			}
			assertTrailers(t, segs)
		})
	}
}

func TestAssembler_ISAFixedWidth(t *testing.T) {
	env := buildEnvelope(t, testSettings(), sampleControl(), encounterRow("2024-03-05", "Doe", "Jane", "stable", sacralNote))
	isa := x12.Split(env.Text, x12.DefaultDelimiters)[0]
	if len(isa) != 105 {
		t.Errorf("expected ISA of 105 characters, got %d: %q", len(isa), isa)
	}
	el := elements(isa)
	if el[6] != "SENDER01       " || el[8] != "RECEIVER01     " {
		t.Errorf("expected padded sender and receiver ids, got %q and %q", el[6], el[8])
	}
	if el[9] != "240401" || el[10] != "0930" {
		t.Errorf("unexpected ISA date/time %s %s", el[9], el[10])
	}
	if el[15] != "T" || el[16] != ":" || el[11] != "^" {
		t.Errorf("unexpected ISA usage or separators: %q %q %q", el[15], el[16], el[11])
	}
}

func TestAssembler_Headers(t *testing.T) {
	env := buildEnvelope(t, testSettings(), sampleControl(), encounterRow("2024-03-05", "Doe", "Jane", "stable", sacralNote))
	segs := x12.Split(env.Text, x12.DefaultDelimiters)

	want := []string{
		"GS*HC*SENDER01*RECEIVER01*20240401*0930*54321*X*005010X222A1",
		"ST*837*4321*005010X222A1",
		"BHT*0019*00*4321*20240401*0930*CH",
		"NM1*41*2*WOUND CARE BILLING*****46*SENDER01",
		"PER*IC*BILLING OFFICE*TE*5550102000",
		"NM1*40*2*CLEARINGHOUSE*****46*RECEIVER01",
	}
	for i, w := range want {
		if segs[i+1] != w {
			t.Errorf("segment %d: expected %q, got %q", i+1, w, segs[i+1])
		}
	}
}

func TestAssembler_HierarchyIDs(t *testing.T) {
	env := buildEnvelope(t, testSettings(), sampleControl(),
		encounterRow("2024-03-05", "Alvarez", "Maria", "stable", sacralNote),
		encounterRow("2024-03-06", "Brooks", "James", "stable", sacralNote),
		encounterRow("2024-03-07", "Chen", "Li", "stable", sacralNote),
	)
	var hls []string
	for _, s := range x12.Split(env.Text, x12.DefaultDelimiters) {
		if strings.HasPrefix(s, "HL*") {
			hls = append(hls, s)
		}
	}
	want := []string{
		"HL*1**20*1", "HL*2*1*22*0",
		"HL*3**20*1", "HL*4*3*22*0",
		"HL*5**20*1", "HL*6*5*22*0",
	}
	if len(hls) != len(want) {
		t.Fatalf("expected %d HL segments, got %d", len(want), len(hls))
	}
	for i := range want {
		if hls[i] != want[i] {
			t.Errorf("HL %d: expected %s, got %s", i, want[i], hls[i])
		}
	}
	for i, rec := range env.Records {
		if rec.ClaimNumber != i+1 {
			t.Errorf("expected claim number %d, got %d", i+1, rec.ClaimNumber)
		}
	}
}

func TestAssembler_FinalizeErrors(t *testing.T) {
	asm, err := NewAssembler(testSettings(), sampleControl(), envelopeTime)
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	if _, err := asm.Finalize(); err == nil {
		t.Error("expected error finalizing an empty envelope")
	}

	if _, err := asm.Add(encounterRow("2024-03-05", "Doe", "Jane", "stable", sacralNote), DiagnosisCodePair{Primary: "L89.159"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := asm.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if _, err := asm.Finalize(); err == nil {
		t.Error("expected error finalizing twice")
	}
	if _, err := asm.Add(encounterRow("2024-03-06", "Doe", "John", "stable", sacralNote), DiagnosisCodePair{Primary: "L89.159"}); err == nil {
		t.Error("expected error adding after finalize")
	}
}

func TestNewAssembler_InvalidControlNumbers(t *testing.T) {
	tests := []ControlNumbers{
		{Interchange: 99999999, Group: 10000, TransactionSet: 1000},
		{Interchange: 1000000000, Group: 10000, TransactionSet: 1000},
		{Interchange: 100000000, Group: 100000, TransactionSet: 1000},
		{Interchange: 100000000, Group: 10000, TransactionSet: 999},
	}
	for _, cn := range tests {
		if _, err := NewAssembler(testSettings(), cn, envelopeTime); err == nil {
			t.Errorf("expected error for %+v", cn)
		}
	}
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"missing payer", func(s *Settings) { s.PayerID = " " }, "payer id"},
		{"missing several", func(s *Settings) { s.SenderID = ""; s.BillingAddress.Zip = "" }, "billing zip, sender id"},
		{"long sender", func(s *Settings) { s.SenderID = "SENDER0123456789" }, "at most 15"},
		{"delimiter in id", func(s *Settings) { s.ReceiverID = "RECV*01" }, "delimiter"},
		{"bad usage", func(s *Settings) { s.UsageIndicator = "X" }, "usage indicator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAssembler_RandomBatches(t *testing.T) {
	for trial := 0; trial < 25; trial++ {
		rows := make([]EncounterRow, randomdata.Number(1, 12))
		for i := range rows {
			rows[i] = randomEncounterRow()
		}
		// Delimiters inside values must not add segments.
		rows[0].Patient.LastName = "O*Brien~Smith"
		rows[0].Patient.Address = strPtr("1 Main St^Apt:4")

		env := buildEnvelope(t, testSettings(), sampleControl(), rows...)
		segs := x12.Split(env.Text, x12.DefaultDelimiters)
		if len(segs) != env.TotalCount {
			t.Fatalf("trial %d: expected %d segments, got %d", trial, env.TotalCount, len(segs))
		}
		assertTrailers(t, segs)
		if got := countSegments(segs, "CLM"); got != len(rows) {
			t.Errorf("trial %d: expected %d claims, got %d", trial, len(rows), got)
		}
	}
}

func TestNewAssembler_InvalidSettings(t *testing.T) {
	s := testSettings()
	s.SenderID = ""
	if _, err := NewAssembler(s, sampleControl(), envelopeTime); err == nil {
		t.Error("expected error for missing sender id")
	}
}

func TestAssembler_AddRejectsIncompleteRow(t *testing.T) {
	asm, err := NewAssembler(testSettings(), sampleControl(), envelopeTime)
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	bad := encounterRow("2024-03-05", "Doe", "Jane", "stable", sacralNote)
	bad.Patient.DOB = nil
	if _, err := asm.Add(bad, DiagnosisCodePair{Primary: "L89.159"}); err == nil {
		t.Fatal("expected error for row without date of birth")
	}

	rec, err := asm.Add(encounterRow("2024-03-06", "Doe", "John", "stable", sacralNote), DiagnosisCodePair{Primary: "L89.159"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if rec.ClaimNumber != 1 || rec.BillingHL != 1 || rec.SubscriberHL != 2 {
		t.Errorf("expected rejected row to consume no numbers, got claim %d hl %d/%d", rec.ClaimNumber, rec.BillingHL, rec.SubscriberHL)
	}
	env, err := asm.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if n := countSegments(x12.Split(env.Text, x12.DefaultDelimiters), "CLM"); n != 1 {
		t.Errorf("expected 1 CLM, got %d", n)
	}
}
