package claimexport

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ehr/claimexport/internal/platform/x12"
)

// Implementation guide and version identifiers.
const (
	TransactionSetID = "837"
	ImplementationID = "005010X222A1"
	ISAVersion       = "00501"
	FunctionalIDHC   = "HC"
)

// Settings describes the submitter, receiver and billing provider. They are
// the same for every claim in a batch.
type Settings struct {
	SenderID         string
	ReceiverID       string
	SubmitterName    string
	SubmitterContact string
	SubmitterPhone   string
	ReceiverName     string
	BillingName      string
	BillingNPI       string
	BillingTaxID     string
	BillingAddress   Address
	PayerID          string
	UsageIndicator   string
	LineBreaks       bool
}

// Validate checks the fields that every envelope needs.
func (s Settings) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"sender id":         s.SenderID,
		"receiver id":       s.ReceiverID,
		"submitter name":    s.SubmitterName,
		"submitter contact": s.SubmitterContact,
		"submitter phone":   s.SubmitterPhone,
		"receiver name":     s.ReceiverName,
		"billing name":      s.BillingName,
		"billing address":   s.BillingAddress.Line,
		"billing city":      s.BillingAddress.City,
		"billing state":     s.BillingAddress.State,
		"billing zip":       s.BillingAddress.Zip,
		"payer id":          s.PayerID,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("edi settings missing: %s", strings.Join(missing, ", "))
	}
	if len(s.SenderID) > 15 || len(s.ReceiverID) > 15 {
		return fmt.Errorf("edi sender and receiver ids must be at most 15 characters")
	}
	if strings.ContainsAny(s.SenderID+s.ReceiverID, "*:^~") {
		return fmt.Errorf("edi sender and receiver ids must not contain delimiter characters")
	}
	if s.UsageIndicator != "P" && s.UsageIndicator != "T" {
		return fmt.Errorf("edi usage indicator must be P or T, got %q", s.UsageIndicator)
	}
	return nil
}

// Envelope is a finalized ISA..IEA interchange.
type Envelope struct {
	Text         string
	SegmentCount int // SE01
	TotalCount   int // every terminator, ISA through IEA
	Records      []ClaimRecord
	Flags        []ReviewFlag
}

// Assembler accumulates claims inside one interchange. Header segments are
// written by NewAssembler; trailers by Finalize.
type Assembler struct {
	settings  Settings
	control   ControlNumbers
	icn, tscn string
	w         *x12.Writer
	stMark    int
	hl        int
	records   []ClaimRecord
	flags     []ReviewFlag
	finalized bool
}

// NewAssembler validates the settings and control numbers and writes the
// interchange, group and transaction set headers plus the submitter and
// receiver loops.
func NewAssembler(s Settings, cn ControlNumbers, at time.Time) (*Assembler, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := cn.Validate(); err != nil {
		return nil, err
	}
	icn, err := cn.InterchangeString()
	if err != nil {
		return nil, err
	}
	tscn, err := cn.TransactionSetString()
	if err != nil {
		return nil, err
	}

	a := &Assembler{
		settings: s,
		control:  cn,
		icn:      icn,
		tscn:     tscn,
		w:        x12.NewWriter(x12.DefaultDelimiters, s.LineBreaks),
	}

	d := x12.DefaultDelimiters
	isa := x12.New("ISA",
		"00", x12.Pad("", 10),
		"00", x12.Pad("", 10),
		"ZZ", x12.Pad(s.SenderID, 15),
		"ZZ", x12.Pad(s.ReceiverID, 15),
		at.Format(x12.FormatISADate), at.Format(x12.FormatTimeHHMM),
		string(d.Repetition), ISAVersion, icn, "0", s.UsageIndicator, string(d.Component))
	isa.Verbatim = true
	a.w.Write(isa)

	a.w.Write(x12.New("GS", FunctionalIDHC, s.SenderID, s.ReceiverID,
		x12.D8(at), at.Format(x12.FormatTimeHHMM), cn.GroupString(), "X", ImplementationID))

	a.stMark = a.w.Count()
	a.w.Write(
		x12.New("ST", TransactionSetID, tscn, ImplementationID),
		x12.New("BHT", "0019", "00", tscn, x12.D8(at), at.Format(x12.FormatTimeHHMM), "CH"),
		// 1000A submitter
		x12.New("NM1", "41", "2", x12.Name(s.SubmitterName), "", "", "", "", "46", s.SenderID),
		x12.New("PER", "IC", x12.Name(s.SubmitterContact), "TE", digits(s.SubmitterPhone)),
		// 1000B receiver
		x12.New("NM1", "40", "2", x12.Name(s.ReceiverName), "", "", "", "", "46", s.ReceiverID),
	)
	return a, nil
}

// Add assigns the next claim number and HL ids to the row, renders its
// segments and appends them.
func (a *Assembler) Add(row EncounterRow, diag DiagnosisCodePair) (ClaimRecord, error) {
	if a.finalized {
		return ClaimRecord{}, fmt.Errorf("assembler already finalized")
	}
	rec := ClaimRecord{
		Encounter:    row.Encounter,
		Patient:      row.Patient,
		Provider:     row.Provider,
		Diagnosis:    diag,
		ClaimNumber:  len(a.records) + 1,
		BillingHL:    a.hl + 1,
		SubscriberHL: a.hl + 2,
	}

	segs, flags, err := BuildClaimSegments(a.settings, &rec)
	if err != nil {
		return ClaimRecord{}, err
	}
	a.hl = rec.SubscriberHL
	a.w.Write(segs...)
	a.records = append(a.records, rec)
	a.flags = append(a.flags, flags...)
	return rec, nil
}

// Finalize writes SE, GE and IEA and returns the interchange.
func (a *Assembler) Finalize() (*Envelope, error) {
	if a.finalized {
		return nil, fmt.Errorf("assembler already finalized")
	}
	if len(a.records) == 0 {
		return nil, fmt.Errorf("envelope has no claims")
	}
	a.finalized = true

	// Terminators from ST through the last claim segment, plus SE itself.
	seCount := a.w.Count() - a.stMark + 1
	a.w.Write(
		x12.New("SE", fmt.Sprintf("%d", seCount), a.tscn),
		x12.New("GE", "1", a.control.GroupString()),
		x12.New("IEA", "1", a.icn),
	)

	return &Envelope{
		Text:         a.w.String(),
		SegmentCount: seCount,
		TotalCount:   a.w.Count(),
		Records:      a.records,
		Flags:        a.flags,
	}, nil
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
