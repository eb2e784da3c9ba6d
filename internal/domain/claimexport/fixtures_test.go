package claimexport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Pallinder/go-randomdata"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// -- Mock Repository --

type mockEncounterRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*EncounterRow

	selectErr    error
	claimErr     error
	markErr      error
	markFailures int // MarkExported calls that fail with markErr; <0 fails every call
	markCalls    int
	released     []uuid.UUID

	// beforeClaim runs after selection and before the claim update.
	beforeClaim func()
}

func newMockEncounterRepo() *mockEncounterRepo {
	return &mockEncounterRepo{rows: make(map[uuid.UUID]*EncounterRow)}
}

func (m *mockEncounterRepo) add(row EncounterRow) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row.Encounter.ID == uuid.Nil {
		row.Encounter.ID = uuid.New()
	}
	r := row
	m.rows[row.Encounter.ID] = &r
	return row.Encounter.ID
}

func (m *mockEncounterRepo) get(id uuid.UUID) BillableEncounter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id].Encounter
}

func liveClaim(e *BillableEncounter, ttl time.Duration) bool {
	return e.ExportBatchID != nil && e.ExportClaimedAt != nil && e.ExportClaimedAt.After(time.Now().Add(-ttl))
}

func (m *mockEncounterRepo) SelectEligible(_ context.Context, req ExportRequest, ttl time.Duration) ([]EncounterRow, error) {
	if m.selectErr != nil {
		return nil, m.selectErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []EncounterRow
	for _, r := range m.rows {
		e := &r.Encounter
		if e.Exported || liveClaim(e, ttl) {
			continue
		}
		if e.EncounterDate.Before(req.PeriodStart) || e.EncounterDate.After(req.PeriodEnd) {
			continue
		}
		if req.Scope == ScopePhysician && e.PhysicianID != req.PhysicianID {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Encounter.EncounterDate.Equal(b.Encounter.EncounterDate) {
			return a.Encounter.EncounterDate.Before(b.Encounter.EncounterDate)
		}
		if a.Patient.LastName != b.Patient.LastName {
			return a.Patient.LastName < b.Patient.LastName
		}
		return a.Patient.FirstName < b.Patient.FirstName
	})
	return out, nil
}

func (m *mockEncounterRepo) Claim(_ context.Context, batchID uuid.UUID, ids []uuid.UUID, ttl time.Duration) ([]uuid.UUID, error) {
	if m.beforeClaim != nil {
		m.beforeClaim()
	}
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var claimed []uuid.UUID
	for _, id := range ids {
		r, ok := m.rows[id]
		if !ok || r.Encounter.Exported || liveClaim(&r.Encounter, ttl) {
			continue
		}
		b := batchID
		r.Encounter.ExportBatchID = &b
		r.Encounter.ExportClaimedAt = &now
		claimed = append(claimed, id)
	}
	return claimed, nil
}

func (m *mockEncounterRepo) MarkExported(_ context.Context, batchID uuid.UUID, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.markCalls++
	if m.markErr != nil && (m.markFailures < 0 || m.markCalls <= m.markFailures) {
		return nil, m.markErr
	}
	var marked []uuid.UUID
	for _, id := range ids {
		r, ok := m.rows[id]
		if !ok || r.Encounter.Exported || r.Encounter.ExportBatchID == nil || *r.Encounter.ExportBatchID != batchID {
			continue
		}
		ts := at
		r.Encounter.Exported = true
		r.Encounter.ExportedAt = &ts
		r.Encounter.ExportBatchID = nil
		r.Encounter.ExportClaimedAt = nil
		marked = append(marked, id)
	}
	return marked, nil
}

func (m *mockEncounterRepo) Release(_ context.Context, batchID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.released = append(m.released, batchID)
	for _, r := range m.rows {
		if !r.Encounter.Exported && r.Encounter.ExportBatchID != nil && *r.Encounter.ExportBatchID == batchID {
			r.Encounter.ExportBatchID = nil
			r.Encounter.ExportClaimedAt = nil
		}
	}
	return nil
}

type failingAllocator struct{}

func (failingAllocator) Allocate(context.Context, string) (ControlNumbers, error) {
	return ControlNumbers{}, errors.New("sequence table unavailable")
}

type fixedAllocator struct{ cn ControlNumbers }

func (f fixedAllocator) Allocate(context.Context, string) (ControlNumbers, error) { return f.cn, nil }

// -- Fixtures --

var testPhysicianID = uuid.MustParse("9f1b7a2e-4c3d-4e5f-8a6b-7c8d9e0f1a2b")

func strPtr(s string) *string { return &s }

func day(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func testSettings() Settings {
	return Settings{
		SenderID:         "SENDER01",
		ReceiverID:       "RECEIVER01",
		SubmitterName:    "Wound Care Billing",
		SubmitterContact: "Billing Office",
		SubmitterPhone:   "(555) 010-2000",
		ReceiverName:     "Clearinghouse",
		BillingName:      "Wound Care Practice",
		BillingNPI:       "1234567893",
		BillingTaxID:     "12-3456789",
		BillingAddress:   Address{Line: "123 Main St", City: "Anytown", State: "NY", Zip: "10001"},
		PayerID:          "60054",
		UsageIndicator:   "T",
	}
}

// encounterRow returns a complete row; callers override fields as needed.
func encounterRow(date, last, first, assessment, note string) EncounterRow {
	dob := day("1950-06-15")
	return EncounterRow{
		Encounter: BillableEncounter{
			EncounterDate: day(date),
			PatientID:     uuid.New(),
			PhysicianID:   testPhysicianID,
			CPTCode:       "97597",
			ChargeAmount:  decimal.RequireFromString("125.5"),
			Assessment:    assessment,
			ClinicalNote:  note,
		},
		Patient: Patient{
			FirstName:        first,
			LastName:         last,
			DOB:              &dob,
			Sex:              strPtr("female"),
			Address:          strPtr("42 Elm St"),
			City:             strPtr("Springfield"),
			State:            strPtr("il"),
			Zip:              strPtr("62701"),
			InsuranceCompany: strPtr("Medicare Part B"),
			InsuranceID:      strPtr("1EG4TE5MK73"),
			GroupNumber:      strPtr("GRP100"),
			MRN:              strPtr("MRN-0001"),
		},
		Provider: Provider{
			ID:             testPhysicianID,
			NPI:            strPtr("1987654321"),
			FirstName:      strPtr("Gregory"),
			LastName:       strPtr("House"),
			CredentialType: strPtr("MD"),
		},
	}
}

func marchRequest() ExportRequest {
	return ExportRequest{
		Scope:       ScopeAll,
		ActorID:     "billing-user",
		PeriodStart: day("2024-03-01"),
		PeriodEnd:   day("2024-03-31"),
	}
}

var assessments = []string{"stable", "improving", "concern", "urgent"}

var sampleNotes = []string{diabeticFootNote, sacralNote, "Venous stasis ulcer", "Incision dehiscence", "Chronic ulcer"}

// randomEncounterRow returns a complete row with synthetic demographics.
func randomEncounterRow() EncounterRow {
	date := fmt.Sprintf("2024-03-%02d", randomdata.Number(1, 29))
	row := encounterRow(date, randomdata.LastName(), randomdata.FirstName(randomdata.RandomGender),
		assessments[randomdata.Number(len(assessments))], sampleNotes[randomdata.Number(len(sampleNotes))])
	row.Patient.City = strPtr(randomdata.City())
	row.Patient.State = strPtr(randomdata.State(randomdata.Small))
	row.Patient.Zip = strPtr(randomdata.StringNumberExt(1, "", 5))
	row.Patient.InsuranceID = strPtr(randomdata.Alphanumeric(11))
	row.Encounter.ChargeAmount = decimal.New(int64(randomdata.Number(1000, 99999)), -2)
	return row
}
