package claimexport

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BillableEncounter maps to the billable_encounters table. Rows are created
// by the clinical-review workflow; this package only moves them to exported.
type BillableEncounter struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	EncounterDate   time.Time       `db:"encounter_date" json:"encounter_date"`
	PatientID       uuid.UUID       `db:"patient_id" json:"patient_id"`
	PhysicianID     uuid.UUID       `db:"physician_id" json:"physician_id"`
	CPTCode         string          `db:"cpt_code" json:"cpt_code"`
	Modifier        *string         `db:"modifier" json:"modifier,omitempty"`
	ChargeAmount    decimal.Decimal `db:"charge_amount" json:"charge_amount"`
	Assessment      string          `db:"assessment" json:"assessment"`
	ClinicalNote    string          `db:"clinical_note" json:"clinical_note"`
	Exported        bool            `db:"exported" json:"exported"`
	ExportedAt      *time.Time      `db:"exported_at" json:"exported_at,omitempty"`
	ExportBatchID   *uuid.UUID      `db:"export_batch_id" json:"export_batch_id,omitempty"`
	ExportClaimedAt *time.Time      `db:"export_claimed_at" json:"export_claimed_at,omitempty"`
}

// Patient is the snapshot of patient demographics and coverage used on a claim.
type Patient struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	FirstName        string     `db:"first_name" json:"first_name"`
	LastName         string     `db:"last_name" json:"last_name"`
	DOB              *time.Time `db:"dob" json:"dob,omitempty"`
	Sex              *string    `db:"sex" json:"sex,omitempty"`
	Address          *string    `db:"address" json:"address,omitempty"`
	City             *string    `db:"city" json:"city,omitempty"`
	State            *string    `db:"state" json:"state,omitempty"`
	Zip              *string    `db:"zip" json:"zip,omitempty"`
	InsuranceCompany *string    `db:"insurance_company" json:"insurance_company,omitempty"`
	InsuranceID      *string    `db:"insurance_id" json:"insurance_id,omitempty"`
	GroupNumber      *string    `db:"group_number" json:"group_number,omitempty"`
	MRN              *string    `db:"mrn" json:"mrn,omitempty"`
}

// Provider is the rendering physician.
type Provider struct {
	ID             uuid.UUID `db:"id" json:"id"`
	NPI            *string   `db:"npi" json:"npi,omitempty"`
	FirstName      *string   `db:"first_name" json:"first_name,omitempty"`
	LastName       *string   `db:"last_name" json:"last_name,omitempty"`
	CredentialType *string   `db:"credential_type" json:"credential_type,omitempty"`
	TaxID          *string   `db:"tax_id" json:"tax_id,omitempty"`
}

// EncounterRow is one selected encounter joined with its patient and provider.
type EncounterRow struct {
	Encounter BillableEncounter
	Patient   Patient
	Provider  Provider
}

// DiagnosisCodePair is derived from the encounter text and never persisted.
type DiagnosisCodePair struct {
	Primary   string  `json:"primary"`
	Secondary *string `json:"secondary,omitempty"`
}

// ClaimRecord is one claim ready for segment building.
type ClaimRecord struct {
	Encounter    BillableEncounter
	Patient      Patient
	Provider     Provider
	Diagnosis    DiagnosisCodePair
	ClaimNumber  int
	BillingHL    int
	SubscriberHL int
}

// ClaimID is the synthetic CLM01 value: "CLM", the claim counter and the
// encounter date.
func (r *ClaimRecord) ClaimID() string {
	return fmt.Sprintf("CLM%d%s", r.ClaimNumber, r.Encounter.EncounterDate.Format("20060102"))
}

// ActorScope limits which encounters an export may select.
type ActorScope string

const (
	ScopeAll       ActorScope = "all"
	ScopePhysician ActorScope = "physician"
)

// ExportRequest is the explicit input to an export run.
type ExportRequest struct {
	Scope       ActorScope `json:"scope"`
	ActorID     string     `json:"actor_id"`
	PhysicianID uuid.UUID  `json:"physician_id,omitempty"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
}

// Validate checks the request before any store access.
func (r ExportRequest) Validate() error {
	if r.PeriodStart.IsZero() || r.PeriodEnd.IsZero() {
		return fmt.Errorf("period start and end are required")
	}
	if r.PeriodEnd.Before(r.PeriodStart) {
		return fmt.Errorf("period end %s is before start %s",
			r.PeriodEnd.Format(dateLayout), r.PeriodStart.Format(dateLayout))
	}
	switch r.Scope {
	case ScopeAll:
	case ScopePhysician:
		if r.PhysicianID == uuid.Nil {
			return fmt.Errorf("physician scope requires a physician id")
		}
	default:
		return fmt.Errorf("invalid actor scope: %q", r.Scope)
	}
	return nil
}

// Period renders the request period as "start..end".
func (r ExportRequest) Period() string {
	return r.PeriodStart.Format(dateLayout) + ".." + r.PeriodEnd.Format(dateLayout)
}

const dateLayout = "2006-01-02"

// SkippedEncounter is an encounter left out of a batch and why.
type SkippedEncounter struct {
	EncounterID uuid.UUID `json:"encounter_id"`
	Reason      string    `json:"reason"`
}

// ReviewFlag marks a claim element that needs a human look before submission.
type ReviewFlag struct {
	EncounterID uuid.UUID `json:"encounter_id"`
	Field       string    `json:"field"`
	Note        string    `json:"note"`
}

// ExportResult is the outcome of a successful export run.
type ExportResult struct {
	BatchID       uuid.UUID          `json:"batch_id"`
	Text          string             `json:"-"`
	FileName      string             `json:"file_name"`
	GeneratedAt   time.Time          `json:"generated_at"`
	Control       ControlNumbers     `json:"control_numbers"`
	EncounterIDs  []uuid.UUID        `json:"encounter_ids"`
	SegmentCount  int                `json:"segment_count"`
	Skipped       []SkippedEncounter `json:"skipped,omitempty"`
	ReviewFlags   []ReviewFlag       `json:"review_flags,omitempty"`
	MarkerWarning *MarkerWarning     `json:"marker_warning,omitempty"`
	ArchiveKey    string             `json:"archive_key,omitempty"`
}

// ClaimCount is the number of claims in the batch.
func (r *ExportResult) ClaimCount() int { return len(r.EncounterIDs) }
