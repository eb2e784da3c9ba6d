package claimexport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

var sqlFlavor = sqlbuilder.PostgreSQL

type encounterRepoPG struct{ db queryable }

func NewEncounterRepoPG(pool *pgxpool.Pool) EncounterRepository {
	return &encounterRepoPG{db: pool}
}

var selectCols = []string{
	"e.id", "e.encounter_date", "e.patient_id", "e.physician_id", "e.cpt_code", "e.modifier",
	"e.charge_amount::text", "COALESCE(e.assessment, '')", "COALESCE(e.clinical_note, '')",
	"e.exported", "e.exported_at", "e.export_batch_id", "e.export_claimed_at",
	"p.id", "COALESCE(p.first_name, '')", "COALESCE(p.last_name, '')", "p.dob", "p.sex",
	"p.address", "p.city", "p.state", "p.zip",
	"p.insurance_company", "p.insurance_id", "p.group_number", "p.mrn",
	"pr.id", "pr.npi", "pr.first_name", "pr.last_name", "pr.credential_type", "pr.tax_id",
}

// selectEligibleSQL builds the selector query. staleBefore is the cutoff
// after which an unfinished batch claim no longer hides an encounter.
func selectEligibleSQL(req ExportRequest, staleBefore time.Time) (string, []interface{}) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select(selectCols...).
		From("billable_encounters e").
		Join("patients p", "p.id = e.patient_id").
		JoinWithOption(sqlbuilder.LeftJoin, "providers pr", "pr.id = e.physician_id")
	sb.Where(
		sb.Between("e.encounter_date", req.PeriodStart.Format(dateLayout), req.PeriodEnd.Format(dateLayout)),
		sb.Equal("e.exported", false),
		sb.Or(
			sb.IsNull("e.export_batch_id"),
			sb.LessThan("e.export_claimed_at", staleBefore),
		),
	)
	if req.Scope == ScopePhysician {
		sb.Where(sb.Equal("e.physician_id", req.PhysicianID))
	}
	sb.OrderBy("e.encounter_date", "p.last_name", "p.first_name", "e.id").Asc()
	return sb.Build()
}

func (r *encounterRepoPG) SelectEligible(ctx context.Context, req ExportRequest, claimTTL time.Duration) ([]EncounterRow, error) {
	query, args := selectEligibleSQL(req, time.Now().Add(-claimTTL))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []EncounterRow
	for rows.Next() {
		row, err := scanEncounterRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanEncounterRow(row pgx.Row) (EncounterRow, error) {
	var (
		out        EncounterRow
		charge     string
		providerID *uuid.UUID
	)
	e, p, pr := &out.Encounter, &out.Patient, &out.Provider
	err := row.Scan(&e.ID, &e.EncounterDate, &e.PatientID, &e.PhysicianID, &e.CPTCode, &e.Modifier,
		&charge, &e.Assessment, &e.ClinicalNote,
		&e.Exported, &e.ExportedAt, &e.ExportBatchID, &e.ExportClaimedAt,
		&p.ID, &p.FirstName, &p.LastName, &p.DOB, &p.Sex,
		&p.Address, &p.City, &p.State, &p.Zip,
		&p.InsuranceCompany, &p.InsuranceID, &p.GroupNumber, &p.MRN,
		&providerID, &pr.NPI, &pr.FirstName, &pr.LastName, &pr.CredentialType, &pr.TaxID)
	if err != nil {
		return out, err
	}
	if e.ChargeAmount, err = decimal.NewFromString(charge); err != nil {
		return out, fmt.Errorf("encounter %s: charge amount %q: %w", e.ID, charge, err)
	}
	if providerID != nil {
		pr.ID = *providerID
	}
	return out, nil
}

func (r *encounterRepoPG) Claim(ctx context.Context, batchID uuid.UUID, ids []uuid.UUID, claimTTL time.Duration) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		UPDATE billable_encounters
		   SET export_batch_id = $1, export_claimed_at = NOW()
		 WHERE id = ANY($2::uuid[])
		   AND exported = false
		   AND (export_batch_id IS NULL OR export_claimed_at < NOW() - make_interval(secs => $3))
		RETURNING id`,
		batchID, uuidStrings(ids), claimTTL.Seconds())
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

// collectIDs reads a single uuid column and closes rows.
func collectIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *encounterRepoPG) MarkExported(ctx context.Context, batchID uuid.UUID, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		UPDATE billable_encounters
		   SET exported = true, exported_at = $1, export_batch_id = NULL, export_claimed_at = NULL
		 WHERE export_batch_id = $2
		   AND exported = false
		   AND id = ANY($3::uuid[])
		RETURNING id`,
		at, batchID, uuidStrings(ids))
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

func (r *encounterRepoPG) Release(ctx context.Context, batchID uuid.UUID) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("billable_encounters")
	ub.Set(
		ub.Assign("export_batch_id", nil),
		ub.Assign("export_claimed_at", nil),
	)
	ub.Where(
		ub.Equal("export_batch_id", batchID),
		ub.Equal("exported", false),
	)
	query, args := ub.Build()
	_, err := r.db.Exec(ctx, query, args...)
	return err
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
