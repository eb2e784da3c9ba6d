package claimexport

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EncounterRepository is the encounter store as seen by the exporter.
type EncounterRepository interface {
	// SelectEligible returns unexported encounters in the request period and
	// scope that carry no live batch claim, ordered by encounter date then
	// patient last and first name.
	SelectEligible(ctx context.Context, req ExportRequest, claimTTL time.Duration) ([]EncounterRow, error)
	// Claim tags the still-eligible subset of ids with batchID and returns it.
	Claim(ctx context.Context, batchID uuid.UUID, ids []uuid.UUID, claimTTL time.Duration) ([]uuid.UUID, error)
	// MarkExported sets exported for ids claimed by batchID, clears the claim
	// and returns the ids it flagged.
	MarkExported(ctx context.Context, batchID uuid.UUID, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error)
	// Release clears batchID's claim on encounters that were not exported.
	Release(ctx context.Context, batchID uuid.UUID) error
}
