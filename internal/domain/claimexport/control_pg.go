package claimexport

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SequenceAllocator keeps the last-used control numbers per submitter in
// edi_control_sequences. Each allocation advances all three numbers in one
// statement and wraps within their ranges.
type SequenceAllocator struct {
	db queryable
}

func NewSequenceAllocator(pool *pgxpool.Pool) *SequenceAllocator {
	return &SequenceAllocator{db: pool}
}

const allocateSQL = `
	INSERT INTO edi_control_sequences (submitter_id, interchange_last, group_last, transaction_last)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (submitter_id) DO UPDATE SET
		interchange_last = CASE WHEN edi_control_sequences.interchange_last >= $5 THEN $2
			ELSE edi_control_sequences.interchange_last + 1 END,
		group_last = CASE WHEN edi_control_sequences.group_last >= $6 THEN $3
			ELSE edi_control_sequences.group_last + 1 END,
		transaction_last = CASE WHEN edi_control_sequences.transaction_last >= $7 THEN $4
			ELSE edi_control_sequences.transaction_last + 1 END,
		updated_at = NOW()
	RETURNING interchange_last, group_last, transaction_last`

func (a *SequenceAllocator) Allocate(ctx context.Context, submitterID string) (ControlNumbers, error) {
	if submitterID == "" {
		return ControlNumbers{}, fmt.Errorf("submitter id is required")
	}
	var cn ControlNumbers
	err := a.db.QueryRow(ctx, allocateSQL, submitterID,
		int64(MinInterchangeControl), int64(MinGroupControl), int64(MinTransactionControl),
		int64(MaxInterchangeControl), int64(MaxGroupControl), int64(MaxTransactionControl),
	).Scan(&cn.Interchange, &cn.Group, &cn.TransactionSet)
	if err != nil {
		return ControlNumbers{}, fmt.Errorf("allocate control numbers for %s: %w", submitterID, err)
	}
	return cn, cn.Validate()
}
