package claimexport

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNothingToExport is returned when no eligible encounter remains for the
// requested period and scope. It is not a failure.
var ErrNothingToExport = errors.New("nothing to export")

// NothingToExportError carries the skip reasons behind an empty batch.
type NothingToExportError struct {
	Period  string
	Skipped []SkippedEncounter
}

func (e *NothingToExportError) Error() string {
	if len(e.Skipped) == 0 {
		return fmt.Sprintf("nothing to export for %s", e.Period)
	}
	return fmt.Sprintf("nothing to export for %s (%d encounter(s) skipped)", e.Period, len(e.Skipped))
}

func (e *NothingToExportError) Is(target error) bool { return target == ErrNothingToExport }

// SelectionError reports an upstream read or claim failure. It carries the
// period and how many encounters the run intended to export so the caller
// can retry.
type SelectionError struct {
	Period        string
	IntendedCount int
	Err           error
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("select encounters for %s (intended %d): %v", e.Period, e.IntendedCount, e.Err)
}

func (e *SelectionError) Unwrap() error { return e.Err }

// BuildError reports a failure while rendering the batch. No text is
// returned and the batch claim has been released.
type BuildError struct {
	BatchID uuid.UUID
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build batch %s: %v", e.BatchID, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// MarkerWarningMessage is surfaced when the text was produced but the
// exported flag could not be recorded.
const MarkerWarningMessage = "claim text generated, export flag not recorded - verify before resubmission"

// MarkerWarning is attached to a successful result whose exported-flag write
// failed. EncounterIDs lists the encounters left unflagged; they remain
// eligible for export.
type MarkerWarning struct {
	Message      string      `json:"message"`
	EncounterIDs []uuid.UUID `json:"encounter_ids"`
	Err          error       `json:"-"`
}

func (w *MarkerWarning) Error() string {
	return fmt.Sprintf("%s: %v", w.Message, w.Err)
}

func (w *MarkerWarning) Unwrap() error { return w.Err }
