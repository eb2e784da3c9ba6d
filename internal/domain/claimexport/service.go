package claimexport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/claimexport/internal/platform/x12"
)

// ErrInvalidRequest wraps export request validation failures.
var ErrInvalidRequest = errors.New("invalid export request")

// BatchArchive stores a copy of each generated interchange.
type BatchArchive interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
}

// Options tune an export Service.
type Options struct {
	Settings          Settings
	ClaimTTL          time.Duration
	MarkRetries       uint64
	MarkRetryInterval time.Duration
	ArchivePrefix     string
	// Now defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	encounters EncounterRepository
	control    ControlNumberAllocator
	archive    BatchArchive
	opts       Options
	logger     zerolog.Logger
}

func NewService(repo EncounterRepository, alloc ControlNumberAllocator, opts Options, logger zerolog.Logger) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 15 * time.Minute
	}
	if opts.MarkRetryInterval <= 0 {
		opts.MarkRetryInterval = 250 * time.Millisecond
	}
	return &Service{
		encounters: repo,
		control:    alloc,
		opts:       opts,
		logger:     logger.With().Str("component", "claimexport").Logger(),
	}
}

// SetArchive attaches an optional archive for generated batches.
func (s *Service) SetArchive(a BatchArchive) {
	s.archive = a
}

// Export selects eligible encounters, renders one 837P interchange and
// marks exactly the rendered encounters as exported. When the exported flag
// cannot be recorded the text is still returned and the result carries a
// MarkerWarning. No partial interchange is ever returned.
func (s *Service) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	period := req.Period()
	log := s.logger.With().Str("period", period).Str("scope", string(req.Scope)).Str("actor_id", req.ActorID).Logger()

	rows, err := s.encounters.SelectEligible(ctx, req, s.opts.ClaimTTL)
	if err != nil {
		log.Error().Err(err).Msg("encounter selection failed")
		return nil, &SelectionError{Period: period, Err: err}
	}
	if len(rows) == 0 {
		log.Info().Msg("nothing to export")
		return nil, &NothingToExportError{Period: period}
	}

	eligible, skipped := validateRows(rows)
	for _, sk := range skipped {
		log.Warn().Str("encounter_id", sk.EncounterID.String()).Str("reason", sk.Reason).Msg("encounter skipped")
	}
	if len(eligible) == 0 {
		return nil, &NothingToExportError{Period: period, Skipped: skipped}
	}

	// The id set is fixed here, before any segment is built.
	batchID := uuid.New()
	ids := make([]uuid.UUID, len(eligible))
	for i, row := range eligible {
		ids[i] = row.Encounter.ID
	}
	claimed, err := s.encounters.Claim(ctx, batchID, ids, s.opts.ClaimTTL)
	if err != nil {
		log.Error().Err(err).Str("batch_id", batchID.String()).Int("intended", len(ids)).Msg("batch claim failed")
		s.release(ctx, batchID, log)
		return nil, &SelectionError{Period: period, IntendedCount: len(ids), Err: fmt.Errorf("claim encounters: %w", err)}
	}
	eligible, lost := keepClaimed(eligible, claimed)
	skipped = append(skipped, lost...)
	if len(lost) > 0 {
		log.Warn().Str("batch_id", batchID.String()).Int("count", len(lost)).Msg("encounters claimed by a concurrent export")
	}
	if len(eligible) == 0 {
		return nil, &NothingToExportError{Period: period, Skipped: skipped}
	}
	ids = ids[:0]
	for _, row := range eligible {
		ids = append(ids, row.Encounter.ID)
	}

	now := s.opts.Now()
	result, err := s.build(ctx, batchID, eligible, now)
	if err != nil {
		log.Error().Err(err).Str("batch_id", batchID.String()).Msg("batch build failed")
		s.release(ctx, batchID, log)
		return nil, &BuildError{BatchID: batchID, Err: err}
	}
	result.EncounterIDs = ids
	result.Skipped = skipped
	result.FileName = FileName(req, now)

	log = log.With().Str("batch_id", batchID.String()).Logger()
	log.Info().
		Int("claims", len(ids)).
		Int("skipped", len(skipped)).
		Int64("interchange_control", result.Control.Interchange).
		Int64("group_control", result.Control.Group).
		Int64("transaction_control", result.Control.TransactionSet).
		Int("se_count", result.SegmentCount).
		Msg("837p batch generated")

	if s.archive != nil {
		key := ArchiveKey(s.opts.ArchivePrefix, req, batchID)
		if err := s.archive.Put(ctx, key, "text/plain", []byte(result.Text)); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("batch archive failed")
			result.ReviewFlags = append(result.ReviewFlags, ReviewFlag{Field: "archive", Note: "batch copy not archived: " + err.Error()})
		} else {
			result.ArchiveKey = key
		}
	}

	if pending, err := s.markExported(ctx, batchID, ids, now); err != nil {
		log.Warn().Err(err).Int("claims", len(ids)).Int("unflagged", len(pending)).Msg(MarkerWarningMessage)
		s.release(ctx, batchID, log)
		result.MarkerWarning = &MarkerWarning{Message: MarkerWarningMessage, EncounterIDs: pending, Err: err}
	}
	return result, nil
}

func (s *Service) build(ctx context.Context, batchID uuid.UUID, rows []EncounterRow, now time.Time) (*ExportResult, error) {
	cn, err := s.control.Allocate(ctx, s.opts.Settings.SenderID)
	if err != nil {
		return nil, fmt.Errorf("allocate control numbers: %w", err)
	}
	asm, err := NewAssembler(s.opts.Settings, cn, now)
	if err != nil {
		return nil, err
	}

	var flags []ReviewFlag
	for _, row := range rows {
		diag := ResolveDiagnosis(row.Encounter.Assessment, row.Encounter.ClinicalNote)
		if _, err := asm.Add(row, diag); err != nil {
			return nil, err
		}
		flags = append(flags, diagnosisFlag(row.Encounter, diag))
	}
	env, err := asm.Finalize()
	if err != nil {
		return nil, err
	}
	if n := x12.CountTerminators(env.Text, x12.DefaultDelimiters); n != env.TotalCount {
		return nil, fmt.Errorf("rendered %d terminators, wrote %d segments", n, env.TotalCount)
	}

	return &ExportResult{
		BatchID:      batchID,
		Text:         env.Text,
		GeneratedAt:  now,
		Control:      cn,
		SegmentCount: env.SegmentCount,
		ReviewFlags:  append(env.Flags, flags...),
	}, nil
}

// markExported flags ids, retrying transient failures for the ids not yet
// flagged. On error it returns the ids that remain unflagged.
func (s *Service) markExported(ctx context.Context, batchID uuid.UUID, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.opts.MarkRetryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(eb, s.opts.MarkRetries), ctx)

	pending := ids
	err := backoff.Retry(func() error {
		marked, err := s.encounters.MarkExported(ctx, batchID, pending, at)
		pending = without(pending, marked)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return backoff.Permanent(fmt.Errorf("export flag recorded for %d of %d encounters", len(ids)-len(pending), len(ids)))
		}
		return nil
	}, b)
	if err != nil {
		return pending, err
	}
	return nil, nil
}

// without returns the ids not present in drop, keeping order.
func without(ids, drop []uuid.UUID) []uuid.UUID {
	if len(drop) == 0 {
		return ids
	}
	seen := make(map[uuid.UUID]bool, len(drop))
	for _, id := range drop {
		seen[id] = true
	}
	var out []uuid.UUID
	for _, id := range ids {
		if !seen[id] {
			out = append(out, id)
		}
	}
	return out
}

// release drops the batch claim. It runs even when ctx is cancelled.
func (s *Service) release(ctx context.Context, batchID uuid.UUID, log zerolog.Logger) {
	if err := s.encounters.Release(context.WithoutCancel(ctx), batchID); err != nil {
		log.Error().Err(err).Str("batch_id", batchID.String()).Msg("release batch claim failed; claim expires after ttl")
	}
}

// validateRows splits rows into those with every required field and those
// skipped with a reason.
func validateRows(rows []EncounterRow) ([]EncounterRow, []SkippedEncounter) {
	var ok []EncounterRow
	var skipped []SkippedEncounter
	for _, row := range rows {
		if reason := missingRequired(row); reason != "" {
			skipped = append(skipped, SkippedEncounter{EncounterID: row.Encounter.ID, Reason: reason})
			continue
		}
		ok = append(ok, row)
	}
	return ok, skipped
}

func missingRequired(row EncounterRow) string {
	e, p := row.Encounter, row.Patient
	var missing []string
	if e.EncounterDate.IsZero() {
		missing = append(missing, "encounter date")
	}
	if strings.TrimSpace(e.CPTCode) == "" {
		missing = append(missing, "cpt code")
	}
	if strings.TrimSpace(p.LastName) == "" {
		missing = append(missing, "patient last name")
	}
	if p.DOB == nil || p.DOB.IsZero() {
		missing = append(missing, "patient date of birth")
	}
	if strings.TrimSpace(deref(p.InsuranceID)) == "" && strings.TrimSpace(deref(p.MRN)) == "" {
		missing = append(missing, "member id or mrn")
	}
	if len(missing) > 0 {
		return "missing " + strings.Join(missing, ", ")
	}
	if e.ChargeAmount.IsNegative() {
		return "negative charge amount " + e.ChargeAmount.StringFixed(2)
	}
	return ""
}

func keepClaimed(rows []EncounterRow, claimed []uuid.UUID) ([]EncounterRow, []SkippedEncounter) {
	set := make(map[uuid.UUID]bool, len(claimed))
	for _, id := range claimed {
		set[id] = true
	}
	var kept []EncounterRow
	var lost []SkippedEncounter
	for _, row := range rows {
		if set[row.Encounter.ID] {
			kept = append(kept, row)
			continue
		}
		lost = append(lost, SkippedEncounter{EncounterID: row.Encounter.ID, Reason: "claimed by a concurrent export"})
	}
	return kept, lost
}

func diagnosisFlag(e BillableEncounter, d DiagnosisCodePair) ReviewFlag {
	codes := d.Primary
	if d.Secondary != nil {
		codes += ", " + *d.Secondary
	}
	note := "no category keyword matched; default " + codes + " selected; confirm before submission"
	if cat := DiagnosisCategory(e.ClinicalNote); cat != "" {
		note = "keyword heuristic (" + cat + ") selected " + codes + "; confirm before submission"
	}
	return ReviewFlag{EncounterID: e.ID, Field: "diagnosis", Note: note}
}

// FileName is the download name for a batch.
func FileName(req ExportRequest, at time.Time) string {
	return fmt.Sprintf("claims_837p_%s_%s_%s.txt",
		req.PeriodStart.Format(dateLayout), req.PeriodEnd.Format(dateLayout), at.Format("20060102150405"))
}

// ArchiveKey is the archive object key for a batch.
func ArchiveKey(prefix string, req ExportRequest, batchID uuid.UUID) string {
	key := fmt.Sprintf("%s_%s/%s.x12", req.PeriodStart.Format(dateLayout), req.PeriodEnd.Format(dateLayout), batchID)
	if p := strings.Trim(prefix, "/"); p != "" {
		key = p + "/" + key
	}
	return key
}
