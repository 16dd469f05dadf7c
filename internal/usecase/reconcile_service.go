package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	crerr "github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/miocrobos/habicht-directory/internal/domain/checkpoint"
	"github.com/miocrobos/habicht-directory/internal/domain/dedup"
	"github.com/miocrobos/habicht-directory/internal/domain/sourcerecord"
	"github.com/miocrobos/habicht-directory/internal/platform/logging"
)

type RunInput struct {
	// RunName scopes checkpoints. Re-running with the same name resumes.
	RunName    string
	Records    []sourcerecord.RawRecord
	ResetFlags bool
	Enrich     bool
}

type RunSummary struct {
	RunID            string     `json:"run_id"`
	RunName          string     `json:"run_name"`
	Processed        int        `json:"processed"`
	Skipped          int        `json:"skipped"`
	Deferred         int        `json:"deferred"`
	Created          int        `json:"created"`
	Updated          int        `json:"updated"`
	Unchanged        int        `json:"unchanged"`
	Conflicts        int        `json:"conflicts"`
	Failures         int        `json:"failures"`
	ParseErrors      int        `json:"parse_errors"`
	CantonUnresolved int        `json:"canton_unresolved"`
	AmbiguousFacts   int        `json:"ambiguous_facts"`
	UntrackedFacts   int        `json:"untracked_facts"`
	Enriched         int        `json:"enriched"`
	FlagsReset       int64      `json:"flags_reset,omitempty"`
	Issues           []RunIssue `json:"issues,omitempty"`
}

// RunIssue is one line of the summary's issue list.
type RunIssue struct {
	RecordID string `json:"record_id,omitempty"`
	Key      string `json:"key,omitempty"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
}

const (
	issueParseError   = "parse_error"
	issueUpsertFailed = "upsert_failed"
	issueCheckpoint   = "checkpoint_write_failed"
)

type ReconcileService struct {
	p      *Pipeline
	upsert *UpsertService
}

func NewReconcileService(p *Pipeline) *ReconcileService {
	return &ReconcileService{p: p, upsert: NewUpsertService(p)}
}

type normalizeOutcome struct {
	rec sourcerecord.Record
	err error
	ok  bool
}

// Run reconciles one batch of raw records into the canonical store. Records
// already committed under RunName are skipped; failed ones are retried once
// their backoff elapsed. Only ErrStoreUnavailable aborts the run.
func (s *ReconcileService) Run(ctx context.Context, input RunInput) (RunSummary, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.ReconcileService.Run", attribute.Int("records", len(input.Records)))
	defer span.End()

	if s.p == nil || s.p.Clubs == nil || s.p.Checkpoints == nil {
		return RunSummary{}, fmt.Errorf("%w: pipeline is not fully configured", ErrDependencyUnavailable)
	}

	runID, err := s.p.IDs.NewID()
	if err != nil {
		return RunSummary{}, fmt.Errorf("generate run id: %w", err)
	}
	runName := strings.TrimSpace(input.RunName)
	if runName == "" {
		runName = runID
	}
	summary := RunSummary{RunID: runID, RunName: runName}
	logger := s.p.Logger.With("run_id", runID, "run_name", runName)

	if input.ResetFlags {
		n, err := s.p.Clubs.ResetLeagueFlags(ctx)
		if err != nil {
			return summary, fmt.Errorf("reset league flags: %w", err)
		}
		summary.FlagsReset = n
		logger.InfoContext(ctx, "league flags reset", "removed", n)
	}

	entries, err := s.p.Checkpoints.Load(ctx, runName)
	if err != nil {
		return summary, fmt.Errorf("load checkpoints for run %q: %w", runName, err)
	}

	now := s.p.Now().UTC()
	pendingRaw := make([]sourcerecord.RawRecord, 0, len(input.Records))
	pendingSeq := make([]int, 0, len(input.Records))
	for i, raw := range input.Records {
		recordID := strings.TrimSpace(raw.ID)
		if recordID == "" {
			recordID = sourcerecord.ContentID(raw)
		}
		if entry, ok := entries[recordID]; ok {
			switch entry.Decide(now) {
			case checkpoint.DecisionSkip:
				summary.Skipped++
				continue
			case checkpoint.DecisionDefer:
				summary.Deferred++
				continue
			}
		}
		pendingRaw = append(pendingRaw, raw)
		pendingSeq = append(pendingSeq, i)
	}

	outcomes, err := s.normalize(ctx, pendingRaw)
	if err != nil {
		return summary, err
	}

	records := make([]sourcerecord.Record, 0, len(outcomes))
	for i, out := range outcomes {
		if !out.ok {
			summary.ParseErrors++
			var parseErr *sourcerecord.ParseError
			recordID := ""
			if errors.As(out.err, &parseErr) {
				recordID = parseErr.RecordID
			}
			summary.Issues = append(summary.Issues, RunIssue{RecordID: recordID, Code: issueParseError, Detail: out.err.Error()})
			logger.WarnContext(ctx, "skipping unparseable record", "record_id", recordID, "error", out.err)
			continue
		}
		rec := out.rec
		rec.Seq = pendingSeq[i]
		if rec.HasIssue(sourcerecord.IssueCantonUnresolved) {
			summary.CantonUnresolved++
		}
		for _, issue := range rec.Issues {
			summary.Issues = append(summary.Issues, RunIssue{RecordID: rec.RecordID, Code: string(issue.Code), Detail: issue.Detail})
		}
		records = append(records, rec)
	}

	groups := dedup.GroupRecords(records)
	tracker := newRunTracker(entries, runName, now)
	for _, rec := range records {
		tracker.begin(rec.RecordID, dedup.Key(rec.Name))
	}

	var mu sync.Mutex
	merge := pool.New().
		WithContext(ctx).
		WithMaxGoroutines(s.p.Config.MergeWorkers).
		WithCancelOnError().
		WithFirstError()
	for _, group := range groups {
		group := group
		merge.Go(func(ctx context.Context) error {
			inputCount := len(group.Records)
			enriched := 0
			if input.Enrich {
				group, enriched = s.enrich(ctx, group)
			}

			result, commitErr := s.upsert.Commit(ctx, runID, group)
			at := s.p.Now().UTC()

			mu.Lock()
			defer mu.Unlock()

			summary.Enriched += enriched
			if commitErr != nil {
				if crerr.Is(commitErr, ErrStoreUnavailable) || ctx.Err() != nil {
					return commitErr
				}
				summary.Failures += inputCount
				summary.Issues = append(summary.Issues, RunIssue{Key: group.Key, Code: issueUpsertFailed, Detail: commitErr.Error()})
				logger.ErrorContext(ctx, "club commit failed", "dedup_key", group.Key, "error", commitErr)
				failed := tracker.fail(group, commitErr, at, s.p.Config.RecordRetry)
				s.persist(ctx, logger, &summary, failed)
				return nil
			}

			summary.Processed += inputCount
			summary.Conflicts += len(result.Conflicts)
			summary.AmbiguousFacts += result.AmbiguousFacts
			summary.UntrackedFacts += result.UntrackedFacts
			switch {
			case result.Created:
				summary.Created++
			case result.Updated:
				summary.Updated++
			default:
				summary.Unchanged++
			}
			for _, c := range result.Conflicts {
				logger.InfoContext(ctx, "merge conflict recorded", "club_id", result.ClubID, "error", c.Err())
			}

			committed, err := tracker.commit(group, result.Matched, at)
			if err != nil {
				logger.ErrorContext(ctx, "checkpoint transition rejected", "dedup_key", group.Key, "error", err)
			}
			s.persist(ctx, logger, &summary, committed)
			return nil
		})
	}
	if err := merge.Wait(); err != nil {
		span.RecordError(err)
		logger.ErrorContext(ctx, "run aborted", "error", err)
		return summary, err
	}

	sort.SliceStable(summary.Issues, func(i, j int) bool {
		if summary.Issues[i].Code != summary.Issues[j].Code {
			return summary.Issues[i].Code < summary.Issues[j].Code
		}
		return summary.Issues[i].RecordID < summary.Issues[j].RecordID
	})

	logger.InfoContext(ctx, "run finished",
		"processed", summary.Processed,
		"created", summary.Created,
		"updated", summary.Updated,
		"conflicts", summary.Conflicts,
		"failures", summary.Failures,
		"skipped", summary.Skipped,
		"deferred", summary.Deferred,
	)
	return summary, nil
}

// normalize runs the normalizer on an ants pool. Results keep input order.
func (s *ReconcileService) normalize(ctx context.Context, raws []sourcerecord.RawRecord) ([]normalizeOutcome, error) {
	outcomes := make([]normalizeOutcome, len(raws))
	if len(raws) == 0 {
		return outcomes, nil
	}

	workers := s.p.Config.NormalizeWorkers
	if workers > len(raws) {
		workers = len(raws)
	}
	workerPool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create normalize pool: %w", err)
	}
	defer workerPool.Release()

	var wg sync.WaitGroup
	for i := range raws {
		i := i
		wg.Add(1)
		if err := workerPool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				outcomes[i] = normalizeOutcome{err: ctx.Err()}
				return
			}
			rec, err := s.p.Normalizer.Normalize(raws[i])
			outcomes[i] = normalizeOutcome{rec: rec, err: err, ok: err == nil}
		}); err != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("submit normalize task: %w", err)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// enrich asks the resolution chain for missing website, logo or league data.
func (s *ReconcileService) enrich(ctx context.Context, group dedup.Group) (dedup.Group, int) {
	if s.p.Chain == nil || s.p.Chain.Len() == 0 {
		return group, 0
	}
	q, needed := QueryFor(group)
	if !needed {
		return group, 0
	}
	extra, err := s.p.Chain.Resolve(ctx, q)
	if err != nil {
		s.p.Logger.WarnContext(ctx, "enrichment interrupted", "dedup_key", group.Key, "error", err)
	}
	if len(extra) == 0 {
		return group, 0
	}
	out := dedup.Group{Key: group.Key, Records: make([]sourcerecord.Record, 0, len(group.Records)+len(extra))}
	out.Records = append(out.Records, group.Records...)
	out.Records = append(out.Records, extra...)
	return out, len(extra)
}

func (s *ReconcileService) persist(ctx context.Context, logger *logging.Logger, summary *RunSummary, entries []checkpoint.Entry) {
	if len(entries) == 0 {
		return
	}
	if err := s.p.Checkpoints.Save(ctx, entries...); err != nil {
		summary.Issues = append(summary.Issues, RunIssue{Key: entries[0].Key, Code: issueCheckpoint, Detail: err.Error()})
		logger.WarnContext(ctx, "checkpoint write failed", "dedup_key", entries[0].Key, "error", err)
	}
}
