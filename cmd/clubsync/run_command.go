package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/miocrobos/habicht-directory/internal/app"
	"github.com/miocrobos/habicht-directory/internal/infrastructure/ingest"
	"github.com/miocrobos/habicht-directory/internal/usecase"
)

const issueMalformedLine = "malformed_line"

type runOptions struct {
	input      string
	checkpoint string
	runName    string
	resetFlags bool
	enrich     bool
	offline    bool
	jsonOut    bool
}

func newRunCommand(cc *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile a batch of source records into the directory",
		Long: `Run reads source records (a JSON array or JSON lines, "-" for stdin),
normalizes them, groups them by dedup key and upserts one canonical club per
group. Re-running with the same --run-name resumes from checkpoints and
retries failed groups once their backoff has elapsed.`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, span := startSpan(cmd.Context(), "run", attribute.String("input", opts.input))
			defer func() { endSpan(span, err) }()

			batch, err := readBatch(cmd, opts.input)
			if err != nil {
				return err
			}

			a, err := cc.open(ctx, app.Options{
				CheckpointPath: opts.checkpoint,
				Enrich:         opts.enrich,
				Offline:        opts.offline,
			})
			if err != nil {
				return err
			}
			defer closeApp(a, cc.logger)

			runName := opts.runName
			if runName == "" {
				runName = defaultRunName(opts.input)
			}
			summary, err := a.Reconcile.Run(ctx, usecase.RunInput{
				RunName:    runName,
				Records:    batch.Records,
				ResetFlags: opts.resetFlags,
				Enrich:     opts.enrich || cc.cfg.EnrichEnabled,
			})
			if err != nil {
				return err
			}
			addMalformed(&summary, batch.Malformed)
			span.SetAttributes(
				attribute.Int("clubs.created", summary.Created),
				attribute.Int("clubs.updated", summary.Updated),
				attribute.Int("records.failed", summary.Failures),
			)

			if opts.jsonOut {
				err = writeJSON(cmd, summary)
			} else {
				printSummary(cmd.OutOrStdout(), summary)
			}
			if err != nil {
				return err
			}
			if summary.Failures > 0 {
				return fmt.Errorf("%d record(s) failed; re-run with --run-name %s to retry", summary.Failures, summary.RunName)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", `Source records file ("-" for stdin)`)
	cmd.Flags().StringVar(&opts.checkpoint, "checkpoint", "", "Checkpoint journal path (default: CHECKPOINT_PATH or the database)")
	cmd.Flags().StringVar(&opts.runName, "run-name", "", "Name that scopes checkpoints (default: input file name)")
	cmd.Flags().BoolVar(&opts.resetFlags, "reset-flags", false, "Clear every league flag before applying this batch")
	cmd.Flags().BoolVar(&opts.enrich, "enrich", false, "Look up missing website, logo and leagues through the resolution chain")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "Validate and summarize the batch against an empty in-memory store")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the run summary as JSON")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func readBatch(cmd *cobra.Command, input string) (ingest.Batch, error) {
	if strings.TrimSpace(input) == ingest.Stdin {
		batch, err := ingest.Read(cmd.InOrStdin())
		if err != nil {
			return ingest.Batch{}, fmt.Errorf("read stdin: %w", err)
		}
		return batch, nil
	}
	return ingest.ReadFile(input)
}

func defaultRunName(input string) string {
	input = strings.TrimSpace(input)
	if input == ingest.Stdin || input == "" {
		return "stdin"
	}
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// addMalformed folds lines the reader could not decode into the summary so
// they are reported with the records that failed normalization.
func addMalformed(summary *usecase.RunSummary, malformed []ingest.LineError) {
	for _, le := range malformed {
		summary.ParseErrors++
		summary.Issues = append(summary.Issues, usecase.RunIssue{
			RecordID: "line:" + strconv.Itoa(le.Line),
			Code:     issueMalformedLine,
			Detail:   le.Err.Error(),
		})
	}
}

func printSummary(w io.Writer, s usecase.RunSummary) {
	fmt.Fprintf(w, "Run %s (%s)\n", s.RunName, s.RunID)
	rows := [][]string{
		{"processed", strconv.Itoa(s.Processed)},
		{"skipped", strconv.Itoa(s.Skipped)},
		{"deferred", strconv.Itoa(s.Deferred)},
		{"created", strconv.Itoa(s.Created)},
		{"updated", strconv.Itoa(s.Updated)},
		{"unchanged", strconv.Itoa(s.Unchanged)},
		{"conflicts", strconv.Itoa(s.Conflicts)},
		{"failures", strconv.Itoa(s.Failures)},
		{"parse errors", strconv.Itoa(s.ParseErrors)},
		{"canton unresolved", strconv.Itoa(s.CantonUnresolved)},
		{"ambiguous facts", strconv.Itoa(s.AmbiguousFacts)},
		{"untracked facts", strconv.Itoa(s.UntrackedFacts)},
		{"enriched", strconv.Itoa(s.Enriched)},
	}
	if s.FlagsReset > 0 {
		rows = append(rows, []string{"flags reset", strconv.FormatInt(s.FlagsReset, 10)})
	}
	writeTable(w, []string{"Metric", "Count"}, rows, []columnAlignment{alignLeft, alignRight})

	if len(s.Issues) == 0 {
		return
	}
	issues := make([][]string, 0, len(s.Issues))
	for _, issue := range s.Issues {
		issues = append(issues, []string{orDash(issue.RecordID), orDash(issue.Key), issue.Code, issue.Detail})
	}
	fmt.Fprintln(w)
	writeTable(w, []string{"Record", "Key", "Issue", "Detail"}, issues, nil)
}
