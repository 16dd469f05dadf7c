package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/miocrobos/habicht-directory/internal/app"
	"github.com/miocrobos/habicht-directory/internal/usecase"
)

func newSweepCommand(cc *commandContext) *cobra.Command {
	var (
		threshold int
		dryRun    bool
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Merge stored clubs whose dedup keys collide and report near-duplicates",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if !cmd.Flags().Changed("suggest-threshold") {
				threshold = cc.cfg.SuggestDistance
			}
			if threshold < 0 {
				return fmt.Errorf("--suggest-threshold must be >= 0")
			}

			ctx, span := startSpan(cmd.Context(), "sweep", attribute.Bool("dry_run", dryRun))
			defer func() { endSpan(span, err) }()

			a, err := cc.open(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp(a, cc.logger)

			result, err := a.Sweep.Run(ctx, usecase.SweepInput{SuggestDistance: threshold, DryRun: dryRun})
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, result)
			}
			printSweep(cmd, result, dryRun)
			return nil
		},
	}

	cmd.Flags().IntVar(&threshold, "suggest-threshold", 0, "Edit distance for near-duplicate suggestions, 0 disables (default: SWEEP_SUGGEST_DISTANCE)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report merges without applying them")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")

	return cmd
}

func printSweep(cmd *cobra.Command, result usecase.SweepResult, dryRun bool) {
	w := cmd.OutOrStdout()
	verb := "Merged"
	if dryRun {
		verb = "Would merge"
	}
	fmt.Fprintf(w, "Scanned %d clubs. %s %d.\n", result.Scanned, verb, len(result.Merges))

	merges := make([][]string, 0, len(result.Merges))
	for _, m := range result.Merges {
		merges = append(merges, []string{
			m.Key,
			strconv.FormatInt(m.SurvivorID, 10), m.SurvivorName,
			strconv.FormatInt(m.LoserID, 10), m.LoserName,
			strconv.Itoa(m.Conflicts),
		})
	}
	writeTable(w, []string{"Key", "Survivor", "Name", "Loser", "Name", "Conflicts"}, merges,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignLeft, alignRight})

	if len(result.Suggestions) == 0 {
		return
	}
	fmt.Fprintln(w, "\nPossible duplicates (merge with `clubsync merge`):")
	suggestions := make([][]string, 0, len(result.Suggestions))
	for _, s := range result.Suggestions {
		suggestions = append(suggestions, []string{
			strconv.FormatInt(s.LeftID, 10), s.LeftName,
			strconv.FormatInt(s.RightID, 10), s.RightName,
			strconv.Itoa(s.Distance),
		})
	}
	writeTable(w, []string{"ID", "Name", "ID", "Name", "Distance"}, suggestions,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignRight})
}

func newMergeCommand(cc *commandContext) *cobra.Command {
	var (
		survivor int64
		loser    int64
		jsonOut  bool
	)

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge one club into another; the loser's id keeps resolving to the survivor",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, span := startSpan(cmd.Context(), "merge",
				attribute.Int64("club.survivor_id", survivor),
				attribute.Int64("club.loser_id", loser),
			)
			defer func() { endSpan(span, err) }()

			a, err := cc.open(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp(a, cc.logger)

			merged, err := a.Sweep.MergeClubs(ctx, survivor, loser)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, merged)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Merged club %d into %d (%s).\n", loser, merged.ID, merged.Name)
			return nil
		},
	}

	cmd.Flags().Int64Var(&survivor, "survivor", 0, "Id of the club that remains")
	cmd.Flags().Int64Var(&loser, "loser", 0, "Id of the club that is absorbed")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the merged club as JSON")
	_ = cmd.MarkFlagRequired("survivor")
	_ = cmd.MarkFlagRequired("loser")

	return cmd
}
