package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/miocrobos/habicht-directory/internal/app"
	"github.com/miocrobos/habicht-directory/internal/domain/club"
	"github.com/miocrobos/habicht-directory/internal/domain/league"
	"github.com/miocrobos/habicht-directory/internal/usecase"
)

func newShowCommand(cc *commandContext) *cobra.Command {
	var (
		id      int64
		alias   string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one club with its provenance and recorded conflicts",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if (id == 0) == (strings.TrimSpace(alias) == "") {
				return fmt.Errorf("exactly one of --id or --alias is required")
			}

			ctx, span := startSpan(cmd.Context(), "show")
			defer func() { endSpan(span, err) }()

			a, err := cc.open(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp(a, cc.logger)

			var details usecase.ClubDetails
			if id != 0 {
				details, err = a.Directory.GetByID(ctx, id)
			} else {
				details, err = a.Directory.GetByAlias(ctx, alias)
			}
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, details)
			}
			printClub(cmd.OutOrStdout(), details)
			return nil
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "Club id; merged ids resolve to the survivor")
	cmd.Flags().StringVar(&alias, "alias", "", "Club name, alias or dedup key")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the club as JSON")

	return cmd
}

func newListCommand(cc *commandContext) *cobra.Command {
	var (
		level   string
		gender  string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List clubs that field a team in a league",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			lvl, err := league.ParseLevel(level)
			if err != nil {
				return err
			}
			g, err := league.ParseGender(gender)
			if err != nil {
				return err
			}

			ctx, span := startSpan(cmd.Context(), "list")
			defer func() { endSpan(span, err) }()

			a, err := cc.open(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp(a, cc.logger)

			clubs, err := a.Directory.ListByLeague(ctx, lvl, g)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, clubs)
			}
			printClubList(cmd.OutOrStdout(), clubs)
			return nil
		},
	}

	cmd.Flags().StringVar(&level, "level", "", "League level, e.g. NLA, 2L, U19")
	cmd.Flags().StringVar(&gender, "gender", "", "men or women")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the clubs as JSON")
	_ = cmd.MarkFlagRequired("level")
	_ = cmd.MarkFlagRequired("gender")

	return cmd
}

func flagList(flags league.Flags) string {
	keys := flags.Keys()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k.String())
	}
	return strings.Join(parts, ", ")
}

func printClub(w io.Writer, d usecase.ClubDetails) {
	c := d.Club
	writeTable(w, []string{"Field", "Value"}, [][]string{
		{"id", strconv.FormatInt(c.ID, 10)},
		{"name", c.Name},
		{"key", c.Key},
		{"canton", orDash(string(c.Canton))},
		{"town", orDash(c.Town)},
		{"website", orDash(c.Website)},
		{"logo", orDash(c.Logo)},
		{"leagues", orDash(flagList(c.Flags))},
		{"aliases", orDash(strings.Join(c.Aliases, ", "))},
	}, nil)

	if len(c.Provenance) > 0 {
		rows := make([][]string, 0, len(c.Provenance))
		for _, p := range c.Provenance {
			rows = append(rows, []string{string(p.Field), p.Value, p.Source, p.Rank.String(), orDash(p.RecordID)})
		}
		fmt.Fprintln(w)
		writeTable(w, []string{"Field", "Value", "Source", "Rank", "Record"}, rows, nil)
	}
	if len(d.Conflicts) > 0 {
		rows := make([][]string, 0, len(d.Conflicts))
		for _, mc := range d.Conflicts {
			rows = append(rows, []string{string(mc.Field), mc.KeptValue, mc.RejectedValue, mc.RejectedSource, mc.Rank.String()})
		}
		fmt.Fprintln(w)
		writeTable(w, []string{"Field", "Kept", "Rejected", "Rejected source", "Rank"}, rows, nil)
	}
}

func printClubList(w io.Writer, clubs []club.Club) {
	if len(clubs) == 0 {
		fmt.Fprintln(w, "No clubs found.")
		return
	}
	rows := make([][]string, 0, len(clubs))
	for _, c := range clubs {
		rows = append(rows, []string{strconv.FormatInt(c.ID, 10), c.Name, orDash(string(c.Canton)), orDash(c.Town), orDash(c.Website)})
	}
	writeTable(w, []string{"ID", "Name", "Canton", "Town", "Website"}, rows, []columnAlignment{alignRight})
}
