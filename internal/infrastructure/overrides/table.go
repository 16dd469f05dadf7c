// Package overrides loads the hand-maintained club fact table that outranks
// every automated source.
package overrides

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/miocrobos/habicht-directory/internal/domain/dedup"
	"github.com/miocrobos/habicht-directory/internal/domain/sourcerecord"
	"github.com/miocrobos/habicht-directory/internal/usecase"
)

const SourceName = "manual_override"

// Entry is one club in the override file. Leagues use the flag form, e.g.
// "NLA/women"; Flags may also carry explicit false values.
type Entry struct {
	Name       string          `yaml:"name"`
	Aliases    []string        `yaml:"aliases,omitempty"`
	Town       string          `yaml:"town,omitempty"`
	PostalCode string          `yaml:"postal_code,omitempty"`
	Canton     string          `yaml:"canton,omitempty"`
	Website    string          `yaml:"website,omitempty"`
	Logo       string          `yaml:"logo,omitempty"`
	Leagues    []string        `yaml:"leagues,omitempty"`
	Flags      map[string]bool `yaml:"flags,omitempty"`
}

type document struct {
	Clubs []Entry `yaml:"clubs"`
}

// Table answers resolution queries from the override file by dedup key.
type Table struct {
	byKey map[string]Entry
}

var _ usecase.ResolutionStrategy = (*Table)(nil)

func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overrides: %w", err)
	}
	table, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse overrides %s: %w", path, err)
	}
	return table, nil
}

// Parse decodes strictly: unknown fields are errors, as is a key claimed by
// two entries.
func Parse(data []byte) (*Table, error) {
	var doc document
	if err := yaml.UnmarshalWithOptions(data, &doc, yaml.Strict()); err != nil {
		return nil, err
	}

	t := &Table{byKey: make(map[string]Entry, len(doc.Clubs))}
	owner := make(map[string]string, len(doc.Clubs))
	for i, e := range doc.Clubs {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			return nil, fmt.Errorf("clubs[%d]: name is required", i)
		}
		names := append([]string{e.Name}, e.Aliases...)
		for _, n := range names {
			k := dedup.Key(n)
			if k == "" {
				continue
			}
			if prev, ok := owner[k]; ok && prev != e.Name {
				return nil, fmt.Errorf("clubs[%d]: %q collides with %q on key %q", i, n, prev, k)
			}
			owner[k] = e.Name
			t.byKey[k] = e
		}
	}
	return t, nil
}

func (t *Table) Name() string { return SourceName }

func (t *Table) Rank() sourcerecord.Rank { return sourcerecord.RankManual }

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byKey)
}

// Keys returns the dedup keys covered, sorted.
func (t *Table) Keys() []string {
	out := make([]string, 0, len(t.byKey))
	for k := range t.byKey {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (t *Table) Resolve(_ context.Context, q usecase.ResolutionQuery) (sourcerecord.RawRecord, bool, error) {
	if t == nil {
		return sourcerecord.RawRecord{}, false, nil
	}
	e, ok := t.byKey[q.Key]
	if !ok {
		return sourcerecord.RawRecord{}, false, nil
	}
	return sourcerecord.RawRecord{
		ID:         "override:" + dedup.Key(e.Name),
		Source:     SourceName,
		Rank:       sourcerecord.RankManual.String(),
		Name:       e.Name,
		Town:       e.Town,
		PostalCode: e.PostalCode,
		Canton:     e.Canton,
		Website:    e.Website,
		Logo:       e.Logo,
		Leagues:    append([]string(nil), e.Leagues...),
		Flags:      e.Flags,
	}, true, nil
}
