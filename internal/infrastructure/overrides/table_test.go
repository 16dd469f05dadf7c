package overrides

import (
	"context"
	"testing"

	"github.com/miocrobos/habicht-directory/internal/domain/sourcerecord"
	"github.com/miocrobos/habicht-directory/internal/usecase"
)

const sample = `
clubs:
  - name: Volley Club Bern
    aliases: ["VC Bern"]
    town: Bern
    postal_code: "3000"
    website: https://vcbern.ch
    leagues: ["NLA/women"]
    flags:
      NLB/men: false
  - name: VBC Zürich
    logo: https://vbc-zuerich.ch/logo.svg
`

func TestParseAndResolve(t *testing.T) {
	t.Parallel()

	table, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if table.Len() != 3 {
		t.Fatalf("expected 3 keys, got %d: %v", table.Len(), table.Keys())
	}

	raw, ok, err := table.Resolve(context.Background(), usecase.ResolutionQuery{Key: "vc bern"})
	if err != nil || !ok {
		t.Fatalf("expected alias hit, ok=%v err=%v", ok, err)
	}
	if raw.Name != "Volley Club Bern" || raw.Website != "https://vcbern.ch" || raw.Rank != sourcerecord.RankManual.String() {
		t.Fatalf("unexpected record: %+v", raw)
	}
	if len(raw.Leagues) != 1 || raw.Flags["NLB/men"] {
		t.Fatalf("unexpected league data: %+v", raw)
	}

	if _, ok, _ := table.Resolve(context.Background(), usecase.ResolutionQuery{Key: "vbc zurich"}); !ok {
		t.Fatalf("expected diacritic-insensitive hit")
	}
	if _, ok, _ := table.Resolve(context.Background(), usecase.ResolutionQuery{Key: "vbc foo"}); ok {
		t.Fatalf("did not expect a hit for unknown club")
	}
}

func TestParse_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unknown field": "clubs:\n  - name: VBC Foo\n    webseite: https://foo.ch\n",
		"missing name":  "clubs:\n  - town: Bern\n",
		"key collision": "clubs:\n  - name: VBC Foo\n  - name: VBC Bar\n    aliases: [\"VBC Foo 2\"]\n",
	}
	for name, doc := range cases {
		doc := doc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatalf("expected parse error")
			}
		})
	}
}

func TestStrategyIdentity(t *testing.T) {
	t.Parallel()

	var table *Table
	if table.Len() != 0 {
		t.Fatalf("nil table should be empty")
	}
	if _, ok, err := table.Resolve(context.Background(), usecase.ResolutionQuery{Key: "x"}); ok || err != nil {
		t.Fatalf("nil table should resolve nothing")
	}
	table = &Table{}
	if table.Name() != SourceName || table.Rank() != sourcerecord.RankManual {
		t.Fatalf("unexpected identity %s/%s", table.Name(), table.Rank())
	}
}
