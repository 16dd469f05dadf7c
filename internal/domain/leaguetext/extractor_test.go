package leaguetext

import (
	"testing"

	"github.com/miocrobos/habicht-directory/internal/domain/league"
)

func TestRegexExtractor_Extract(t *testing.T) {
	t.Parallel()

	extractor := NewRegexExtractor()
	cases := []struct {
		name string
		text string
		want []Fact
	}{
		{
			name: "women nla",
			text: "Volley Club Bern – NLA Damen",
			want: []Fact{{Level: league.NLA, Gender: league.GenderWomen, Category: league.CategorySenior}},
		},
		{
			name: "nearest indicator wins per mention",
			text: "Herren 1. Liga, Damen 3L",
			want: []Fact{
				{Level: league.L1, Gender: league.GenderMen, Category: league.CategorySenior},
				{Level: league.L3, Gender: league.GenderWomen, Category: league.CategorySenior},
			},
		},
		{
			name: "token variants normalize",
			text: "2 Liga and 2L and 2. liga",
			want: []Fact{{Level: league.L2, Gender: league.GenderUnknown, Category: league.CategorySenior}},
		},
		{
			name: "long form and youth",
			text: "Nationalliga B Männer, Juniorinnen U 18",
			want: []Fact{
				{Level: league.NLB, Gender: league.GenderMen, Category: league.CategorySenior},
				{Level: league.U18, Gender: league.GenderWomen, Category: league.CategoryYouth},
			},
		},
		{
			name: "transliteration",
			text: "U20 maennlich",
			want: []Fact{{Level: league.U20, Gender: league.GenderMen, Category: league.CategoryYouth}},
		},
		{
			name: "equidistant tie is unknown",
			text: "Damen NLB Herren",
			want: []Fact{{Level: league.NLB, Gender: league.GenderUnknown, Category: league.CategorySenior}},
		},
		{
			name: "indicator outside window",
			text: "Damen ............................................................ NLA",
			want: []Fact{{Level: league.NLA, Gender: league.GenderUnknown, Category: league.CategorySenior}},
		},
		{
			name: "no league",
			text: "Volleyball for everyone",
			want: nil,
		},
		{
			name: "umlaut after league token is not a boundary",
			text: "Training 3 Läufe pro Woche",
			want: nil,
		},
		{
			name: "umlaut before league token is not a boundary",
			text: "Gebühr ÜNLA, Damen 2. Liga",
			want: []Fact{{Level: league.L2, Gender: league.GenderWomen, Category: league.CategorySenior}},
		},
		{
			name: "out of range youth ignored",
			text: "U12 Junioren",
			want: nil,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := extractor.Extract(tc.text)
			if len(got) != len(tc.want) {
				t.Fatalf("Extract(%q) = %+v, want %+v", tc.text, got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("Extract(%q)[%d] = %+v, want %+v", tc.text, i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestRegexExtractor_Deterministic(t *testing.T) {
	t.Parallel()

	extractor := NewRegexExtractor()
	text := "U23 Herren, 5. Liga Damen, NLA Frauen, 4L Herren"
	first := extractor.Extract(text)
	for i := 0; i < 20; i++ {
		again := extractor.Extract(text)
		if len(again) != len(first) {
			t.Fatalf("non-deterministic length")
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("non-deterministic order at %d", j)
			}
		}
	}
	if first[0].Level != league.NLA {
		t.Fatalf("expected NLA first, got %+v", first)
	}
}

type stubExtractor []Fact

func (s stubExtractor) Name() string { return "stub" }

func (s stubExtractor) Extract(string) []Fact { return s }

func TestChain_Union(t *testing.T) {
	t.Parallel()

	chain := Chain{
		NewRegexExtractor(),
		stubExtractor{{Level: league.NLA, Gender: league.GenderWomen, Category: league.CategorySenior}, {Level: league.L5, Gender: league.GenderMen, Category: league.CategorySenior}},
	}
	got := chain.Extract("NLA Damen")
	if len(got) != 2 {
		t.Fatalf("expected union of 2 facts, got %+v", got)
	}
	if chain.Name() != "regex+stub" {
		t.Fatalf("unexpected chain name %q", chain.Name())
	}
}
