package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"github.com/miocrobos/habicht-directory/internal/app"
	"github.com/miocrobos/habicht-directory/internal/config"
	"github.com/miocrobos/habicht-directory/internal/infrastructure/ingest"
	"github.com/miocrobos/habicht-directory/internal/platform/logging"
	"github.com/miocrobos/habicht-directory/internal/usecase"
)

const batchJSONL = `{"id":"r-1","source":"overrides","rank":"manual","name":"Volley Club Bern","postal_code":"3000","town":"Bern"}
# comment lines are skipped
{"id":"r-2","source":"clubpage","rank":"detailed_scrape","name":"Volley Club Bern","website":"https://vcbern.ch","flags":{"NLA/women":true}}
{"id":"r-3", not json
`

func testConfig() config.Config {
	return config.Config{
		AppEnv:           config.EnvDev,
		ServiceName:      "habicht-clubsync",
		LogLevel:         logging.LevelError,
		LogFormat:        logging.FormatJSON,
		NormalizeWorkers: 2,
		MergeWorkers:     2,
		StoreRetryBase:   time.Millisecond,
		StoreRetryMax:    2 * time.Millisecond,
		RecordRetryBase:  time.Minute,
		RecordRetryMax:   time.Hour,
		SuggestDistance:  2,
	}
}

type cliResult struct {
	stdout string
	stderr string
	err    error
}

func executeCLI(t *testing.T, cc *commandContext, stdin string, args ...string) cliResult {
	t.Helper()

	cmd := newRootCommand(cc)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	cc.teardown()
	return cliResult{stdout: out.String(), stderr: errOut.String(), err: err}
}

func testCommandContext(newApp func(context.Context, config.Config, *logging.Logger, app.Options) (*app.App, error)) *commandContext {
	cc := newCommandContext()
	cc.envFile = ""
	cc.loadConfig = func() (config.Config, error) { return testConfig(), nil }
	if newApp != nil {
		cc.newApp = newApp
	}
	return cc
}

func TestRunCommand_OfflineJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bern.jsonl")
	if err := os.WriteFile(path, []byte(batchJSONL), 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}

	res := executeCLI(t, testCommandContext(nil), "", "run", "--offline", "--json", "--input", path)
	if res.err != nil {
		t.Fatalf("run: %v (stderr=%s)", res.err, res.stderr)
	}

	var summary usecase.RunSummary
	if err := sonic.UnmarshalString(res.stdout, &summary); err != nil {
		t.Fatalf("decode summary %q: %v", res.stdout, err)
	}
	if summary.RunName != "bern" {
		t.Fatalf("expected run name from file, got %q", summary.RunName)
	}
	if summary.Created != 1 || summary.Failures != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.ParseErrors != 1 || len(summary.Issues) != 1 || summary.Issues[0].Code != issueMalformedLine {
		t.Fatalf("expected the malformed line to be reported: %+v", summary)
	}
	if summary.Issues[0].RecordID != "line:4" {
		t.Fatalf("unexpected issue record id: %q", summary.Issues[0].RecordID)
	}
}

func TestRunCommand_StdinTable(t *testing.T) {
	res := executeCLI(t, testCommandContext(nil), batchJSONL, "run", "--offline", "--input", "-", "--run-name", "nightly")
	if res.err != nil {
		t.Fatalf("run: %v", res.err)
	}
	for _, want := range []string{"Run nightly", "created", "malformed_line", "line:4"} {
		if !strings.Contains(res.stdout, want) {
			t.Fatalf("expected %q in output:\n%s", want, res.stdout)
		}
	}
}

func TestRunCommand_RequiresInput(t *testing.T) {
	res := executeCLI(t, testCommandContext(nil), "", "run", "--offline")
	if res.err == nil || !strings.Contains(res.err.Error(), "input") {
		t.Fatalf("expected missing --input error, got %v", res.err)
	}
}

func TestRunCommand_AppErrorSurfaces(t *testing.T) {
	boom := errors.New("db down")
	cc := testCommandContext(func(context.Context, config.Config, *logging.Logger, app.Options) (*app.App, error) {
		return nil, boom
	})
	res := executeCLI(t, cc, "[]", "run", "--input", "-")
	if !errors.Is(res.err, boom) {
		t.Fatalf("expected wrapped app error, got %v", res.err)
	}
}

func TestShowCommand_NeedsExactlyOneSelector(t *testing.T) {
	for _, args := range [][]string{
		{"show"},
		{"show", "--id", "4", "--alias", "VC Bern"},
	} {
		res := executeCLI(t, testCommandContext(nil), "", args...)
		if res.err == nil || !strings.Contains(res.err.Error(), "exactly one") {
			t.Fatalf("args %v: expected selector error, got %v", args, res.err)
		}
	}
}

func TestListCommand_RejectsUnknownLevel(t *testing.T) {
	res := executeCLI(t, testCommandContext(nil), "", "list", "--level", "XYZ", "--gender", "women")
	if res.err == nil || !strings.Contains(res.err.Error(), "league level") {
		t.Fatalf("expected level error, got %v", res.err)
	}
}

func TestDefaultRunName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"-":                       "stdin",
		"data/2026-10-clubs.json": "2026-10-clubs",
		"batch.jsonl":             "batch",
	}
	for in, want := range cases {
		if got := defaultRunName(in); got != want {
			t.Fatalf("defaultRunName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAddMalformed(t *testing.T) {
	t.Parallel()

	var summary usecase.RunSummary
	addMalformed(&summary, []ingest.LineError{{Line: 7, Err: errors.New("unexpected EOF")}})
	if summary.ParseErrors != 1 || summary.Issues[0].RecordID != "line:7" || summary.Issues[0].Detail != "unexpected EOF" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRenderTable(t *testing.T) {
	t.Parallel()

	out := renderTable([]string{"Metric", "Count"}, [][]string{{"created", "3"}, {"failures"}}, []columnAlignment{alignLeft, alignRight})
	for _, want := range []string{"Metric", "created", "3", "failures"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in table:\n%s", want, out)
		}
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatalf("expected empty output without headers")
	}
}
