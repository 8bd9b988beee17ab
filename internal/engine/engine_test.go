package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Auditware/radar/internal/cache"
	"github.com/Auditware/radar/internal/config"
	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
	"github.com/Auditware/radar/internal/project"
	"github.com/Auditware/radar/internal/rules"
	"github.com/Auditware/radar/internal/syntax"
)

type fixture struct {
	name     string
	category string
	insecure model.SourceUnit
	secure   model.SourceUnit
}

func loadUnit(t *testing.T, path string) model.SourceUnit {
	t.Helper()
	text, err := os.ReadFile(path)
	require.NoError(t, err)
	d, ok := project.DetectDialect(text)
	require.True(t, ok, "dialect of %s", path)
	return model.SourceUnit{Path: filepath.ToSlash(path), Dialect: d, Text: text}
}

// loadFixtures reads testdata/fixtures/<category>/{insecure,secure}.rs and
// any further cases under testdata/fixtures/<category>/<case>/.
func loadFixtures(t *testing.T) []fixture {
	t.Helper()
	root := filepath.Join("testdata", "fixtures")
	dirs, err := os.ReadDir(root)
	require.NoError(t, err)
	var out []fixture
	pair := func(name, category, dir string) {
		out = append(out, fixture{
			name:     name,
			category: category,
			insecure: loadUnit(t, filepath.Join(dir, "insecure.rs")),
			secure:   loadUnit(t, filepath.Join(dir, "secure.rs")),
		})
	}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		base := filepath.Join(root, d.Name())
		if _, err := os.Stat(filepath.Join(base, "insecure.rs")); err == nil {
			pair(d.Name(), d.Name(), base)
		}
		cases, err := os.ReadDir(base)
		require.NoError(t, err)
		for _, c := range cases {
			if c.IsDir() {
				pair(d.Name()+"/"+c.Name(), d.Name(), filepath.Join(base, c.Name()))
			}
		}
	}
	require.NotEmpty(t, out)
	return out
}

func catalog(t *testing.T, opts rules.Options) *rules.Catalog {
	t.Helper()
	c, err := rules.NewCatalog(opts)
	require.NoError(t, err)
	return c
}

func scan(t *testing.T, units []model.SourceUnit, opts Options) *model.ScanResult {
	t.Helper()
	res, err := Scan(context.Background(), units, catalog(t, rules.Options{}), opts)
	require.NoError(t, err)
	return res
}

func categories(fs []model.Finding) map[string]int {
	out := map[string]int{}
	for _, f := range fs {
		out[f.Category]++
	}
	return out
}

func ruleIDs(fs []model.Finding) map[string]bool {
	out := map[string]bool{}
	for _, f := range fs {
		out[f.RuleID] = true
	}
	return out
}

func TestFixtureSoundness(t *testing.T) {
	known := map[string]bool{}
	for _, m := range catalog(t, rules.Options{}).Metas() {
		known[m.Category] = true
	}
	for _, fx := range loadFixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			require.True(t, known[fx.category], "fixture directory names a catalog category")

			bad := scan(t, []model.SourceUnit{fx.insecure}, Options{})
			assert.Equal(t, model.StatusCompleted, bad.Status)
			assert.Empty(t, bad.Errors)
			assert.GreaterOrEqual(t, categories(bad.Findings)[fx.category], 1, "insecure variant")

			good := scan(t, []model.SourceUnit{fx.secure}, Options{})
			assert.Equal(t, model.StatusCompleted, good.Status)
			assert.Zero(t, categories(good.Findings)[fx.category], "secure variant")
		})
	}
}

func TestMonotonicQuieting(t *testing.T) {
	for _, fx := range loadFixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			before := ruleIDs(scan(t, []model.SourceUnit{fx.insecure}, Options{}).Findings)
			after := ruleIDs(scan(t, []model.SourceUnit{fx.secure}, Options{}).Findings)
			for id := range after {
				assert.True(t, before[id], "fix introduced %s", id)
			}
		})
	}
}

func TestDeterminismAcrossWorkerCounts(t *testing.T) {
	var units []model.SourceUnit
	for _, fx := range loadFixtures(t) {
		units = append(units, fx.secure, fx.insecure)
	}
	var want []byte
	for _, workers := range []int{1, 3, 16} {
		res := scan(t, units, Options{Workers: workers})
		got, err := json.Marshal(res.Findings)
		require.NoError(t, err)
		if want == nil {
			want = got
			continue
		}
		assert.Equal(t, string(want), string(got), "workers=%d", workers)
	}

	res := scan(t, units, Options{Workers: 4})
	assert.True(t, sort.SliceIsSorted(res.Findings, func(i, j int) bool {
		a, b := res.Findings[i], res.Findings[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		return a.RuleID < b.RuleID
	}))
}

const stylusFee = `use stylus_sdk::prelude::*;

#[storage]
#[entrypoint]
pub struct Contract {}

#[public]
impl Contract {
    pub fn fee(&self, amount: u64) -> u64 {
        %s
    }
}
`

func stylusUnit(path, body string) model.SourceUnit {
	return model.SourceUnit{Path: path, Dialect: model.DialectStylus, Text: []byte(strings.Replace(stylusFee, "%s", body, 1))}
}

func TestArithmeticOrderSensitivity(t *testing.T) {
	bad := scan(t, []model.SourceUnit{stylusUnit("bad.rs", "(amount / 100) * 3")}, Options{})
	assert.True(t, ruleIDs(bad.Findings)["MATH-DIV-BEFORE-MUL"])

	good := scan(t, []model.SourceUnit{stylusUnit("good.rs", "(amount * 3) / 100")}, Options{})
	assert.False(t, ruleIDs(good.Findings)["MATH-DIV-BEFORE-MUL"])
}

func TestAuthorityGuardBoundary(t *testing.T) {
	for _, fx := range loadFixtures(t) {
		if fx.name != rules.CategoryMissingAuthority {
			continue
		}
		count := func(u model.SourceUnit) int {
			n := 0
			for _, f := range scan(t, []model.SourceUnit{u}, Options{}).Findings {
				if f.RuleID == "AUTH-MISSING-CHECK" {
					n++
				}
			}
			return n
		}
		assert.Equal(t, 1, count(fx.insecure))
		assert.Equal(t, 0, count(fx.secure))
		return
	}
	t.Fatal("missing-authority-check fixture not found")
}

func TestFixtureCases(t *testing.T) {
	cases := map[string]int{}
	for _, fx := range loadFixtures(t) {
		cases[fx.category]++
	}
	assert.GreaterOrEqual(t, cases[rules.CategoryMissingAuthority], 6)
	assert.GreaterOrEqual(t, cases[rules.CategoryArbitraryCall], 2)
	assert.GreaterOrEqual(t, cases[rules.CategoryNonCanonicalBump], 2)
}

func TestUnrestrictedMintIsReported(t *testing.T) {
	for _, fx := range loadFixtures(t) {
		if fx.name != rules.CategoryMissingAuthority+"/unrestricted-minting" {
			continue
		}
		res := scan(t, []model.SourceUnit{fx.insecure}, Options{})
		var msgs []string
		for _, f := range res.Findings {
			if f.RuleID == "AUTH-MISSING-CHECK" {
				msgs = append(msgs, f.Message)
			}
		}
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0], "total_supply")
		return
	}
	t.Fatal("unrestricted-minting fixture not found")
}

func TestPartialFailure(t *testing.T) {
	units := []model.SourceUnit{
		stylusUnit("a.rs", "(amount / 100) * 3"),
		{Path: "b.rs", Dialect: model.DialectStylus, Text: []byte("pub fn broken( {")},
		stylusUnit("c.rs", "amount / 0 * amount"),
	}
	res := scan(t, units, Options{Workers: 2})
	assert.Equal(t, model.StatusCompletedWithErrors, res.Status)
	assert.Empty(t, res.Skipped)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, model.ErrorKindParse, res.Errors[0].Kind)
	assert.Equal(t, "b.rs", res.Errors[0].File)
	assert.Equal(t, 1, res.Errors[0].Line)
	assert.True(t, res.HasParseErrors())

	files := map[string]bool{}
	for _, f := range res.Findings {
		files[f.File] = true
	}
	assert.True(t, files["a.rs"])
	assert.True(t, files["c.rs"])
	assert.False(t, files["b.rs"])
}

// stallingFrontend blocks on sources containing "stall" until ctx ends.
type stallingFrontend struct {
	inner syntax.Frontend
}

func (f stallingFrontend) Parse(ctx context.Context, src []byte) (*syntax.Tree, error) {
	if strings.Contains(string(src), "stall") {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.inner.Parse(ctx, src)
}

func TestTimeoutReportsPartialScan(t *testing.T) {
	units := []model.SourceUnit{
		stylusUnit("a.rs", "(amount / 100) * 3"),
		stylusUnit("b.rs", "// stall\n        amount"),
		stylusUnit("c.rs", "(amount / 100) * 3"),
	}
	res := scan(t, units, Options{
		Workers:  3,
		Timeout:  300 * time.Millisecond,
		Frontend: stallingFrontend{inner: syntax.NewRustFrontend()},
	})
	assert.Equal(t, model.StatusPartial, res.Status)
	assert.Equal(t, []string{"b.rs"}, res.Skipped)
	files := map[string]bool{}
	for _, f := range res.Findings {
		files[f.File] = true
	}
	assert.True(t, files["a.rs"])
	assert.True(t, files["c.rs"])
}

func TestCancelledScanSkipsEverything(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Scan(ctx, []model.SourceUnit{stylusUnit("a.rs", "amount")}, catalog(t, rules.Options{}), Options{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartial, res.Status)
	assert.Equal(t, []string{"a.rs"}, res.Skipped)
	assert.Empty(t, res.Findings)
}

func TestUnanalyzableFile(t *testing.T) {
	u := stylusUnit("x.rs", "amount")
	u.Dialect = "evm"
	res := scan(t, []model.SourceUnit{u}, Options{})
	assert.Equal(t, model.StatusCompletedWithErrors, res.Status)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, model.ErrorKindNormalization, res.Errors[0].Kind)
	require.Len(t, res.Findings, 1)
	f := res.Findings[0]
	assert.Equal(t, rules.UnanalyzableID, f.RuleID)
	assert.Equal(t, model.SeverityInfo, f.Severity)
	assert.InDelta(t, rules.UnanalyzableConfidence, f.Confidence, 1e-9)
}

type panickyRule struct{}

func (panickyRule) Meta() model.RuleMeta {
	return model.RuleMeta{ID: "TEST-PANIC", Title: "panics", Category: "test", Severity: model.SeverityLow}
}

func (panickyRule) Check(h *ir.Handler) []rules.Match {
	var exprs []ir.Expr
	_ = exprs[len(h.Params)+5]
	return nil
}

func TestRuleFaultIsContained(t *testing.T) {
	cat := catalog(t, rules.Options{Extra: []rules.Rule{panickyRule{}}})
	res, err := Scan(context.Background(), []model.SourceUnit{stylusUnit("a.rs", "(amount / 100) * 3")}, cat, Options{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, res.Status)

	ids := ruleIDs(res.Findings)
	assert.True(t, ids[rules.RuleFaultID])
	assert.True(t, ids["MATH-DIV-BEFORE-MUL"], "other rules still ran")
	for _, f := range res.Findings {
		if f.RuleID == rules.RuleFaultID {
			assert.Contains(t, f.Message, "TEST-PANIC")
			assert.Equal(t, "fee", f.Handler)
		}
	}
}

func TestCorroboration(t *testing.T) {
	u := stylusUnit("a.rs", "(amount / 100) * 3")
	res := scan(t, []model.SourceUnit{u}, Options{})
	byRule := map[string]model.Finding{}
	for _, f := range res.Findings {
		byRule[f.RuleID] = f
	}
	div, ok := byRule["MATH-DIV-BEFORE-MUL"]
	require.True(t, ok)
	unchecked, ok := byRule["MATH-UNCHECKED"]
	require.True(t, ok)
	require.Equal(t, div.Span, unchecked.Span)

	assert.True(t, div.Corroborated)
	assert.Equal(t, model.SeverityHigh, div.Severity)
	assert.Equal(t, []string{"MATH-UNCHECKED"}, div.RelatedRules)
	assert.Equal(t, []string{"MATH-DIV-BEFORE-MUL"}, unchecked.RelatedRules)
	assert.InDelta(t, 0.7, div.Confidence, 1e-9)

	plain := scan(t, []model.SourceUnit{u}, Options{DisableCorroboration: true})
	for _, f := range plain.Findings {
		assert.False(t, f.Corroborated)
		if f.RuleID == "MATH-DIV-BEFORE-MUL" {
			assert.Equal(t, model.SeverityMedium, f.Severity)
		}
	}
}

func TestFindingPositions(t *testing.T) {
	res := scan(t, []model.SourceUnit{stylusUnit("a.rs", "(amount / 100) * 3")}, Options{DisableCorroboration: true})
	for _, f := range res.Findings {
		if f.RuleID != "MATH-DIV-BEFORE-MUL" {
			continue
		}
		assert.Equal(t, 10, f.StartLine)
		assert.Equal(t, 9, f.StartColumn)
		assert.Equal(t, 10, f.EndLine)
		assert.Equal(t, 27, f.EndColumn)
		assert.Equal(t, "(amount / 100) * 3", f.Evidence)
		assert.Len(t, f.Fingerprint, 64)
		assert.Equal(t, "fee", f.Handler)
		assert.NotEmpty(t, f.Remediation)
		return
	}
	t.Fatal("no MATH-DIV-BEFORE-MUL finding")
}

func TestInlineAndConfigSuppression(t *testing.T) {
	marked := stylusUnit("src/a.rs", "// radar:ignore MATH-UNCHECKED, MATH-DIV-BEFORE-MUL\n        (amount / 100) * 3")
	res := scan(t, []model.SourceUnit{marked}, Options{})
	assert.Empty(t, res.Findings)

	all := stylusUnit("src/b.rs", "// radar:ignore all\n        (amount / 100) * 3")
	assert.Empty(t, scan(t, []model.SourceUnit{all}, Options{}).Findings)

	plain := stylusUnit("src/c.rs", "(amount / 100) * 3")
	ignored := scan(t, []model.SourceUnit{plain}, Options{Ignore: []config.IgnoreRule{{Rule: "*", Path: "src/"}}})
	assert.Empty(t, ignored.Findings)

	now := func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }
	expired := scan(t, []model.SourceUnit{plain}, Options{
		Ignore: []config.IgnoreRule{{Rule: "MATH-DIV-BEFORE-MUL", Expires: "2026-01-01"}},
		Now:    now,
	})
	assert.True(t, ruleIDs(expired.Findings)["MATH-DIV-BEFORE-MUL"])
}

func TestIRCache(t *testing.T) {
	c, err := cache.Open(t.TempDir())
	require.NoError(t, err)
	units := []model.SourceUnit{stylusUnit("a.rs", "(amount / 100) * 3")}

	first := scan(t, units, Options{Cache: c})
	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	second := scan(t, units, Options{Cache: c, Frontend: failingFrontend{}})
	assert.Equal(t, first.Findings, second.Findings, "cached IR skips the parser")
}

type failingFrontend struct{}

func (failingFrontend) Parse(context.Context, []byte) (*syntax.Tree, error) {
	return nil, errors.New("parser must not run on a cache hit")
}
