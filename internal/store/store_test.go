package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tetraminz/slotner/internal/dataset"
	"github.com/tetraminz/slotner/internal/schema"
	"github.com/tetraminz/slotner/internal/validate"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "slotner.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecords() []dataset.Record {
	return []dataset.Record{
		{
			ID:    "conv_1",
			Text:  "联系电话13800138000,订单号A100",
			Group: "L1",
			Slots: dataset.Slots{{Key: "PHONE", Value: "13800138000"}, {Key: "ORDER_ID", Value: "A100"}},
			Entities: []schema.Entity{
				{Type: schema.Phone, Start: 4, End: 15, Text: "13800138000"},
				{Type: schema.OrderID, Start: 19, End: 23, Text: "A100"},
			},
		},
		{
			ID:       "conv_2",
			Text:     "张三在京东下单",
			Group:    "L3",
			Slots:    dataset.Slots{{Key: "PERSON", Value: "张三"}},
			Entities: []schema.Entity{{Type: schema.Person, Start: 0, End: 2, Text: "张三"}},
		},
		{
			ID:       "conv_3",
			Text:     "ok",
			Group:    "L1",
			Entities: []schema.Entity{},
		},
	}
}

func testViolations() []validate.Violation {
	return []validate.Violation{
		{RecordID: "conv_1", Rule: validate.RuleSemi, Message: "less than 2 semi entities"},
		{RecordID: "conv_2", Rule: validate.RuleGrounded, Message: "slot ADDRESS not found in text"},
		{RecordID: "conv_2", Rule: validate.RuleStrong, Message: "less than 1 strong entity"},
		{RecordID: "conv_2", Rule: validate.RuleSemi, Message: "less than 2 semi entities"},
	}
}

func TestImport_RowCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run, err := s.Import(ctx, "migrate", "data/labeled.jsonl", testRecords(), testViolations())
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if run.ID == "" || run.RecordCount != 3 {
		t.Fatalf("run=%+v", run)
	}

	for table, want := range map[string]int{"records": 3, "entities": 3, "violations": 4, "runs": 1} {
		var got int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&got); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if got != want {
			t.Fatalf("%s count=%d want %d", table, got, want)
		}
	}

	var start, end int
	var text string
	if err := s.db.QueryRow(`
		SELECT start_rune, end_rune, text FROM entities
		WHERE conv_id = 'conv_1' AND entity_type = 'ORDER_ID'
	`).Scan(&start, &end, &text); err != nil {
		t.Fatalf("query entity: %v", err)
	}
	if start != 19 || end != 23 || text != "A100" {
		t.Fatalf("entity got [%d,%d) %q", start, end, text)
	}
}

func TestBuildReport_LatestRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return clock }
	if _, err := s.Import(ctx, "migrate", "old.jsonl", testRecords()[:1], nil); err != nil {
		t.Fatalf("import old: %v", err)
	}
	clock = clock.Add(time.Hour)
	latest, err := s.Import(ctx, "migrate", "new.jsonl", testRecords(), testViolations())
	if err != nil {
		t.Fatalf("import new: %v", err)
	}

	report, err := s.BuildReport(ctx, "")
	if err != nil {
		t.Fatalf("build report: %v", err)
	}
	if report.Run.ID != latest.ID {
		t.Fatalf("report run=%s want %s", report.Run.ID, latest.ID)
	}
	if report.TotalRecords != 3 || report.TotalEntities != 3 {
		t.Fatalf("totals got records=%d entities=%d", report.TotalRecords, report.TotalEntities)
	}
	if report.CleanRecords != 1 || report.FailedRecords != 2 {
		t.Fatalf("clean=%d failed=%d", report.CleanRecords, report.FailedRecords)
	}
	if report.UngroundedRecords != 1 {
		t.Fatalf("ungrounded=%d want 1", report.UngroundedRecords)
	}
	if len(report.ViolationsByRule) == 0 || report.ViolationsByRule[0].Name != string(validate.RuleSemi) || report.ViolationsByRule[0].Count != 2 {
		t.Fatalf("violations by rule=%+v", report.ViolationsByRule)
	}
	if len(report.Groups) != 2 || report.Groups[0].Name != "L1" || report.Groups[0].Count != 2 {
		t.Fatalf("groups=%+v", report.Groups)
	}
	if len(report.TopFailedRecords) != 2 {
		t.Fatalf("top failed=%+v", report.TopFailedRecords)
	}
	top := report.TopFailedRecords[0]
	if top.ConvID != "conv_2" || top.Violations != 3 || len(top.Messages) != 3 {
		t.Fatalf("top failed[0]=%+v", top)
	}

	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 || runs[0].SourcePath != "new.jsonl" {
		t.Fatalf("runs=%+v", runs)
	}
}

func TestBuildReport_EmptyDatabase(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.BuildReport(context.Background(), ""); !errors.Is(err, ErrNoRuns) {
		t.Fatalf("err=%v want ErrNoRuns", err)
	}
	if _, err := s.BuildReport(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown run")
	}
}

func TestReset_DropsRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Import(ctx, "migrate", "x.jsonl", testRecords(), nil); err != nil {
		t.Fatalf("import: %v", err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("runs after reset=%d want 0", len(runs))
	}
}

func TestOpen_RejectsIncompatibleSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.db.Exec(`DROP TABLE violations`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := s.db.Exec(`CREATE TABLE violations (run_id TEXT)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	s.Close()

	_, err = Open(path)
	if err == nil || !strings.Contains(err.Error(), "missing columns") {
		t.Fatalf("err=%v want missing columns", err)
	}

	s, err = OpenReset(path)
	if err != nil {
		t.Fatalf("open reset: %v", err)
	}
	defer s.Close()
	if _, err := s.Import(context.Background(), "migrate", "x.jsonl", testRecords(), nil); err != nil {
		t.Fatalf("import after reset: %v", err)
	}
}

func TestFormatReportAndMarkdown(t *testing.T) {
	r := Report{
		Run:              Run{ID: "run-1", Command: "migrate", SourcePath: "a.jsonl", StartedUTC: "2026-01-01T00:00:00Z"},
		TotalRecords:     12345,
		TotalEntities:    40000,
		CleanRecords:     12000,
		FailedRecords:    345,
		CleanPercent:     97.2,
		EntityTypes:      []TypeCount{{Name: "PHONE", Count: 9000}},
		ViolationsByRule: []TypeCount{{Name: "grounded", Count: 300}},
		TopFailedRecords: []RecordViolations{{ConvID: "conv_9", Seq: 9, Violations: 2, Messages: []string{"a", "b|c"}}},
	}

	text := FormatReport(r)
	for _, want := range []string{"total_records=12,345\n", "clean_records=12,000 (97.20%)\n", "violations[grounded]=300\n"} {
		if !strings.Contains(text, want) {
			t.Fatalf("format report missing %q in:\n%s", want, text)
		}
	}

	md := BuildMarkdown(r)
	for _, want := range []string{"# Dataset Report", "| `PHONE` | `9,000` |", "## Groups\n- none", "| `conv_9` | `9` | `2` | a; b/c |"} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q in:\n%s", want, md)
		}
	}
}
