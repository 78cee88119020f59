package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tetraminz/slotner/internal/dataset"
)

const (
	validLine   = `{"conv_id":"conv_1","group":"L1","full_text":"客户张三在京东下单，联系电话13800138000，订单号A100","slots_ground_truth":{"PERSON":"张三","STORE_PLATFORM":"京东","PHONE":"13800138000","ORDER_ID":"A100","scenario":"售后"},"semantic_labels":{"issue_type":"破损","request_action":"退款","sentiment":"平静","evidence":"图片"}}`
	invalidLine = `{"conv_id":"conv_2","group":"L3","full_text":"电话123","slots_ground_truth":{"PHONE":"123","EMAIL":"**mail: a@b.com**"}}`
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestCLI_PrepareValidateMigrateReport(t *testing.T) {
	t.Chdir(t.TempDir())
	raw := "raw.jsonl"
	labeled := "labeled.jsonl"
	db := filepath.Join("out", "slotner.db")
	writeLines(t, raw, validLine, "{not json", invalidLine)

	out, err := runCLI(t, "prepare", "--in", raw, "--out", labeled)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if !strings.Contains(out, "prepared=2") {
		t.Fatalf("prepare output=%q", out)
	}

	records, skipped, err := dataset.Load(labeled)
	if err != nil {
		t.Fatalf("load labeled: %v", err)
	}
	if len(records) != 2 || len(skipped) != 0 {
		t.Fatalf("records=%d skipped=%d", len(records), len(skipped))
	}
	if got := len(records[0].Entities); got != 4 {
		t.Fatalf("conv_1 entities=%d want 4", got)
	}
	phone := records[0].Entities[0]
	for _, e := range records[0].Entities {
		if e.Type == "PHONE" {
			phone = e
		}
	}
	if phone.Start != 14 || phone.End != 25 {
		t.Fatalf("phone span=[%d,%d) want [14,25)", phone.Start, phone.End)
	}

	out, err = runCLI(t, "validate", "--in", labeled)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if strings.Contains(out, "conv_1 - ") {
		t.Fatalf("conv_1 should be valid:\n%s", out)
	}
	for _, want := range []string{
		"conv_2 - invalid issue_type",
		"conv_2 - less than 2 semi entities",
		"conv_2 - invalid phone format",
		"conv_2 - slot EMAIL not found in text",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("validate output missing %q:\n%s", want, out)
		}
	}

	out, err = runCLI(t, "migrate", "--in", labeled, "--db", db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "migrated_rows=2") {
		t.Fatalf("migrate output=%q", out)
	}

	out, err = runCLI(t, "report", "--db", db, "--markdown", "out/report.md")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	for _, want := range []string{"total_records=2\n", "clean_records=1 (50.00%)\n", "failed_records=1\n"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report output missing %q:\n%s", want, out)
		}
	}
	md, err := os.ReadFile("out/report.md")
	if err != nil {
		t.Fatalf("read markdown: %v", err)
	}
	if !strings.Contains(string(md), "`conv_2`") {
		t.Fatalf("markdown missing failed record:\n%s", md)
	}
}

func TestCLI_AlignWritesSplitsAndLabels(t *testing.T) {
	t.Chdir(t.TempDir())
	writeLines(t, "labeled.jsonl", validLine, invalidLine)

	out, err := runCLI(t, "align", "--in", "labeled.jsonl", "--out-dir", "aligned", "--max-length", "64")
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	for _, want := range []string{"train_size=1\n", "eval_size=1\n", "unassigned_size=0\n"} {
		if !strings.Contains(out, want) {
			t.Fatalf("align output missing %q:\n%s", want, out)
		}
	}

	raw, err := os.ReadFile(filepath.Join("aligned", "labels.json"))
	if err != nil {
		t.Fatalf("read labels: %v", err)
	}
	var vocab struct {
		LabelList []string       `json:"label_list"`
		Label2ID  map[string]int `json:"label2id"`
	}
	if err := json.Unmarshal(raw, &vocab); err != nil {
		t.Fatalf("decode labels: %v", err)
	}
	if len(vocab.LabelList) == 0 || vocab.LabelList[0] != "O" || vocab.Label2ID["O"] != 0 {
		t.Fatalf("labels=%+v", vocab)
	}

	train, err := os.ReadFile(filepath.Join("aligned", "train.jsonl"))
	if err != nil {
		t.Fatalf("read train: %v", err)
	}
	if !strings.Contains(string(train), `"conv_id":"conv_1"`) || !strings.Contains(string(train), `"B-PHONE"`) {
		t.Fatalf("train split=%s", train)
	}

	var stats struct {
		Tokens struct {
			IgnoredTokens int `json:"ignored_tokens"`
			EntitySpans   int `json:"entity_spans"`
		} `json:"tokens"`
		SplitSizes map[string]int `json:"split_sizes"`
	}
	raw, err = os.ReadFile(filepath.Join("aligned", "stats.json"))
	if err != nil {
		t.Fatalf("read stats: %v", err)
	}
	if err := json.Unmarshal(raw, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Tokens.IgnoredTokens != 4 || stats.Tokens.EntitySpans != 5 || stats.SplitSizes["eval"] != 1 {
		t.Fatalf("stats=%+v", stats)
	}
}

func TestCLI_AlignRerunReplacesSplitsAndReusesLabels(t *testing.T) {
	t.Chdir(t.TempDir())
	writeLines(t, "both.jsonl", validLine, invalidLine)
	writeLines(t, "train_only.jsonl", validLine)

	if _, err := runCLI(t, "align", "--in", "both.jsonl", "--out-dir", "aligned"); err != nil {
		t.Fatalf("first align: %v", err)
	}
	labels, err := os.ReadFile(filepath.Join("aligned", "labels.json"))
	if err != nil {
		t.Fatalf("read labels: %v", err)
	}
	if err := os.WriteFile("labels.json", labels, 0o644); err != nil {
		t.Fatalf("copy labels: %v", err)
	}

	out, err := runCLI(t, "align", "--in", "train_only.jsonl", "--out-dir", "aligned", "--labels", "labels.json")
	if err != nil {
		t.Fatalf("second align: %v", err)
	}
	if !strings.Contains(out, "eval_size=0\n") {
		t.Fatalf("second align output=%q", out)
	}
	eval, err := os.ReadFile(filepath.Join("aligned", "eval.jsonl"))
	if err != nil {
		t.Fatalf("read eval: %v", err)
	}
	if len(eval) != 0 {
		t.Fatalf("eval.jsonl kept records from the first run:\n%s", eval)
	}
	again, err := os.ReadFile(filepath.Join("aligned", "labels.json"))
	if err != nil {
		t.Fatalf("read labels: %v", err)
	}
	if !bytes.Equal(labels, again) {
		t.Fatalf("labels changed:\n%s\nwant\n%s", again, labels)
	}

	writeLines(t, "phone_only.json", `{"label_list":["O","B-PHONE","I-PHONE"],"label2id":{"O":0,"B-PHONE":1,"I-PHONE":2}}`)
	if _, err := runCLI(t, "align", "--in", "train_only.jsonl", "--out-dir", "other", "--labels", "phone_only.json"); err == nil {
		t.Fatalf("align should fail when the data has labels outside the vocabulary")
	}

	writeLines(t, "mismatch.json", `{"label_list":["O","B-PHONE","I-PHONE"],"label2id":{"O":0,"B-PHONE":2,"I-PHONE":1}}`)
	if _, err := runCLI(t, "align", "--in", "train_only.jsonl", "--out-dir", "other", "--labels", "mismatch.json"); err == nil {
		t.Fatalf("align should reject a label2id that disagrees with label_list")
	}
}

func TestCLI_CleanEmailKeepsRawFile(t *testing.T) {
	t.Chdir(t.TempDir())
	writeLines(t, "raw.jsonl", invalidLine, `{"conv_id":"conv_9","full_text":`, validLine)
	before, err := os.ReadFile("raw.jsonl")
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}

	out, err := runCLI(t, "clean-email", "--in", "raw.jsonl")
	if err != nil {
		t.Fatalf("clean-email: %v", err)
	}
	if !strings.Contains(out, "cleaned=1 out=raw_clean.jsonl") {
		t.Fatalf("clean-email output=%q", out)
	}

	after, err := os.ReadFile("raw.jsonl")
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("raw file changed:\n%s", after)
	}

	records, _, err := dataset.Load("raw_clean.jsonl")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records=%d want 2", len(records))
	}
	if got, _ := records[0].Slots.Get("EMAIL"); got != "a@b.com" {
		t.Fatalf("EMAIL=%q want a@b.com", got)
	}

	if _, err := runCLI(t, "clean-email", "--in", "raw.jsonl", "--out", "./raw.jsonl"); err == nil {
		t.Fatalf("clean-email should refuse in == out")
	}
	after, err = os.ReadFile("raw.jsonl")
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("raw file changed by refused run:\n%s", after)
	}
}

func TestCLI_ShardTools(t *testing.T) {
	t.Chdir(t.TempDir())
	writeLines(t, "a.jsonl", "\ufeff"+validLine, "")
	writeLines(t, "b.jsonl", "{broken", invalidLine)

	out, err := runCLI(t, "merge", "--out", "merged.jsonl", "a.jsonl", "b.jsonl", "missing.jsonl")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !strings.Contains(out, "merged_lines=3 shards=2 missing=1") {
		t.Fatalf("merge output=%q", out)
	}

	if _, err := runCLI(t, "tag-group", "--in", "merged.jsonl", "--out", "tagged.jsonl", "--group", "L3"); err != nil {
		t.Fatalf("tag-group: %v", err)
	}
	if _, err := runCLI(t, "renumber", "--in", "tagged.jsonl", "--out", "final.jsonl", "--prefix", "conv_L3_"); err != nil {
		t.Fatalf("renumber: %v", err)
	}
	records, _, err := dataset.Load("final.jsonl")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records=%d want 2", len(records))
	}
	for i, rec := range records {
		if rec.Group != "L3" {
			t.Fatalf("record %d group=%q", i, rec.Group)
		}
	}
	if records[0].ID != "conv_L3_1" || records[1].ID != "conv_L3_2" {
		t.Fatalf("ids=%q,%q", records[0].ID, records[1].ID)
	}

	out, err = runCLI(t, "check", "merged.jsonl")
	if err == nil {
		t.Fatalf("check should fail on the broken line")
	}
	if !strings.Contains(out, "line 2: invalid") || !strings.Contains(out, "ok=2 blank=0 invalid=1") {
		t.Fatalf("check output=%q", out)
	}

	if _, err := runCLI(t, "tag-group", "--in", "final.jsonl", "--out", "./final.jsonl", "--group", "L1"); err == nil {
		t.Fatalf("tag-group should refuse in == out")
	}
}

func TestCLI_ConfigInitAndLoad(t *testing.T) {
	t.Chdir(t.TempDir())

	if _, err := runCLI(t, "config", "init"); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := runCLI(t, "config", "init"); err == nil {
		t.Fatalf("second init should refuse to overwrite")
	}
	if _, err := runCLI(t, "config", "init", "--force"); err != nil {
		t.Fatalf("config init --force: %v", err)
	}

	writeLines(t, "raw.jsonl", validLine)
	t.Setenv("SLOTNER_PATHS_RAW", "raw.jsonl")
	out, err := runCLI(t, "validate")
	if err != nil {
		t.Fatalf("validate with defaults: %v", err)
	}
	if !strings.Contains(out, "all 1 records valid") {
		t.Fatalf("validate output=%q", out)
	}
}
