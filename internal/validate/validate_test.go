package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetraminz/slotner/internal/dataset"
)

func validRecord() dataset.Record {
	return dataset.Record{
		ID:   "conv_ok",
		Text: "我是张三,在淘宝买的耳机,订单号A100,电话13800138000",
		Slots: dataset.Slots{
			{Key: "PERSON", Value: "张三"},
			{Key: "STORE_PLATFORM", Value: "淘宝"},
			{Key: "ORDER_ID", Value: "A100"},
			{Key: "PHONE", Value: "13800138000"},
			{Key: "scenario", Value: "售后退款"},
		},
		Labels: dataset.SemanticLabels{
			"issue_type":     "破损",
			"request_action": "退款",
			"sentiment":      "焦急",
			"evidence":       "图片",
		},
	}
}

func messages(vs []Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Message)
	}
	return out
}

func TestValidRecordHasNoViolations(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Record(validRecord()))
}

func TestScenarioIsNotGrounded(t *testing.T) {
	t.Parallel()

	rec := validRecord()
	v, _ := rec.Slots.Get("scenario")
	require.NotContains(t, rec.Text, v)
	assert.Empty(t, Record(rec))
}

func TestUngroundedSlot(t *testing.T) {
	t.Parallel()

	rec := validRecord()
	rec.Slots.Set("ADDRESS", "上海市浦东新区")

	got := Record(rec)
	require.Len(t, got, 1)
	assert.Equal(t, RuleGrounded, got[0].Rule)
	assert.Equal(t, "conv_ok - slot ADDRESS not found in text", got[0].String())
}

func TestCategoricalStrongAndPhoneAtOnce(t *testing.T) {
	t.Parallel()

	rec := dataset.Record{
		ID:   "conv_bad",
		Text: "张三在淘宝留了电话12345",
		Slots: dataset.Slots{
			{Key: "PERSON", Value: "张三"},
			{Key: "STORE_PLATFORM", Value: "淘宝"},
			{Key: "PHONE", Value: "12345"},
		},
		Labels: dataset.SemanticLabels{
			"issue_type":     "破损",
			"request_action": "退款",
			"sentiment":      "开心",
			"evidence":       "图片",
		},
	}
	// A malformed PHONE still counts toward the strong tier.
	got := messages(Record(rec))
	assert.Equal(t, []string{"invalid sentiment", "invalid phone format"}, got)

	noStrong := rec.Clone()
	noStrong.Slots = dataset.Slots{{Key: "PERSON", Value: "张三"}, {Key: "STORE_PLATFORM", Value: "淘宝"}}
	assert.Equal(t, []string{"invalid sentiment", "less than 1 strong entity"}, messages(Record(noStrong)))
}

func TestOnlySemiEntitiesFailsStrongRuleOnly(t *testing.T) {
	t.Parallel()

	rec := validRecord()
	rec.Slots = dataset.Slots{
		{Key: "PERSON", Value: "张三"},
		{Key: "ADDRESS", Value: "淘宝"},
	}

	got := Record(rec)
	require.Len(t, got, 1)
	assert.Equal(t, RuleStrong, got[0].Rule)
	assert.Equal(t, "less than 1 strong entity", got[0].Message)
}

func TestSemiMinimum(t *testing.T) {
	t.Parallel()

	rec := validRecord()
	rec.Slots = dataset.Slots{{Key: "ORDER_ID", Value: "A100"}, {Key: "PERSON", Value: "张三"}}

	got := Record(rec)
	require.Len(t, got, 1)
	assert.Equal(t, "less than 2 semi entities", got[0].Message)
}

func TestMissingLabelsAreInvalid(t *testing.T) {
	t.Parallel()

	rec := validRecord()
	rec.Labels = nil
	assert.Equal(t, []string{
		"invalid issue_type",
		"invalid request_action",
		"invalid sentiment",
		"invalid evidence",
	}, messages(Record(rec)))
}

func TestEmailRuleToleratesNoise(t *testing.T) {
	t.Parallel()

	rec := validRecord()
	raw := "请联系 foo.bar@example.com 处理"
	rec.Text += raw
	rec.Slots.Set("EMAIL", raw)
	assert.Empty(t, Record(rec))

	rec.Slots.Set("EMAIL", "foo at example dot com")
	rec.Text += "foo at example dot com"
	got := Record(rec)
	require.Len(t, got, 1)
	assert.Equal(t, RuleEmail, got[0].Rule)
}

func TestStreamKeepsInputOrder(t *testing.T) {
	t.Parallel()

	a := validRecord()
	a.ID = "a"
	a.Labels["evidence"] = "录音"
	b := validRecord()
	b.ID = "b"
	c := validRecord()
	c.ID = "c"
	c.Labels["sentiment"] = ""

	got := Stream([]dataset.Record{a, b, c})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].RecordID)
	assert.Equal(t, "c", got[1].RecordID)
}

func TestRulesOrder(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []Rule{RuleGrounded, RuleCategorical, RuleStrong, RuleSemi, RulePhone, RuleEmail}, Rules())
}
