// Package validate checks raw records against the annotation schema.
//
// Every rule runs on every record; a record is accepted when Record returns
// no violations. The validator never mutates its input.
package validate

import (
	"fmt"
	"strings"

	"github.com/tetraminz/slotner/internal/dataset"
	"github.com/tetraminz/slotner/internal/schema"
)

// Rule identifies the check that produced a violation.
type Rule string

const (
	RuleGrounded    Rule = "grounded"
	RuleCategorical Rule = "categorical"
	RuleStrong      Rule = "strong_entity"
	RuleSemi        Rule = "semi_entity"
	RulePhone       Rule = "phone_format"
	RuleEmail       Rule = "email_format"
)

const (
	minStrongEntities = 1
	minSemiEntities   = 2
)

// Violation is one failed check of one record.
type Violation struct {
	RecordID string
	Rule     Rule
	Message  string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s - %s", v.RecordID, v.Message)
}

type check struct {
	rule Rule
	fn   func(rec dataset.Record) []string
}

var checks = []check{
	{RuleGrounded, checkGrounded},
	{RuleCategorical, checkCategorical},
	{RuleStrong, checkStrong},
	{RuleSemi, checkSemi},
	{RulePhone, checkPhone},
	{RuleEmail, checkEmail},
}

// Rules returns the rules in evaluation order.
func Rules() []Rule {
	out := make([]Rule, 0, len(checks))
	for _, c := range checks {
		out = append(out, c.rule)
	}
	return out
}

// Record returns every violation of rec.
func Record(rec dataset.Record) []Violation {
	var out []Violation
	for _, c := range checks {
		for _, msg := range c.fn(rec) {
			out = append(out, Violation{RecordID: rec.ID, Rule: c.rule, Message: msg})
		}
	}
	return out
}

// Stream validates a batch, keeping input order.
func Stream(records []dataset.Record) []Violation {
	var out []Violation
	for _, rec := range records {
		out = append(out, Record(rec)...)
	}
	return out
}

func checkGrounded(rec dataset.Record) []string {
	var msgs []string
	for _, slot := range rec.Slots {
		if slot.Key == schema.ScenarioKey {
			continue
		}
		if !strings.Contains(rec.Text, slot.Value) {
			msgs = append(msgs, fmt.Sprintf("slot %s not found in text", slot.Key))
		}
	}
	return msgs
}

func checkCategorical(rec dataset.Record) []string {
	var msgs []string
	for _, field := range schema.CategoricalFields() {
		value, _ := rec.Labels.Get(field)
		if !field.Allowed(value) {
			msgs = append(msgs, fmt.Sprintf("invalid %s", field))
		}
	}
	return msgs
}

func countTier(slots dataset.Slots, inTier func(schema.EntityType) bool) int {
	n := 0
	for _, slot := range slots {
		if t, ok := schema.ParseEntityType(slot.Key); ok && inTier(t) {
			n++
		}
	}
	return n
}

func checkStrong(rec dataset.Record) []string {
	if countTier(rec.Slots, schema.EntityType.IsStrong) < minStrongEntities {
		return []string{fmt.Sprintf("less than %d strong entity", minStrongEntities)}
	}
	return nil
}

func checkSemi(rec dataset.Record) []string {
	if countTier(rec.Slots, schema.EntityType.IsSemi) < minSemiEntities {
		return []string{fmt.Sprintf("less than %d semi entities", minSemiEntities)}
	}
	return nil
}

func checkPhone(rec dataset.Record) []string {
	phone, ok := rec.Slots.Get(string(schema.Phone))
	if !ok || ContainsPhone(phone) {
		return nil
	}
	return []string{"invalid phone format"}
}

func checkEmail(rec dataset.Record) []string {
	email, ok := rec.Slots.Get(string(schema.Email))
	if !ok || ValidEmail(ExtractEmail(email)) {
		return nil
	}
	return []string{"invalid email format"}
}
