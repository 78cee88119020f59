// Package schema holds the closed annotation vocabularies: entity types,
// their strong/semi tiers and the categorical label sets.
package schema

import (
	"fmt"
	"sort"
)

// EntityType is one of the ten slot keys that name an entity.
type EntityType string

const (
	OrderID       EntityType = "ORDER_ID"
	Phone         EntityType = "PHONE"
	Email         EntityType = "EMAIL"
	TrackingNo    EntityType = "TRACKING_NO"
	DateTime      EntityType = "DATETIME"
	Person        EntityType = "PERSON"
	Address       EntityType = "ADDRESS"
	Product       EntityType = "PRODUCT"
	SKUModel      EntityType = "SKU_MODEL"
	StorePlatform EntityType = "STORE_PLATFORM"
)

// ScenarioKey is the only slot key that is not an entity and is never
// expected to be grounded in the text.
const ScenarioKey = "scenario"

var entityTypes = []EntityType{
	OrderID, Phone, Email, TrackingNo, DateTime,
	Person, Address, Product, SKUModel, StorePlatform,
}

var (
	entityIndex = indexOf(entityTypes)
	strongTier  = indexOf([]EntityType{OrderID, Phone, Email, TrackingNo, DateTime})
	semiTier    = indexOf([]EntityType{Person, Address, Product, SKUModel, StorePlatform})
)

func indexOf(types []EntityType) map[EntityType]struct{} {
	out := make(map[EntityType]struct{}, len(types))
	for _, t := range types {
		out[t] = struct{}{}
	}
	return out
}

// EntityTypes returns the vocabulary in canonical order.
func EntityTypes() []EntityType {
	return append([]EntityType(nil), entityTypes...)
}

// ParseEntityType reports whether key names an entity type.
func ParseEntityType(key string) (EntityType, bool) {
	t := EntityType(key)
	_, ok := entityIndex[t]
	return t, ok
}

// IsStrong reports membership in the strong tier.
func (t EntityType) IsStrong() bool {
	_, ok := strongTier[t]
	return ok
}

// IsSemi reports membership in the semi-structured tier.
func (t EntityType) IsSemi() bool {
	_, ok := semiTier[t]
	return ok
}

func (t EntityType) String() string { return string(t) }

// SortedEntityTypes returns a deduplicated copy of types sorted by name.
func SortedEntityTypes(types []EntityType) []EntityType {
	seen := make(map[EntityType]struct{}, len(types))
	out := make([]EntityType, 0, len(types))
	for _, t := range types {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Entity is one located occurrence of a slot value. Start and End are
// half-open rune offsets into the record text.
type Entity struct {
	Type  EntityType `json:"type"`
	Start int        `json:"start"`
	End   int        `json:"end"`
	Text  string     `json:"text"`
}

func (e Entity) String() string {
	return fmt.Sprintf("%s[%d,%d)", e.Type, e.Start, e.End)
}

// CategoricalField names one of the four required semantic labels.
type CategoricalField string

const (
	IssueType     CategoricalField = "issue_type"
	RequestAction CategoricalField = "request_action"
	Sentiment     CategoricalField = "sentiment"
	Evidence      CategoricalField = "evidence"
)

var categoricalFields = []CategoricalField{IssueType, RequestAction, Sentiment, Evidence}

var categoricalValues = map[CategoricalField][]string{
	IssueType: {
		"无法开机", "破损", "不合适", "尺码不符",
		"质量问题", "故障", "不满意", "不需要",
		"延迟发货", "少件",
	},
	RequestAction: {
		"退款", "退货", "换货", "补发",
		"改地址", "开发票", "人工处理", "加急处理",
	},
	Sentiment: {"生气", "焦急", "平静", "满意"},
	Evidence:  {"无", "图片", "视频", "聊天记录", "订单截图"},
}

var categoricalIndex = func() map[CategoricalField]map[string]struct{} {
	out := make(map[CategoricalField]map[string]struct{}, len(categoricalValues))
	for field, values := range categoricalValues {
		set := make(map[string]struct{}, len(values))
		for _, v := range values {
			set[v] = struct{}{}
		}
		out[field] = set
	}
	return out
}()

// CategoricalFields returns the four required fields in report order.
func CategoricalFields() []CategoricalField {
	return append([]CategoricalField(nil), categoricalFields...)
}

// Values returns the allowed values of the field.
func (f CategoricalField) Values() []string {
	return append([]string(nil), categoricalValues[f]...)
}

// Allowed reports whether value belongs to the field's vocabulary.
func (f CategoricalField) Allowed(value string) bool {
	_, ok := categoricalIndex[f][value]
	return ok
}

func (f CategoricalField) String() string { return string(f) }

// Slot is one ground-truth key/value pair of a record.
type Slot struct {
	Key   string
	Value string
}
