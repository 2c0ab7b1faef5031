package models

// ConditionOperator is a comparison applied between a field value and the
// condition's declared value.
type ConditionOperator string

const (
	OperatorEquals       ConditionOperator = "equals"
	OperatorNotEquals    ConditionOperator = "not_equals"
	OperatorGreaterThan  ConditionOperator = "greater_than"
	OperatorLessThan     ConditionOperator = "less_than"
	OperatorGreaterEqual ConditionOperator = "greater_equal"
	OperatorLessEqual    ConditionOperator = "less_equal"
	OperatorContains     ConditionOperator = "contains"
	OperatorNotContains  ConditionOperator = "not_contains"
	OperatorStartsWith   ConditionOperator = "starts_with"
	OperatorEndsWith     ConditionOperator = "ends_with"
	OperatorMatchesRegex ConditionOperator = "matches_regex"
	OperatorInArray      ConditionOperator = "in_array"
	OperatorNotInArray   ConditionOperator = "not_in_array"
)

// LogicalOperator combines sibling or child conditions.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "and"
	LogicalOr  LogicalOperator = "or"
)

// Condition is one node of a rule's condition tree. A leaf compares a field
// path against a value with an operator; a branch owns child conditions
// combined by its logical operator. Setting Expression switches the node to
// CEL evaluation and ignores field/operator/value.
type Condition struct {
	FieldPath string            `json:"field_path,omitempty"`
	Operator  ConditionOperator `json:"operator,omitempty"`
	Value     any               `json:"value,omitempty"`

	// Expression is an optional CEL expression evaluated with the input
	// data bound as `data`. Compiled at rule-validation time.
	Expression string `json:"expression,omitempty"`

	Negated bool `json:"negated,omitempty"`

	// CaseSensitive defaults to true for string operators; only an explicit
	// false switches to case-insensitive comparison.
	CaseSensitive *bool `json:"case_sensitive,omitempty"`

	LogicalOperator LogicalOperator `json:"logical_operator,omitempty"`
	Conditions      []Condition     `json:"conditions,omitempty"`
}

// IsBranch reports whether this condition only combines children.
func (c *Condition) IsBranch() bool {
	return len(c.Conditions) > 0
}

// IsCaseSensitive resolves the case-sensitivity flag with its default.
func (c *Condition) IsCaseSensitive() bool {
	return c.CaseSensitive == nil || *c.CaseSensitive
}
