package tags

import "time"

// Quality describes the validity of an upstream update and whether the
// producing source was reachable when it was taken.
type Quality struct {
	Valid       bool   `json:"valid"`
	Accessible  bool   `json:"accessible"`
	Description string `json:"description,omitempty"`
}

// TagUpdate is one event from the upstream feed: a raw value snapshot for a
// metric, or an evaluated status code for a rule together with the rule
// expression and its input tag ids.
type TagUpdate struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name,omitempty"`
	Value            Value     `json:"value"`
	Quality          Quality   `json:"quality"`
	Description      string    `json:"description,omitempty"`
	ValueDescription string    `json:"value_description,omitempty"`
	ServerTime       time.Time `json:"server_time"`
	RuleResult       bool      `json:"rule_result"`
	RuleExpression   string    `json:"rule_expression,omitempty"`
	RuleInputTagIDs  []int64   `json:"rule_input_tag_ids,omitempty"`
}
