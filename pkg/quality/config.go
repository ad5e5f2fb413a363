package quality

import (
	json "github.com/goccy/go-json"

	"github.com/fileforge/fileforge/pkg/errors"
)

// ruleSpec is one entry of the JSON rule configuration.
type ruleSpec struct {
	Type     string   `json:"type"`
	Column   string   `json:"column"`
	Severity string   `json:"severity,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
	Values   []string `json:"values,omitempty"`
	Format   string   `json:"format,omitempty"`
}

type rulesDoc struct {
	Rules []ruleSpec `json:"rules"`
}

// RulesFromJSON builds the rule set from a configuration document.
func RulesFromJSON(data []byte) ([]Rule, error) {
	var doc rulesDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedInput, "rules document is not valid JSON")
	}
	if len(doc.Rules) == 0 {
		return nil, errors.New(errors.CodeMalformedInput, "rules document has no rules")
	}

	rules := make([]Rule, 0, len(doc.Rules))
	for i, spec := range doc.Rules {
		rule, err := buildRule(spec)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeMalformedInput, "invalid rule").
				WithContext("index", i)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func buildRule(spec ruleSpec) (Rule, error) {
	if spec.Column == "" {
		return nil, errors.New(errors.CodeMalformedInput, "rule has no column")
	}
	sev, err := ParseSeverity(spec.Severity)
	if err != nil {
		return nil, err
	}

	switch spec.Type {
	case "not_null":
		return NewNotNullRule(spec.Column).WithSeverity(sev), nil
	case "range":
		r := NewRangeRule(spec.Column).WithSeverity(sev)
		if spec.Min != nil {
			r.Min(*spec.Min)
		}
		if spec.Max != nil {
			r.Max(*spec.Max)
		}
		return r, nil
	case "regex":
		r, err := NewRegexRule(spec.Column, spec.Pattern)
		if err != nil {
			return nil, err
		}
		return r.WithSeverity(sev), nil
	case "in_set":
		if len(spec.Values) == 0 {
			return nil, errors.New(errors.CodeMalformedInput, "in_set rule has no values")
		}
		return NewInSetRule(spec.Column, spec.Values).WithSeverity(sev), nil
	case "length":
		r := NewLengthRule(spec.Column).WithSeverity(sev)
		if spec.Min != nil {
			r.Min(int(*spec.Min))
		}
		if spec.Max != nil {
			r.Max(int(*spec.Max))
		}
		return r, nil
	case "date_format":
		if spec.Format == "" {
			return nil, errors.New(errors.CodeMalformedInput, "date_format rule has no format")
		}
		return NewDateFormatRule(spec.Column, spec.Format).WithSeverity(sev), nil
	case "unique":
		return NewUniqueRule(spec.Column).WithSeverity(sev), nil
	default:
		return nil, errors.New(errors.CodeMalformedInput, "unknown rule type").
			WithContext("type", spec.Type)
	}
}
