package quality

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/fileforge/fileforge/pkg/errors"
	"github.com/fileforge/fileforge/pkg/store"
	"github.com/fileforge/fileforge/pkg/telemetry"
	"github.com/fileforge/fileforge/pkg/workbook"
)

// maxSampleMessages bounds the violation samples kept per rule.
const maxSampleMessages = 5

// RuleReport summarizes one rule over the whole dataset.
type RuleReport struct {
	Rule       string   `json:"rule"`
	Column     string   `json:"column"`
	Severity   string   `json:"severity"`
	Checked    int64    `json:"checked"`
	Violations int64    `json:"violations"`
	Passed     bool     `json:"passed"`
	Samples    []string `json:"samples,omitempty"`
}

// Report is the full evaluation payload.
type Report struct {
	Dataset  string       `json:"dataset"`
	RowCount int64        `json:"rowCount"`
	Results  []RuleReport `json:"results"`
	Passed   bool         `json:"passed"`
}

// Evaluate runs a JSON rule configuration against one dataset and
// returns the canonical report payload. Rule columns must exist in the
// dataset schema.
func Evaluate(ctx context.Context, wb *workbook.Workbook, name string, rulesJSON []byte) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "quality.evaluate")
	defer span.End()

	rules, err := RulesFromJSON(rulesJSON)
	if err != nil {
		return "", err
	}

	meta, ok := wb.Dataset(name)
	if !ok {
		return "", errors.UnknownDataset(name)
	}

	colIndex := make(map[string]int, len(meta.Columns))
	for i, c := range meta.Columns {
		colIndex[c.Name] = i
	}
	for _, r := range rules {
		if _, ok := colIndex[r.Column()]; !ok {
			return "", errors.New(errors.CodeMalformedInput, "rule references unknown column").
				WithContext("column", r.Column()).
				WithContext("dataset", meta.TechnicalName)
		}
	}

	st := wb.Store()
	rows, err := st.Query(ctx, "SELECT * FROM "+store.QuoteIdent(meta.TechnicalName))
	if err != nil {
		return "", err
	}
	defer rows.Close()

	schema := rows.Columns()
	reports := make([]RuleReport, len(rules))
	for i, r := range rules {
		reports[i] = RuleReport{
			Rule:   r.Name(),
			Column: r.Column(),
			Passed: true,
		}
	}

	values := make([]interface{}, len(schema))
	ptrs := make([]interface{}, len(schema))
	for i := range values {
		ptrs[i] = &values[i]
	}

	var rowCount int64
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return "", errors.SQLError(err)
		}
		rowCount++
		for i, r := range rules {
			res := r.Validate(values[colIndex[r.Column()]])
			rep := &reports[i]
			rep.Checked++
			rep.Severity = res.Severity.String()
			if res.Valid {
				continue
			}
			rep.Violations++
			rep.Passed = false
			if len(rep.Samples) < maxSampleMessages {
				rep.Samples = append(rep.Samples,
					fmt.Sprintf("row %d: %s", rowCount, res.Message))
			}
		}
	}
	if err := rows.Err(); err != nil {
		return "", errors.SQLError(err)
	}

	// A rule that checked nothing still reports its severity.
	for i, r := range rules {
		if reports[i].Severity == "" {
			reports[i].Severity = r.Validate(nil).Severity.String()
		}
	}

	out := Report{
		Dataset:  meta.TechnicalName,
		RowCount: rowCount,
		Results:  reports,
		Passed:   true,
	}
	for _, rep := range reports {
		if !rep.Passed {
			out.Passed = false
			break
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "report encoding failed")
	}
	return string(data), nil
}
