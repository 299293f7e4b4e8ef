package processor

import (
	"fmt"
	"strings"

	"inspectwatch/config"
	"inspectwatch/inference"
	"inspectwatch/types"
)

// Decision is the outcome of mapping a prediction onto a status
type Decision struct {
	Status types.Status
	// Matched is false when no keyword matched and nok was assumed
	Matched bool
	Label   string
	Reason  string
}

// StatusRule maps a model class name to ok/nok with ordered keyword lists
type StatusRule struct {
	logic config.StatusLogic
}

// NewStatusRule creates a rule; statuses are tried in the order given
func NewStatusRule(logic config.StatusLogic) *StatusRule {
	normalized := make(config.StatusLogic, 0, len(logic))
	for _, entry := range logic {
		keywords := make([]string, 0, len(entry.Keywords))
		for _, k := range entry.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				keywords = append(keywords, k)
			}
		}
		normalized = append(normalized, config.StatusKeywords{Status: entry.Status, Keywords: keywords})
	}
	return &StatusRule{logic: normalized}
}

// Match returns the first status with a keyword contained in label, case-insensitively
func (r *StatusRule) Match(label string) (types.Status, bool) {
	label = strings.ToLower(label)
	for _, entry := range r.logic {
		for _, k := range entry.Keywords {
			if strings.Contains(label, k) {
				return entry.Status, true
			}
		}
	}
	return "", false
}

// Classify maps a prediction to a status. Every class name of the prediction is
// considered: the first status, in rule order, that any name matches wins, so a
// single defect among several detections scores the piece nok under the default
// rules. A prediction without a usable label, or whose labels match no keyword,
// is scored nok with Matched set to false.
func (r *StatusRule) Classify(pred *inference.Prediction) Decision {
	names := pred.ClassNames()
	if len(names) == 0 {
		return Decision{Status: types.StatusNOK, Reason: "model output has no class label"}
	}

	lowered := make([]string, len(names))
	for i, n := range names {
		lowered[i] = strings.ToLower(n)
	}
	for _, entry := range r.logic {
		for _, k := range entry.Keywords {
			for i, name := range lowered {
				if strings.Contains(name, k) {
					return Decision{Status: entry.Status, Matched: true, Label: names[i]}
				}
			}
		}
	}

	return Decision{
		Status: types.StatusNOK,
		Label:  names[0],
		Reason: fmt.Sprintf("classes %q match no status keyword", names),
	}
}

// Unrecognized is the decision for a model reply of unknown shape
func Unrecognized(err error) Decision {
	return Decision{Status: types.StatusNOK, Reason: fmt.Sprintf("unrecognized model output: %v", err)}
}
