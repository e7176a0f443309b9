// Package verdict maps raw classifier output to the verdict shown to users.
package verdict

import (
	"math"
	"regexp"
	"strings"

	"github.com/example/dust-check/internal/apperrors"
	"github.com/example/dust-check/internal/predictor"
)

// Status is the user facing condition of the panel.
type Status string

const (
	StatusClean Status = "clean"
	StatusDusty Status = "dusty"
)

const (
	DustyMessage = "Dust detected on the solar panel. Cleaning is recommended to restore its efficiency."
	CleanMessage = "The solar panel looks clean. No cleaning is needed."
)

// Verdict is the normalized classification. Percentages are nil when the
// classifier did not report them.
type Verdict struct {
	Status            Status   `json:"status"`
	Message           string   `json:"message"`
	ConfidencePercent *float64 `json:"confidence_percent,omitempty"`
	DustinessPercent  *float64 `json:"dustiness_percent,omitempty"`
}

var (
	// "not dust-free" and "not free of dust" cancel out to dust.
	doublyNegatedDust = regexp.MustCompile(`\bnot\s+(?:dust[\s-]*free|free\s+of\s+dust)\b`)
	negatedDust       = regexp.MustCompile(`\b(?:no|not|without|free\s+of)\s+dust(?:y)?\b|\bdust[\s-]*free\b`)
	dustKeyword       = regexp.MustCompile(`\bdust`)
)

// Classify derives a Verdict from a raw prediction. The label is matched
// case-insensitively; negated phrases such as "no dust" or "dust-free" do
// not count as dust.
func Classify(raw predictor.Prediction) (Verdict, error) {
	label := strings.ToLower(strings.TrimSpace(raw.Result))
	if label == "" {
		return Verdict{}, apperrors.NewClassificationError("The prediction service did not return a result")
	}

	v := Verdict{Status: StatusClean, Message: CleanMessage}
	if IsDustLabel(label) {
		v.Status = StatusDusty
		v.Message = DustyMessage
	}

	if raw.Confidence != nil {
		c := *raw.Confidence
		if math.IsNaN(c) || c < 0 || c > 1 {
			return Verdict{}, apperrors.NewClassificationError("The prediction service returned an invalid confidence score")
		}
		pct := roundPercent(c * 100)
		v.ConfidencePercent = &pct
	}
	if raw.DustinessPercentage != nil {
		d := *raw.DustinessPercentage
		if math.IsNaN(d) || d < 0 || d > 100 {
			return Verdict{}, apperrors.NewClassificationError("The prediction service returned an invalid dustiness percentage")
		}
		v.DustinessPercent = &d
	}
	return v, nil
}

// IsDustLabel reports whether a result label indicates dust.
func IsDustLabel(label string) bool {
	label = strings.ToLower(label)
	label = doublyNegatedDust.ReplaceAllString(label, " dust ")
	stripped := negatedDust.ReplaceAllString(label, " ")
	return dustKeyword.MatchString(stripped)
}

// roundPercent rounds to two decimals so 0.92*100 reads as 92.
func roundPercent(v float64) float64 {
	return math.Round(v*100) / 100
}
