// Package crossbrowser classifies how widely a fingerprint fails
// across the configured browser matrix.
package crossbrowser

import (
	"fmt"
	"strings"
)

// Spread is the universality verdict for a fingerprint.
type Spread string

const (
	// SpreadUniversal means the failure was seen on at least three
	// distinct browser/device configurations.
	SpreadUniversal Spread = "universal"

	// SpreadPartial means the failure was seen on more than one but
	// fewer than three configurations.
	SpreadPartial Spread = "partial"

	// SpreadSingle means the failure was only ever seen on one
	// configuration.
	SpreadSingle Spread = "single-browser"
)

// universalThreshold is the distinct-browser count at which a failure
// counts as universal.
const universalThreshold = 3

// Verdict combines the spread classification with operator guidance.
// Only Spread feeds priority computation; Hypothesis is advisory text
// and carries no control-flow weight.
type Verdict struct {
	Spread     Spread `json:"spread"`
	Hypothesis string `json:"hypothesis,omitempty"`
}

// Analyze classifies the browser set a fingerprint has been seen
// failing on. matrixSize is the configured number of browser projects;
// it only informs the hypothesis text.
func Analyze(browsersSeen []string, matrixSize int) Verdict {
	distinct := make(map[string]struct{}, len(browsersSeen))
	for _, b := range browsersSeen {
		if b != "" {
			distinct[b] = struct{}{}
		}
	}

	switch {
	case len(distinct) >= universalThreshold:
		return Verdict{
			Spread: SpreadUniversal,
			Hypothesis: fmt.Sprintf(
				"fails on %d of %d configurations; likely application logic, not browser-specific",
				len(distinct), matrixSize,
			),
		}
	case len(distinct) <= 1:
		return Verdict{
			Spread:     SpreadSingle,
			Hypothesis: singleBrowserHypothesis(browsersSeen),
		}
	default:
		return Verdict{
			Spread: SpreadPartial,
			Hypothesis: fmt.Sprintf(
				"fails on %d of %d configurations; check shared engine or viewport traits",
				len(distinct), matrixSize,
			),
		}
	}
}

// singleBrowserHypothesis names the implicated browser family for a
// failure confined to one configuration.
func singleBrowserHypothesis(browsersSeen []string) string {
	if len(browsersSeen) == 0 {
		return "no browser recorded for this failure yet"
	}

	browser := strings.ToLower(browsersSeen[0])

	switch {
	case strings.Contains(browser, "webkit") || strings.Contains(browser, "safari"):
		return "only fails on WebKit; suspect engine-specific rendering or date/intl behavior"
	case strings.Contains(browser, "firefox"):
		return "only fails on Firefox; suspect Gecko-specific layout or event timing"
	case strings.Contains(browser, "mobile") || strings.Contains(browser, "android") ||
		strings.Contains(browser, "iphone"):
		return "only fails on a mobile profile; suspect viewport size or touch interaction"
	default:
		return fmt.Sprintf("only fails on %s; suspect browser-specific behavior", browsersSeen[0])
	}
}
