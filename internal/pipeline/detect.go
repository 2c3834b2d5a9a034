package pipeline

import (
	"regexp"
	"strings"
)

type DetectResult struct {
	IsTender bool
	Score    float64
	Reason   string
}

var detectKeywords = []string{
	"load tender", "tender", "pickup", "pick up", "delivery", "shipper", "consignee",
	"bol", "po #", "load #", "rate confirmation", "pallets", "appointment", "reefer",
}

var (
	detectWeight    = regexp.MustCompile(`(?i)\b\d[\d,]*\s*(?:lbs?|pounds|kgs?)\b`)
	detectReference = regexp.MustCompile(`\b[A-Z]{0,4}\d{5,}\b`)
)

// DetectLoadTender scores how likely a message is a load tender. Keyword
// hits in the subject weigh twice as much as hits in the body.
func DetectLoadTender(subject, text string, attachmentNames []string, threshold float64) DetectResult {
	subject = strings.ToLower(subject)
	lower := strings.ToLower(text)

	score := 0.0
	for _, kw := range detectKeywords {
		if strings.Contains(subject, kw) {
			score += 0.2
		}
		if strings.Contains(lower, kw) {
			score += 0.1
		}
	}

	if detectWeight.MatchString(text) {
		score += 0.2
	}
	if refs := detectReference.FindAllString(text, 3); len(refs) >= 2 {
		score += 0.2
	} else if len(refs) == 1 {
		score += 0.1
	}

	for _, name := range attachmentNames {
		ln := strings.ToLower(name)
		if strings.HasSuffix(ln, ".xlsx") || strings.HasSuffix(ln, ".xls") || strings.HasSuffix(ln, ".pdf") {
			score += 0.15
			break
		}
	}
	if score > 1 {
		score = 1
	}

	isTender := score >= threshold
	reason := "rules_negative"
	if isTender {
		reason = "rules_positive"
	}
	return DetectResult{IsTender: isTender, Score: score, Reason: reason}
}
