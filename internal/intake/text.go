package intake

import (
	"regexp"
	"strings"
)

var (
	numberPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:invoice|inv|bill)\s*(?:no\.?|nr\.?|number|#)\s*[:\-]?\s*([A-Z0-9][A-Z0-9\-/\.]{3,})`),
		regexp.MustCompile(`(?i)(?:rechnungs?\s*-?\s*nr\.?|rechnungsnummer|beleg\s*nr\.?)\s*[:\-]?\s*([A-Z0-9][A-Z0-9\-/\.]{3,})`),
		regexp.MustCompile(`(?i)(?:发票号码|票据号)\s*[:：]?\s*([A-Z0-9\-]{4,})`),
		regexp.MustCompile(`\b(INV-[A-Z0-9\-]{2,})\b`),
	}

	totalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:\b(?:total\s+due|amount\s+due|grand\s+total|total|gesamtbetrag|summe)|合计)\s*[:：]?\s*(?:[A-Z]{3}|[€$£¥])?\s*([0-9][0-9.,\x{00a0} ]*[0-9])`),
	}

	duePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:\b(?:due\s+date|payment\s+due|due|zahlbar\s+bis)|fällig(?:\s+am)?|到期日)\s*[:：]?\s*([0-9]{1,4}[./\-][0-9]{1,2}[./\-][0-9]{2,4}|[A-Z][a-z]+ [0-9]{1,2}, [0-9]{4}|[0-9]{1,2} [A-Z][a-z]+ [0-9]{4})`),
	}

	currencyPattern = regexp.MustCompile(`\b(EUR|USD|GBP|CHF|CNY|USDC|USDT)\b|[€$£¥]`)
)

// Confidence assigned to fields found by pattern matching.
const textConfidence = 0.5

// draftFromText fills a draft by pattern-matching plain text.
func draftFromText(text string) *Draft {
	draft := &Draft{Confidence: make(map[string]float32)}

	if number := firstMatch(numberPatterns, text); number != "" {
		draft.InvoiceNumber = strings.TrimRight(number, ".")
		draft.Confidence["invoice_number"] = textConfidence
	}
	if raw := firstMatch(totalPatterns, text); raw != "" {
		if total, err := normalizeAmount(raw); err == nil {
			draft.Total = total
			draft.Confidence["total_amount"] = textConfidence
		}
	}
	if raw := firstMatch(duePatterns, text); raw != "" {
		if due, err := parseDate(raw); err == nil {
			draft.DueDate = due
			draft.Confidence["due_date"] = textConfidence
		}
	}
	if m := currencyPattern.FindString(text); m != "" {
		draft.Currency = normalizeCurrency(m)
		draft.Confidence["currency"] = textConfidence
	}
	return draft
}

func firstMatch(patterns []*regexp.Regexp, text string) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}
