package extract

import "regexp"

// rulePattern harvests one category of key details.
type rulePattern struct {
	key   string
	regex *regexp.Regexp
	// reject drops a match given the full text and the match bounds.
	reject func(text string, start, end int) bool
}

const currencyCodes = `(?:USD|EUR|GBP|JPY|INR|CAD|AUD|CHF)`

// rulePatterns run in this order; keys match the fields the LLM prompt asks
// for where one exists.
var rulePatterns = []rulePattern{
	{
		key:   "emails",
		regex: regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`),
	},
	{
		// DD/MM/YYYY or DD-MM-YYYY
		key:   "dates",
		regex: regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{4}\b`),
	},
	{
		// A currency symbol or code, or thousands separators. Bare numbers,
		// with or without decimals, are not amounts.
		key: "amounts",
		regex: regexp.MustCompile(
			`[$€£¥][ \t]?\d{1,3}(?:,\d{3})+(?:\.\d{2})?\b` +
				`|[$€£¥][ \t]?\d+(?:\.\d{2})?\b` +
				`|\b` + currencyCodes + `[ \t]?\d+(?:,\d{3})*(?:\.\d{2})?\b` +
				`|\b\d+(?:,\d{3})*(?:\.\d{2})?[ \t]?` + currencyCodes + `\b` +
				`|\b\d{1,3}(?:,\d{3})+(?:\.\d{2})?\b`,
		),
		reject: continuesNumber,
	},
	{
		key:   "phone_numbers",
		regex: regexp.MustCompile(`(?:\+\d{1,3}[-.\s]?)?\(?\b\d{3}\)?[-.\s]?\d{3}[-.\s]\d{4}\b`),
	},
	{
		key:   "urls",
		regex: regexp.MustCompile(`\bhttps?://[^\s<>"')\]]+[^\s<>"')\].,;:!?]`),
	},
	{
		// Capitalised words on one line ending in a company suffix.
		key:   "companies",
		regex: regexp.MustCompile(`\b[A-Z][A-Za-z0-9&]*(?:[ \t]+[A-Z][A-Za-z0-9&]*)*[ \t]+(?:Inc\.|Ltd\.|LLC\b|Corp\.)`),
	},
}

// continuesNumber reports whether the match is the head of a longer dotted
// number such as 15.07.2025 or 1.2.3.
func continuesNumber(text string, _, end int) bool {
	return end+1 < len(text) && text[end] == '.' && isDigit(text[end+1])
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// matchRules returns the deduplicated matches per category in order of first
// appearance. Categories without matches are absent.
func matchRules(text string) map[string]any {
	details := make(map[string]any)
	for _, p := range rulePatterns {
		locs := p.regex.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			continue
		}
		seen := make(map[string]struct{}, len(locs))
		uniq := make([]string, 0, len(locs))
		for _, loc := range locs {
			if p.reject != nil && p.reject(text, loc[0], loc[1]) {
				continue
			}
			m := text[loc[0]:loc[1]]
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			uniq = append(uniq, m)
		}
		if len(uniq) > 0 {
			details[p.key] = uniq
		}
	}
	return details
}
