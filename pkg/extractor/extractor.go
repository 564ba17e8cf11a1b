// Package extractor turns a free-form Arabic expense sentence into a structured expense.
package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/ArionMiles/masrouf/pkg/api"
)

// Pattern names, in priority order.
const (
	PatternSpent  = "spent"
	PatternPaid   = "paid"
	PatternBought = "bought"
	PatternDinar  = "dinar"
	PatternDZD    = "dzd"
	PatternBare   = "bare"
)

const (
	// amountExpr captures an optional sign so that "-5" is read as a
	// negative amount and rejected, instead of matching the trailing "5".
	// The sign only counts at the start of the text or after whitespace:
	// "2024-10" reads 10.
	amountExpr = `(-?\d+(?:\.\d+)?)`
	// tailExpr captures the category (non-greedy) and optional notes,
	// anchored at the end of the input.
	tailExpr = `\s+(.+?)(?:\s+لـ)?(?:\s+(.+))?$`
)

// fillerWords are currency and preposition tokens removed from a category phrase.
var fillerWords = []string{"دينار", "د.ج", "جنيه", "ريال", "درهم", "على", "في", "من"}

type rule struct {
	name string
	re   *regexp.Regexp
}

// Extractor holds the ordered pattern table. It is immutable after New and safe for concurrent use.
type Extractor struct {
	rules   []rule
	fillers map[string]struct{}
}

// New creates an Extractor with the fixed six-pattern table.
func New() *Extractor {
	rules := []rule{
		{PatternSpent, regexp.MustCompile(`(?i)صرفت?\s+` + amountExpr + tailExpr)},
		{PatternPaid, regexp.MustCompile(`(?i)دفعت?\s+` + amountExpr + tailExpr)},
		{PatternBought, regexp.MustCompile(`(?i)اشتريت?\s+ب?` + amountExpr + tailExpr)},
		{PatternDinar, regexp.MustCompile(`(?i)` + amountExpr + `\s+دينار` + tailExpr)},
		{PatternDZD, regexp.MustCompile(`(?i)` + amountExpr + `\s+د\.ج` + tailExpr)},
		{PatternBare, regexp.MustCompile(`(?i)` + amountExpr + tailExpr)},
	}

	fillers := make(map[string]struct{}, len(fillerWords))
	for _, w := range fillerWords {
		fillers[strings.ToLower(w)] = struct{}{}
	}

	return &Extractor{rules: rules, fillers: fillers}
}

// Patterns returns the pattern names in the order they are tried.
func (e *Extractor) Patterns() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.name)
	}
	return names
}

// Extract tries each pattern in order and returns the first match that yields
// a positive amount and a non-empty category. The bool is false when no
// pattern produced a valid expense.
func (e *Extractor) Extract(text string) (api.Extraction, bool) {
	text = prepare(text)
	if text == "" {
		return api.Extraction{}, false
	}

	for _, r := range e.rules {
		m := r.re.FindStringSubmatchIndex(text)
		if m == nil {
			continue
		}

		raw := text[m[2]:m[3]]
		if strings.HasPrefix(raw, "-") && !signed(text, m[2]) {
			raw = raw[1:]
		}
		amount, err := strconv.ParseFloat(raw, 64)
		if err != nil || amount <= 0 {
			continue
		}

		category := e.StripFillers(text[m[4]:m[5]])
		if category == "" {
			continue
		}

		var notes string
		if m[6] >= 0 {
			notes = strings.TrimSpace(text[m[6]:m[7]])
		}

		return api.Extraction{
			Amount:   amount,
			Category: category,
			Notes:    notes,
			Pattern:  r.name,
		}, true
	}

	return api.Extraction{}, false
}

// signed reports whether a minus sign at byte offset i of text is a sign
// rather than a separator such as the hyphen in "2024-10".
func signed(text string, i int) bool {
	if i == 0 {
		return true
	}
	prev, _ := utf8.DecodeLastRuneInString(text[:i])
	return unicode.IsSpace(prev)
}

// StripFillers removes currency and preposition tokens from a category phrase
// and returns the cleaned label.
func (e *Extractor) StripFillers(phrase string) string {
	fields := strings.Fields(phrase)
	kept := fields[:0]
	for _, f := range fields {
		if _, filler := e.fillers[strings.ToLower(f)]; filler {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// CleanLabel normalizes a category label for registry comparison: NFC form,
// inner whitespace collapsed, surrounding whitespace trimmed.
func CleanLabel(label string) string {
	return strings.Join(strings.Fields(norm.NFC.String(label)), " ")
}

// prepare trims the input, normalizes it to NFC and maps non-ASCII spaces
// (e.g. NBSP) to a plain space so the patterns' \s classes see them.
func prepare(text string) string {
	text = norm.NFC.String(strings.TrimSpace(text))
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII && unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, text)
}
