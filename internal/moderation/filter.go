package moderation

import (
	"strings"
)

// blockedTerms is the default deny list applied to profile fields and
// relayed messages. Matching is case-insensitive on whole words.
var blockedTerms = []string{
	"bitcoin",
	"crypto",
	"onlyfans",
	"telegram.me",
	"t.me/",
	"http://",
	"https://",
}

// Filter screens free-text input against a term deny list.
type Filter struct {
	terms []string
}

// NewFilter creates a filter with the default deny list.
func NewFilter() *Filter {
	return &Filter{terms: blockedTerms}
}

// NewFilterWithTerms creates a filter with a custom deny list.
func NewFilterWithTerms(terms []string) *Filter {
	return &Filter{terms: terms}
}

// Screen returns the matched term if the text contains one, or "" if clean.
func (f *Filter) Screen(text string) string {
	lower := strings.ToLower(text)
	for _, term := range f.terms {
		if strings.Contains(lower, term) {
			return term
		}
	}
	return ""
}
