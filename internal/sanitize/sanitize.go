// Package sanitize reduces gateway result HTML to storable text.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Tags that carry no result content and are removed wholesale.
var junkTags = "script, style, form, meta"

// Editor widget classes whose subtrees are noise.
var junkClasses = "div.parametervalue, div.combobox-parameter, div.input-area"

// Attributes dropped from every remaining element.
var junkAttrs = []string{"style", "class", "id", "data-mce-style"}

var blankLines = regexp.MustCompile(`\n\s*\n`)

// Cleaner strips editor markup from result payloads so that identical results
// hash identically regardless of upstream styling churn.
type Cleaner struct{}

// New returns a Cleaner.
func New() *Cleaner {
	return &Cleaner{}
}

// Clean parses the fragment and returns the reduced markup.
func (Cleaner) Clean(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse result html: %w", err)
	}

	doc.Find(junkTags).Remove()
	doc.Find(junkClasses).Remove()

	// Unwrap bare span/div wrappers so nesting depth does not affect the hash.
	doc.Find("span, div").Each(func(_ int, s *goquery.Selection) {
		if len(s.Nodes) > 0 && len(s.Nodes[0].Attr) == 0 {
			s.ReplaceWithSelection(s.Contents())
		}
	})

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range junkAttrs {
			s.RemoveAttr(attr)
		}
	})

	body, err := doc.Find("body").Html()
	if err != nil {
		return "", fmt.Errorf("render result html: %w", err)
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(body, "\n")), nil
}
