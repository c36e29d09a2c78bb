// Package reply produces the automated agent's answers from a per-language
// rule table.
package reply

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// CategoryOrder is the fixed trial order of canned-response categories.
// Every language must declare exactly these, in this order.
var CategoryOrder = []string{
	"greeting", "apartment", "villa", "rental", "purchase", "price", "contact", "thanks",
}

// Plural rules select a form key ("one", "few", "many", "other") for a count.
const (
	PluralOneOther     = "one_other"      // 1 → one
	PluralZeroOneOther = "zero_one_other" // 0, 1 → one
	PluralOneFewMany   = "one_few_many"   // East Slavic rules
	PluralInvariant    = "invariant"
)

// Category is one keyword category and its canned template.
type Category struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Template string   `yaml:"template"`
}

// ListingStrings are the localized pieces of a listing answer.
type ListingStrings struct {
	Header string            `yaml:"header"`
	More   string            `yaml:"more"`
	Prompt string            `yaml:"prompt"`
	Types  map[string]string `yaml:"types"`
	Rooms  map[string]string `yaml:"rooms"`
}

// LanguageRules holds every string the generator needs for one language.
type LanguageRules struct {
	PluralRule string         `yaml:"plural_rule"`
	Categories []Category     `yaml:"categories"`
	Fallback   string         `yaml:"fallback"`
	NoMatch    string         `yaml:"no_match"`
	Apology    string         `yaml:"apology"`
	Listings   ListingStrings `yaml:"listings"`
}

// RuleSet is the full table keyed by language tag.
type RuleSet struct {
	Default   string                   `yaml:"default"`
	Icons     map[string]string        `yaml:"icons"`
	Languages map[string]LanguageRules `yaml:"languages"`
}

// DefaultRules returns the embedded rule table.
func DefaultRules() *RuleSet {
	rs, err := ParseRules(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded reply rules: %v", err))
	}
	return rs
}

// LoadRules reads a rule table from a YAML file. An empty path returns the
// embedded table.
func LoadRules(path string) (*RuleSet, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reply rules: %w", err)
	}
	rs, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Printf("[Reply] ✅ Loaded rules for %d languages from %s", len(rs.Languages), path)
	return rs, nil
}

// ParseRules decodes and validates a YAML rule table.
func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse reply rules: %w", err)
	}
	if err := rs.validate(); err != nil {
		return nil, err
	}
	for lang, lr := range rs.Languages {
		for i := range lr.Categories {
			for j, kw := range lr.Categories[i].Keywords {
				lr.Categories[i].Keywords[j] = strings.ToLower(kw)
			}
		}
		rs.Languages[lang] = lr
	}
	return &rs, nil
}

func (rs *RuleSet) validate() error {
	if len(rs.Languages) == 0 {
		return fmt.Errorf("reply rules: no languages")
	}
	if _, ok := rs.Languages[rs.Default]; !ok {
		return fmt.Errorf("reply rules: default language %q not defined", rs.Default)
	}
	for lang, lr := range rs.Languages {
		if len(lr.Categories) != len(CategoryOrder) {
			return fmt.Errorf("reply rules %s: want %d categories, got %d", lang, len(CategoryOrder), len(lr.Categories))
		}
		for i, c := range lr.Categories {
			if c.Name != CategoryOrder[i] {
				return fmt.Errorf("reply rules %s: category %d is %q, want %q", lang, i, c.Name, CategoryOrder[i])
			}
		}
		switch lr.PluralRule {
		case PluralOneOther, PluralZeroOneOther, PluralOneFewMany, PluralInvariant:
		default:
			return fmt.Errorf("reply rules %s: unknown plural rule %q", lang, lr.PluralRule)
		}
		if lr.Fallback == "" || lr.NoMatch == "" || lr.Apology == "" {
			return fmt.Errorf("reply rules %s: fallback, no_match and apology are required", lang)
		}
	}
	return nil
}

// Lang returns the rules for lang, falling back to the default language.
func (rs *RuleSet) Lang(lang string) LanguageRules {
	if lr, ok := rs.Languages[lang]; ok {
		return lr
	}
	return rs.Languages[rs.Default]
}

// PluralForm returns the form key for n under rule.
func PluralForm(rule string, n int) string {
	switch rule {
	case PluralOneOther:
		if n == 1 {
			return "one"
		}
	case PluralZeroOneOther:
		if n == 0 || n == 1 {
			return "one"
		}
	case PluralOneFewMany:
		mod10, mod100 := n%10, n%100
		switch {
		case mod10 == 1 && mod100 != 11:
			return "one"
		case mod10 >= 2 && mod10 <= 4 && (mod100 < 12 || mod100 > 14):
			return "few"
		default:
			return "many"
		}
	}
	return "other"
}

var templatePattern = regexp.MustCompile(`\{(\w+)\}`)

// RenderTemplate replaces {key} placeholders with values from data.
// Unknown placeholders are left as they are.
func RenderTemplate(template string, data map[string]any) string {
	return templatePattern.ReplaceAllStringFunc(template, func(match string) string {
		val, ok := data[match[1:len(match)-1]]
		if !ok {
			return match
		}
		return fmt.Sprintf("%v", val)
	})
}
