package reply

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dayuer/estatedesk/internal/intent"
	"github.com/dayuer/estatedesk/internal/listing"
	"github.com/dayuer/estatedesk/internal/utils"
)

const (
	// MaxListed is the number of listings rendered in one answer.
	MaxListed = 5
	// DescriptionLength caps each rendered listing description.
	DescriptionLength = 100
)

// Querier looks up listings for a filter.
type Querier interface {
	QueryListings(ctx context.Context, f listing.Filter) ([]listing.Listing, error)
}

// Generator renders replies for classified messages.
type Generator struct {
	rules    *RuleSet
	listings Querier
}

// NewGenerator creates a Generator. A nil rule set uses the embedded table.
func NewGenerator(rules *RuleSet, listings Querier) *Generator {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Generator{rules: rules, listings: listings}
}

// Generate returns the reply for text classified as in. Only listing lookups
// can fail.
func (g *Generator) Generate(ctx context.Context, in intent.Intent, text string) (string, error) {
	lr := g.rules.Lang(in.Language)
	if in.ListingQuery != nil {
		found, err := g.listings.QueryListings(ctx, *in.ListingQuery)
		if err != nil {
			return "", fmt.Errorf("query listings: %w", err)
		}
		return g.formatListings(lr, found), nil
	}
	return g.canned(lr, text), nil
}

// Apology is the generic retry message for lang.
func (g *Generator) Apology(lang string) string {
	return g.rules.Lang(lang).Apology
}

func (g *Generator) canned(lr LanguageRules, text string) string {
	lower := strings.ToLower(text)
	for _, c := range lr.Categories {
		for _, kw := range c.Keywords {
			if strings.Contains(lower, kw) {
				return c.Template
			}
		}
	}
	return lr.Fallback
}

func (g *Generator) formatListings(lr LanguageRules, found []listing.Listing) string {
	if len(found) == 0 {
		return lr.NoMatch
	}
	ls := lr.Listings

	var b strings.Builder
	b.WriteString(RenderTemplate(ls.Header, map[string]any{"count": len(found)}))
	b.WriteString("\n\n")

	for i, l := range found {
		if i == MaxListed {
			break
		}
		fmt.Fprintf(&b, "%d. %s %s", i+1, g.icon(l.PropertyType), typeLabel(ls, l.PropertyType))
		if l.RoomCount != nil && *l.RoomCount > 0 {
			b.WriteString(" - ")
			b.WriteString(roomLabel(lr, *l.RoomCount))
		}
		if l.Price != nil && *l.Price > 0 {
			b.WriteString(" - $")
			b.WriteString(FormatPrice(*l.Price))
		}
		if l.Area != nil && *l.Area != "" {
			b.WriteString(" - ")
			b.WriteString(*l.Area)
		}
		b.WriteString("\n")
		b.WriteString(utils.TruncateRunes(l.RawText, DescriptionLength, "..."))
		b.WriteString("\n\n")
	}

	if len(found) > MaxListed {
		b.WriteString(RenderTemplate(ls.More, map[string]any{"more": len(found) - MaxListed}))
		b.WriteString("\n\n")
	}
	b.WriteString(ls.Prompt)
	return b.String()
}

func (g *Generator) icon(t listing.Type) string {
	if ic, ok := g.rules.Icons[string(t)]; ok {
		return ic
	}
	return g.rules.Icons["default"]
}

func typeLabel(ls ListingStrings, t listing.Type) string {
	if label, ok := ls.Types[string(t)]; ok {
		return label
	}
	return ls.Types[string(listing.TypeUnknown)]
}

func roomLabel(lr LanguageRules, n int) string {
	form, ok := lr.Listings.Rooms[PluralForm(lr.PluralRule, n)]
	if !ok {
		form = lr.Listings.Rooms["other"]
	}
	return RenderTemplate(form, map[string]any{"n": n})
}

// FormatPrice renders v with comma thousands separators and at most two
// decimals, e.g. 120000 → "120,000" and 1250.5 → "1,250.5".
func FormatPrice(v float64) string {
	v = math.Round(v*100) / 100
	whole := int64(v)
	frac := v - float64(whole)

	digits := strconv.FormatInt(whole, 10)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	if frac > 0 {
		fs := strconv.FormatFloat(frac, 'f', 2, 64) // "0.50"
		if s := strings.TrimRight(fs[1:], "0"); s != "." {
			b.WriteString(s)
		}
	}
	return b.String()
}
