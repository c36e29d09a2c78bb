// Package intent classifies inbound chat text: which language it is written
// in and whether it asks for listings. Matching is keyword and pattern based.
package intent

import (
	"regexp"
	"strings"

	"github.com/dayuer/estatedesk/internal/listing"
)

// Language tags.
const (
	LangEN = "en"
	LangRU = "ru"
	LangAR = "ar"
	LangDE = "de"
	LangFR = "fr"
)

// DefaultLanguage is used when no keyword set matches.
const DefaultLanguage = LangEN

// Intent is the classification of one message.
type Intent struct {
	Language string `json:"language"`
	// ListingQuery is nil unless the message asks for listings.
	ListingQuery *listing.Filter `json:"listingQuery,omitempty"`
}

// Checked in this order; the first set with a hit wins. stems match anywhere
// in the text; words must stand alone, for keywords that also occur inside
// English words ("merci" in "commercial").
var languageKeywords = []struct {
	lang  string
	stems []string
	words *regexp.Regexp
}{
	{LangRU, []string{"привет", "здравствуйте", "квартир", "дом", "вилл", "аренд", "прода", "цена", "стоимость", "спасибо", "контакт", "менеджер"}, nil},
	{LangAR, []string{"مرحبا", "شقة", "بيت", "فيلا", "إيجار", "بيع", "سعر", "شكرا", "اتصال", "مدير"}, nil},
	{LangDE, []string{"hallo", "wohnung", "haus", "miete", "verkauf", "preis", "danke", "kontakt"}, nil},
	{LangFR, []string{"bonjour", "appartement", "maison", "gestionnaire"}, wholeWords("merci", "vente", "prix")},
}

// wholeWords matches any of words with no letter on either side.
func wholeWords(words ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:` + strings.Join(words, "|") + `)(?:$|[^\p{L}])`)
}

var listingKeywords = []string{
	"apartment", "flat", "condo", "квартир", "апартамент",
	"villa", "house", "home", "вилл", "дом",
	"rent", "rental", "lease", "аренд", "снять",
	"buy", "purchase", "sale", "прода", "купить",
	"property", "real estate", "недвижимость",
}

var priceMaxPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)under\s*\$?(\d+(?:,\d{3})*)`),
	regexp.MustCompile(`(?i)below\s*\$?(\d+(?:,\d{3})*)`),
	regexp.MustCompile(`(?i)до\s*\$?(\d+(?:,\d{3})*)`),
	regexp.MustCompile(`(?i)менее\s*\$?(\d+(?:,\d{3})*)`),
}

// Classify detects the language of text and, when it asks for listings,
// the filter to query with.
func Classify(text string) Intent {
	return Intent{
		Language:     DetectLanguage(text),
		ListingQuery: DetectListingQuery(text),
	}
}

// DetectLanguage returns the first language whose keyword set occurs in text.
func DetectLanguage(text string) string {
	lower := strings.ToLower(text)
	for _, lk := range languageKeywords {
		if containsAny(lower, lk.stems) || (lk.words != nil && lk.words.MatchString(lower)) {
			return lk.lang
		}
	}
	return DefaultLanguage
}

// DetectListingQuery returns nil unless text contains a property keyword.
func DetectListingQuery(text string) *listing.Filter {
	lower := strings.ToLower(text)
	if !containsAny(lower, listingKeywords) {
		return nil
	}

	f := &listing.Filter{RoomCount: listing.ParseRooms(text)}
	if t := listing.DetectType(lower); t != listing.TypeUnknown {
		f.PropertyType = t
	}
	for _, p := range priceMaxPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			if v, ok := listing.ParseAmount(m[1]); ok {
				f.PriceMax = &v
				break
			}
		}
	}
	return f
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
