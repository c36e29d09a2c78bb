package listing

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dayuer/estatedesk/internal/utils"
)

// PreviewLength is the number of characters of the source text kept on a listing.
const PreviewLength = 200

var typeKeywords = []struct {
	t        Type
	keywords []string
}{
	{TypeApartment, []string{"apartment", "апартамент", "квартир"}},
	{TypeVilla, []string{"villa", "вилл", "дом"}},
	{TypeRent, []string{"rent", "аренд", "снять"}},
}

// Tried in order, first match wins.
var roomPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+)\s*(bed|room|комнат|спален)`),
	regexp.MustCompile(`(?i)(\d+)\s*br`),
	regexp.MustCompile(`(?i)(\d+)\s*bedroom`),
}

var pricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$(\d+(?:,\d{3})*(?:\.\d{2})?)`),
	regexp.MustCompile(`(?i)(\d+(?:,\d{3})*(?:\.\d{2})?)\s*usd`),
	regexp.MustCompile(`(?i)(\d+(?:,\d{3})*(?:\.\d{2})?)\s*доллар`),
	regexp.MustCompile(`(?m)(\d+(?:,\d{3})*(?:\.\d{2})?)\s*$`),
}

// RE2 has no Unicode word boundary, so "в" is anchored on a non-letter by hand.
var areaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bin\s+([^,\n]+)`),
	regexp.MustCompile(`(?i)(?:^|[^\p{L}])в\s+([^,\n]+)`),
	regexp.MustCompile(`(?i)area:\s*([^,\n]+)`),
	regexp.MustCompile(`(?i)район:\s*([^,\n]+)`),
}

// areaPriceTail matches a price that runs on after the area name, as in
// "in El Gouna $120,000".
var areaPriceTail = regexp.MustCompile(`(?i)\s*(?:\$|\d[\d,.]*\s*(?:usd|доллар)).*$`)

// DetectType returns the first property category whose keywords occur in
// text, checked in the fixed order apartment, villa, rent.
func DetectType(text string) Type {
	lower := strings.ToLower(text)
	for _, tk := range typeKeywords {
		for _, kw := range tk.keywords {
			if strings.Contains(lower, kw) {
				return tk.t
			}
		}
	}
	return TypeUnknown
}

// ParseRooms returns the bedroom count mentioned in text, or nil.
func ParseRooms(text string) *int {
	for _, p := range roomPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return &n
			}
		}
	}
	return nil
}

// ParseAmount parses a number with optional thousands separators.
func ParseAmount(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func parsePrice(text string) *float64 {
	for _, p := range pricePatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			if v, ok := ParseAmount(m[1]); ok {
				return &v
			}
		}
	}
	return nil
}

func parseArea(text string) *string {
	for _, p := range areaPatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		area := strings.TrimSpace(areaPriceTail.ReplaceAllString(m[1], ""))
		if area == "" {
			continue
		}
		return &area
	}
	return nil
}

// Extract parses free-text broadcast content into a Listing. It never fails:
// anything it cannot recognise is left absent or unknown. ID, SourceMessageID
// and ParsedAt are left for the caller.
func Extract(rawText string) Listing {
	return Listing{
		RawText:      utils.TruncateRunes(rawText, PreviewLength, "..."),
		PropertyType: DetectType(rawText),
		RoomCount:    ParseRooms(rawText),
		Price:        parsePrice(rawText),
		Area:         parseArea(rawText),
	}
}
