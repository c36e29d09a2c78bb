package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/estatedesk/internal/listing"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		text, want string
	}{
		{"hello квартира", LangRU},
		{"Привет!", LangRU},
		{"مرحبا، أريد شقة", LangAR},
		{"Hallo, ich suche eine Wohnung", LangDE},
		{"Bonjour, je cherche un appartement", LangFR},
		{"Merci!", LangFR},
		{"Quel est le prix?", LangFR},
		{"best location for a villa", LangEN},
		{"commercial apartment", LangEN},
		{"Hi, show me villas under 100000", LangEN},
		{"Can I talk to a manager?", LangEN},
		{"", LangEN},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.text))
		})
	}
}

func TestDetectLanguage_PriorityRussianBeforeArabic(t *testing.T) {
	assert.Equal(t, LangRU, DetectLanguage("مرحبا спасибо"))
}

func TestDetectListingQuery_NoKeyword(t *testing.T) {
	assert.Nil(t, DetectListingQuery("Hello there, how are you?"))
	assert.Nil(t, DetectListingQuery("thanks!"))
}

func TestDetectListingQuery_VillaUnderPrice(t *testing.T) {
	f := DetectListingQuery("Hi, show me villas under 100000")
	require.NotNil(t, f)
	assert.Equal(t, listing.TypeVilla, f.PropertyType)
	require.NotNil(t, f.PriceMax)
	assert.Equal(t, 100000.0, *f.PriceMax)
	assert.Nil(t, f.RoomCount)
	assert.Nil(t, f.PriceMin)
}

func TestDetectListingQuery_Rooms(t *testing.T) {
	f := DetectListingQuery("I need a 2 bedroom apartment below $60,000")
	require.NotNil(t, f)
	assert.Equal(t, listing.TypeApartment, f.PropertyType)
	require.NotNil(t, f.RoomCount)
	assert.Equal(t, 2, *f.RoomCount)
	require.NotNil(t, f.PriceMax)
	assert.Equal(t, 60000.0, *f.PriceMax)
}

func TestDetectListingQuery_Russian(t *testing.T) {
	f := DetectListingQuery("Хочу снять квартиру до 500")
	require.NotNil(t, f)
	assert.Equal(t, listing.TypeApartment, f.PropertyType)
	require.NotNil(t, f.PriceMax)
	assert.Equal(t, 500.0, *f.PriceMax)
}

func TestDetectListingQuery_KeywordWithoutType(t *testing.T) {
	f := DetectListingQuery("I want to buy property")
	require.NotNil(t, f)
	assert.Equal(t, listing.Type(""), f.PropertyType)
	assert.True(t, f.IsEmpty())
}

func TestClassify(t *testing.T) {
	in := Classify("Покажите виллы")
	assert.Equal(t, LangRU, in.Language)
	require.NotNil(t, in.ListingQuery)
	assert.Equal(t, listing.TypeVilla, in.ListingQuery.PropertyType)

	in = Classify("Thank you!")
	assert.Equal(t, LangEN, in.Language)
	assert.Nil(t, in.ListingQuery)
}
