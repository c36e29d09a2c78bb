package store

import (
	"context"
	"log"
	"time"

	"github.com/dayuer/estatedesk/internal/listing"
)

// SampleListings are shown on a fresh install so that listing queries have
// something to answer with.
func SampleListings(now time.Time) []listing.Listing {
	return []listing.Listing{
		{
			SourceMessageID: "sample-1",
			RawText:         "🏠 Beautiful 2-bedroom apartment in Sahl Hasheesh\n💰 Price: $45,000\n📍 Area: Sahl Hasheesh\n🛏️ 2 bedrooms, 2 bathrooms\n✨ Sea view, fully furnished",
			PropertyType:    listing.TypeApartment,
			RoomCount:       listing.Int(2),
			Price:           listing.Float(45000),
			Area:            listing.String("Sahl Hasheesh"),
			ParsedAt:        now,
		},
		{
			SourceMessageID: "sample-2",
			RawText:         "🏖️ Luxury 3-bedroom villa in El Gouna\n💰 Price: $120,000\n📍 Area: El Gouna\n🛏️ 3 bedrooms, 3 bathrooms\n🏊 Private pool, garden",
			PropertyType:    listing.TypeVilla,
			RoomCount:       listing.Int(3),
			Price:           listing.Float(120000),
			Area:            listing.String("El Gouna"),
			ParsedAt:        now,
		},
		{
			SourceMessageID: "sample-3",
			RawText:         "🏠 Cozy 1-bedroom apartment for rent\n💰 Price: $400/month\n📍 Area: Hurghada Center\n🛏️ 1 bedroom, 1 bathroom\n✨ Near the beach",
			PropertyType:    listing.TypeRent,
			RoomCount:       listing.Int(1),
			Price:           listing.Float(400),
			Area:            listing.String("Hurghada Center"),
			ParsedAt:        now,
		},
	}
}

// SeedIfEmpty stores the sample listings when the repository has none.
// Returns the number of listings written.
func SeedIfEmpty(ctx context.Context, repo Repository) (int, error) {
	stats, err := repo.Stats(ctx)
	if err != nil {
		return 0, err
	}
	if stats.Listings > 0 {
		return 0, nil
	}
	samples := SampleListings(time.Now().UTC())
	for _, l := range samples {
		if _, err := repo.SaveListing(ctx, l); err != nil {
			return 0, err
		}
	}
	log.Printf("[Store] ✅ Seeded %d sample listings", len(samples))
	return len(samples), nil
}
