package listing

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dayuer/estatedesk/internal/utils"
)

// Saver persists listings, replacing any earlier listing with the same
// SourceMessageID.
type Saver interface {
	SaveListing(ctx context.Context, l Listing) (int64, error)
}

// Indexer turns broadcast posts into stored listings.
type Indexer struct {
	saver Saver
	now   func() time.Time
}

// NewIndexer creates an Indexer writing through saver.
func NewIndexer(saver Saver) *Indexer {
	return &Indexer{saver: saver, now: time.Now}
}

// Index extracts a listing from text and upserts it under sourceMessageID.
// Posts without text are skipped.
func (ix *Indexer) Index(ctx context.Context, sourceMessageID, text string) (Listing, error) {
	if strings.TrimSpace(text) == "" {
		return Listing{}, nil
	}
	if sourceMessageID == "" {
		return Listing{}, fmt.Errorf("index listing: empty source message id")
	}

	l := Extract(text)
	l.SourceMessageID = sourceMessageID
	l.ParsedAt = ix.now().UTC()

	id, err := ix.saver.SaveListing(ctx, l)
	if err != nil {
		return l, fmt.Errorf("index listing %s: %w", sourceMessageID, err)
	}
	l.ID = id

	log.Printf("[Listing] ✅ Indexed %s: %s rooms=%s price=%s (%s)",
		sourceMessageID, l.PropertyType, fmtInt(l.RoomCount), fmtFloat(l.Price),
		utils.TruncateRunes(text, 60, "..."))
	return l, nil
}

func fmtInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func fmtFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}
