// Package listing models real-estate listings parsed from channel broadcasts
// and the filters used to query them.
package listing

import (
	"fmt"
	"strings"
	"time"
)

// Type is the coarse property category of a listing.
type Type string

const (
	TypeApartment Type = "apartment"
	TypeVilla     Type = "villa"
	TypeRent      Type = "rent"
	TypeUnknown   Type = "unknown"
)

// ParseType maps a query value to a Type. The empty string is valid and
// means "any type".
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case "", TypeApartment, TypeVilla, TypeRent, TypeUnknown:
		return t, nil
	default:
		return "", fmt.Errorf("unknown property type %q", s)
	}
}

// Listing is one structured record derived from a broadcast message.
// A source message owns at most one listing.
type Listing struct {
	ID              int64     `json:"id"`
	SourceMessageID string    `json:"messageId"`
	RawText         string    `json:"text"`
	PropertyType    Type      `json:"type"`
	RoomCount       *int      `json:"rooms,omitempty"`
	Price           *float64  `json:"price,omitempty"`
	Area            *string   `json:"area,omitempty"`
	ParsedAt        time.Time `json:"parsedAt"`
}

// Filter constrains a listing query. Nil or empty fields do not constrain.
type Filter struct {
	PropertyType Type     `json:"type,omitempty"`
	RoomCount    *int     `json:"rooms,omitempty"`
	PriceMin     *float64 `json:"priceMin,omitempty"`
	PriceMax     *float64 `json:"priceMax,omitempty"`
}

// IsEmpty reports whether the filter has no constraints at all.
func (f Filter) IsEmpty() bool {
	return f.PropertyType == "" && f.RoomCount == nil && f.PriceMin == nil && f.PriceMax == nil
}

// Matches reports whether l satisfies every constraint of f. A listing
// without a price or room count never satisfies a constraint on that field.
func (f Filter) Matches(l Listing) bool {
	if f.PropertyType != "" && l.PropertyType != f.PropertyType {
		return false
	}
	if f.RoomCount != nil && (l.RoomCount == nil || *l.RoomCount != *f.RoomCount) {
		return false
	}
	if f.PriceMin != nil && (l.Price == nil || *l.Price < *f.PriceMin) {
		return false
	}
	if f.PriceMax != nil && (l.Price == nil || *l.Price > *f.PriceMax) {
		return false
	}
	return true
}

// CacheKey returns a stable textual form of the filter.
func (f Filter) CacheKey() string {
	var b strings.Builder
	b.WriteString("t=")
	b.WriteString(string(f.PropertyType))
	if f.RoomCount != nil {
		fmt.Fprintf(&b, "|r=%d", *f.RoomCount)
	}
	if f.PriceMin != nil {
		fmt.Fprintf(&b, "|min=%g", *f.PriceMin)
	}
	if f.PriceMax != nil {
		fmt.Fprintf(&b, "|max=%g", *f.PriceMax)
	}
	return b.String()
}

// Search returns the listings whose text, area or type contain query,
// case-insensitively. Order is preserved.
func Search(listings []Listing, query string) []Listing {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return listings
	}
	var out []Listing
	for _, l := range listings {
		if strings.Contains(strings.ToLower(l.RawText), q) ||
			strings.Contains(string(l.PropertyType), q) ||
			(l.Area != nil && strings.Contains(strings.ToLower(*l.Area), q)) {
			out = append(out, l)
		}
	}
	return out
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }
