// Package card defines the result card model: a single discoverable item
// (typically a service provider) returned by the assistant for a query.
package card

import "github.com/kailas-cloud/discovery/internal/domain/geo"

// Card is a single result item. Pointer fields distinguish "absent" from
// a legitimate zero value: a card with Rating == nil is unrated, which is
// not the same as a rating of 0.
type Card struct {
	ID          string
	Title       string
	Subtitle    string
	Description string
	Location    string
	Verified    bool
	Rating      *float64
	Tags        []string
	Coords      *geo.Coordinates

	// DistanceKm is derived: set exclusively by rank.Enrich and recomputed
	// on every enrichment pass. nil means unknown, which is distinct from
	// a distance of zero. Upstream values are never carried over.
	DistanceKm *float64
}

// RatingValue returns the rating, or -1 when the card is unrated so that
// unrated cards order strictly below any rated card.
func (c *Card) RatingValue() float64 {
	if c.Rating == nil {
		return -1
	}
	return *c.Rating
}

// Clone returns a copy of the card with its own pointer fields, so that
// enrichment of the copy never mutates the original.
func (c Card) Clone() Card {
	out := c
	if c.Rating != nil {
		r := *c.Rating
		out.Rating = &r
	}
	if c.Coords != nil {
		cc := *c.Coords
		out.Coords = &cc
	}
	if c.DistanceKm != nil {
		d := *c.DistanceKm
		out.DistanceKm = &d
	}
	if c.Tags != nil {
		out.Tags = append([]string(nil), c.Tags...)
	}
	return out
}
