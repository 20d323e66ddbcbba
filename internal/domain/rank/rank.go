// Package rank orders and enriches card collections: distance enrichment
// against a reference coordinate and stable multi-mode sorting.
package rank

import (
	"math"
	"sort"

	"github.com/kailas-cloud/discovery/internal/domain/card"
	"github.com/kailas-cloud/discovery/internal/domain/geo"
)

// Mode is the card ordering strategy.
type Mode string

// Sort mode constants.
const (
	// Relevance preserves the upstream order untouched.
	Relevance Mode = "relevance"
	// Rating orders by rating descending; unrated cards sink to the bottom.
	Rating Mode = "rating"
	// Distance orders by distance ascending; cards with unknown distance
	// sink to the bottom.
	Distance Mode = "distance"
)

// IsValid checks if the mode is one of the supported values.
func (m Mode) IsValid() bool {
	return m == Relevance || m == Rating || m == Distance
}

// Enrich returns a copy of cards with DistanceKm recomputed against the
// reference coordinate. With no usable reference every card's distance is
// unknown (nil). A card without a valid coordinate pair also gets unknown.
// Distances are rounded to one decimal place.
//
// Enrich is pure and idempotent for a fixed reference: any previously set
// DistanceKm is discarded and recomputed.
func Enrich(cards []card.Card, ref *geo.Coordinates) []card.Card {
	out := make([]card.Card, len(cards))
	hasRef := ref != nil && ref.Valid()
	for i := range cards {
		c := cards[i].Clone()
		c.DistanceKm = nil
		if hasRef && c.Coords != nil && c.Coords.Valid() {
			d := math.Round(geo.Haversine(*ref, *c.Coords)*10) / 10
			c.DistanceKm = &d
		}
		out[i] = c
	}
	return out
}

// Sort returns a new collection ordered by the given mode. The input is
// not mutated. Every mode is stable: cards whose sort key compares equal
// keep their relative input order, so repeated re-sorting (after a
// location change, say) never visibly shuffles unchanged cards.
func Sort(cards []card.Card, m Mode) []card.Card {
	out := append([]card.Card(nil), cards...)
	less := lessFunc(m)
	if less == nil {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		return less(&out[i], &out[j])
	})
	return out
}

// lessFunc selects the comparator for a sort mode. Relevance returns nil:
// the upstream order is authoritative and must not be touched.
func lessFunc(m Mode) func(a, b *card.Card) bool {
	switch m {
	case Rating:
		// Descending by rating; nil rating compares as -1, below any
		// present rating, so unrated cards end up last.
		return func(a, b *card.Card) bool {
			return a.RatingValue() > b.RatingValue()
		}
	case Distance:
		// Ascending by distance; unknown compares as +Inf so cards
		// without a distance end up last.
		return func(a, b *card.Card) bool {
			return distanceValue(a) < distanceValue(b)
		}
	default:
		return nil
	}
}

func distanceValue(c *card.Card) float64 {
	if c.DistanceKm == nil {
		return math.Inf(1)
	}
	return *c.DistanceKm
}
