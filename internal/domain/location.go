package domain

import "github.com/kailas-cloud/discovery/internal/domain/geo"

// LocationPreference is the user's current reference location: a free-text
// label plus an optional resolved coordinate. It is owned by the session,
// mutated by explicit user input or by an intent extracted from a query,
// and persisted on a debounce so rapid edits do not spam writes.
type LocationPreference struct {
	Label  string
	Coords *geo.Coordinates
}

// IsZero reports whether no preference has been set yet.
func (p LocationPreference) IsZero() bool {
	return p.Label == "" && p.Coords == nil
}

// Clone returns a copy with its own coordinate pointer.
func (p LocationPreference) Clone() LocationPreference {
	out := p
	if p.Coords != nil {
		c := *p.Coords
		out.Coords = &c
	}
	return out
}
