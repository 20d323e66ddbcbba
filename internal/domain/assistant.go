package domain

import (
	"github.com/kailas-cloud/discovery/internal/domain/card"
	"github.com/kailas-cloud/discovery/internal/domain/chat"
	"github.com/kailas-cloud/discovery/internal/domain/geo"
	"github.com/kailas-cloud/discovery/internal/domain/intent"
)

// QueryRequest is a single page request to the assistant service.
type QueryRequest struct {
	Message      string
	History      []chat.Turn
	Page         int
	Limit        int
	UserLocation string
	Coords       *geo.Coordinates
	Filters      []string
}

// QueryResponse is the assistant's resolution of a query: a reply plus a
// batch of candidate result cards and continuation metadata. Card order is
// the assistant's opaque relevance order and is preserved as received.
type QueryResponse struct {
	Answer  string
	Cards   []card.Card
	Intent  *intent.Intent
	HasMore bool
}
