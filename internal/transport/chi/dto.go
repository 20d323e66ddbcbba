package chi

import (
	"github.com/kailas-cloud/discovery/internal/domain"
	"github.com/kailas-cloud/discovery/internal/domain/card"
	"github.com/kailas-cloud/discovery/internal/domain/chat"
	"github.com/kailas-cloud/discovery/internal/domain/geo"
	sessionuc "github.com/kailas-cloud/discovery/internal/usecase/session"
)

// errorCode identifies an error class in API responses.
type errorCode string

const (
	codeBadRequest           errorCode = "bad_request"
	codeValidationFailed     errorCode = "validation_failed"
	codeUnauthorized         errorCode = "unauthorized"
	codeSessionNotFound      errorCode = "session_not_found"
	codeSessionClosed        errorCode = "session_closed"
	codeRequestInFlight      errorCode = "request_in_flight"
	codeAssistantUnavailable errorCode = "assistant_unavailable"
	codeAssistantError       errorCode = "assistant_error"
	codeInternalError        errorCode = "internal_error"
)

type errorResponse struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

type createSessionRequest struct {
	ClientID string `json:"clientId"`
}

type queryRequest struct {
	Message string `json:"message"`
}

type sortRequest struct {
	SortMode string `json:"sortMode"`
}

type locationRequest struct {
	Label  string       `json:"label"`
	Coords *coordinates `json:"coords,omitempty"`
}

type coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type cardResponse struct {
	ID          string       `json:"id,omitempty"`
	Title       string       `json:"title"`
	Subtitle    string       `json:"subtitle,omitempty"`
	Description string       `json:"description,omitempty"`
	Location    string       `json:"location,omitempty"`
	Verified    bool         `json:"verified"`
	Rating      *float64     `json:"rating,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Coords      *coordinates `json:"coords,omitempty"`
	DistanceKm  *float64     `json:"distanceKm,omitempty"`
}

type turnResponse struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type locationResponse struct {
	Label  string       `json:"label"`
	Coords *coordinates `json:"coords,omitempty"`
}

type sessionResponse struct {
	ID             string            `json:"id"`
	Phase          string            `json:"phase"`
	Answer         string            `json:"answer,omitempty"`
	Acknowledgment string            `json:"acknowledgment,omitempty"`
	Failure        string            `json:"failure,omitempty"`
	Cards          []cardResponse    `json:"cards"`
	HasMore        bool              `json:"hasMore"`
	Page           int               `json:"page"`
	SortMode       string            `json:"sortMode"`
	Location       *locationResponse `json:"location,omitempty"`
	History        []turnResponse    `json:"history"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func coordsToWire(c *geo.Coordinates) *coordinates {
	if c == nil {
		return nil
	}
	return &coordinates{Lat: c.Lat, Lng: c.Lng}
}

func coordsFromWire(c *coordinates) *geo.Coordinates {
	if c == nil {
		return nil
	}
	return &geo.Coordinates{Lat: c.Lat, Lng: c.Lng}
}

func cardToWire(c card.Card) cardResponse {
	return cardResponse{
		ID:          c.ID,
		Title:       c.Title,
		Subtitle:    c.Subtitle,
		Description: c.Description,
		Location:    c.Location,
		Verified:    c.Verified,
		Rating:      c.Rating,
		Tags:        c.Tags,
		Coords:      coordsToWire(c.Coords),
		DistanceKm:  c.DistanceKm,
	}
}

func locationToWire(p domain.LocationPreference) *locationResponse {
	if p.IsZero() {
		return nil
	}
	return &locationResponse{Label: p.Label, Coords: coordsToWire(p.Coords)}
}

func turnsToWire(turns []chat.Turn) []turnResponse {
	out := make([]turnResponse, len(turns))
	for i, t := range turns {
		out[i] = turnResponse{Role: string(t.Role), Content: t.Content}
	}
	return out
}

func snapshotToWire(snap sessionuc.Snapshot) sessionResponse {
	cards := make([]cardResponse, len(snap.Cards))
	for i, c := range snap.Cards {
		cards[i] = cardToWire(c)
	}
	return sessionResponse{
		ID:             snap.ID,
		Phase:          string(snap.Phase),
		Answer:         snap.Answer,
		Acknowledgment: snap.Acknowledgment,
		Failure:        snap.Failure,
		Cards:          cards,
		HasMore:        snap.HasMore,
		Page:           snap.Page,
		SortMode:       string(snap.SortMode),
		Location:       locationToWire(snap.Location),
		History:        turnsToWire(snap.History),
	}
}
