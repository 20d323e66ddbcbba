// Package assistant provides clients for the external intelligence service
// that resolves a natural-language query into a reply plus candidate cards.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/discovery/internal/domain"
	"github.com/kailas-cloud/discovery/internal/domain/card"
	"github.com/kailas-cloud/discovery/internal/domain/geo"
	"github.com/kailas-cloud/discovery/internal/domain/intent"
	"github.com/kailas-cloud/discovery/internal/metrics"
)

const gatewayProvider = "gateway"

// Gateway talks to the discovery gateway over its JSON chat contract.
type Gateway struct {
	baseURL     string
	siteSlug    string
	apiKey      string
	temperature float64
	httpClient  *http.Client
	logger      *zap.Logger
}

// GatewayConfig holds the gateway client settings.
type GatewayConfig struct {
	BaseURL     string
	SiteSlug    string
	APIKey      string
	Temperature float64
	Timeout     time.Duration
	Logger      *zap.Logger
}

// NewGateway creates a gateway client.
func NewGateway(cfg *GatewayConfig) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		baseURL:     cfg.BaseURL,
		siteSlug:    cfg.SiteSlug,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      cfg.Logger,
	}
}

// --- Wire format ---

type wireTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireCoords struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type wireMeta struct {
	Page         int         `json:"page"`
	Limit        int         `json:"limit"`
	UserLocation string      `json:"userLocation"`
	Coords       *wireCoords `json:"coords"`
	Filters      []string    `json:"filters"`
}

type wireRequest struct {
	Message     string     `json:"message"`
	History     []wireTurn `json:"history"`
	Temperature float64    `json:"temperature"`
	Meta        wireMeta   `json:"meta"`
	SiteSlug    string     `json:"site_slug"`
}

type wireCard struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Subtitle    string      `json:"subtitle"`
	Description string      `json:"description"`
	Location    string      `json:"location"`
	Verified    bool        `json:"verified"`
	Rating      *float64    `json:"rating"`
	Tags        []string    `json:"tags"`
	Coords      *wireCoords `json:"coords"`
}

type wireIntent struct {
	Service  string `json:"service"`
	Location string `json:"location"`
}

type wireResponse struct {
	OK     *bool       `json:"ok"`
	Answer string      `json:"answer"`
	Cards  []wireCard  `json:"cards"`
	Intent *wireIntent `json:"intent"`
	Meta   *struct {
		HasMore *bool `json:"hasMore"`
	} `json:"meta"`
	Error string `json:"error"`
}

// Query sends one page request to the gateway and decodes the reply.
// Transport and parse failures wrap domain.ErrAssistantUnavailable; an
// explicit ok:false becomes a domain.AssistantError carrying the message.
func (g *Gateway) Query(ctx context.Context, req domain.QueryRequest) (domain.QueryResponse, error) {
	start := time.Now()
	resp, err := g.query(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.AssistantRequestsTotal.WithLabelValues(gatewayProvider, "error").Inc()
		metrics.AssistantErrorsTotal.WithLabelValues(gatewayProvider, errorType(err)).Inc()
		return domain.QueryResponse{}, err
	}

	metrics.AssistantRequestsTotal.WithLabelValues(gatewayProvider, "success").Inc()
	metrics.AssistantRequestDuration.WithLabelValues(gatewayProvider).Observe(duration.Seconds())
	metrics.AssistantCardsReturned.WithLabelValues(gatewayProvider).Observe(float64(len(resp.Cards)))
	return resp, nil
}

func (g *Gateway) query(ctx context.Context, req domain.QueryRequest) (domain.QueryResponse, error) {
	body, err := json.Marshal(requestToWire(req, g.temperature, g.siteSlug))
	if err != nil {
		return domain.QueryResponse{}, fmt.Errorf("encode request: %w", domain.ErrAssistantUnavailable)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return domain.QueryResponse{}, fmt.Errorf("build request: %w", domain.ErrAssistantUnavailable)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return domain.QueryResponse{}, fmt.Errorf("assistant request: %v: %w", err, domain.ErrAssistantUnavailable)
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
	if err != nil {
		return domain.QueryResponse{}, fmt.Errorf("read response: %v: %w", err, domain.ErrAssistantUnavailable)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return domain.QueryResponse{}, fmt.Errorf(
			"assistant status %d: %w", httpResp.StatusCode, domain.ErrAssistantUnavailable)
	}

	var wire wireResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return domain.QueryResponse{}, fmt.Errorf("decode response: %v: %w", err, domain.ErrAssistantUnavailable)
	}

	if wire.OK != nil && !*wire.OK {
		return domain.QueryResponse{}, &domain.AssistantError{Message: wire.Error}
	}

	return responseFromWire(wire), nil
}

// HealthCheck probes the gateway's health endpoint.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/health", http.NoBody)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("assistant health: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, 1<<10))

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return fmt.Errorf("assistant health status %d", httpResp.StatusCode)
	}
	return nil
}

func requestToWire(req domain.QueryRequest, temperature float64, siteSlug string) wireRequest {
	history := make([]wireTurn, len(req.History))
	for i, t := range req.History {
		history[i] = wireTurn{Role: string(t.Role), Content: t.Content}
	}

	// Filters marshal as an empty array, never null.
	filters := req.Filters
	if filters == nil {
		filters = []string{}
	}

	return wireRequest{
		Message:     req.Message,
		History:     history,
		Temperature: temperature,
		Meta: wireMeta{
			Page:         req.Page,
			Limit:        req.Limit,
			UserLocation: req.UserLocation,
			Coords:       coordsToWire(req.Coords),
			Filters:      filters,
		},
		SiteSlug: siteSlug,
	}
}

func responseFromWire(wire wireResponse) domain.QueryResponse {
	resp := domain.QueryResponse{Answer: wire.Answer}

	if len(wire.Cards) > 0 {
		resp.Cards = make([]card.Card, len(wire.Cards))
		for i, wc := range wire.Cards {
			resp.Cards[i] = cardFromWire(wc)
		}
	}

	if wire.Intent != nil {
		resp.Intent = &intent.Intent{
			Service:  wire.Intent.Service,
			Location: wire.Intent.Location,
		}
	}

	if wire.Meta != nil && wire.Meta.HasMore != nil {
		resp.HasMore = *wire.Meta.HasMore
	}
	return resp
}

// cardFromWire maps a raw upstream card. Any distance the upstream might
// send is ignored: DistanceKm is derived by enrichment only.
func cardFromWire(wc wireCard) card.Card {
	c := card.Card{
		ID:          wc.ID,
		Title:       wc.Title,
		Subtitle:    wc.Subtitle,
		Description: wc.Description,
		Location:    wc.Location,
		Verified:    wc.Verified,
		Rating:      wc.Rating,
		Tags:        wc.Tags,
	}
	if wc.Coords != nil {
		c.Coords = &geo.Coordinates{Lat: wc.Coords.Lat, Lng: wc.Coords.Lng}
	}
	return c
}

func coordsToWire(c *geo.Coordinates) *wireCoords {
	if c == nil {
		return nil
	}
	return &wireCoords{Lat: c.Lat, Lng: c.Lng}
}

func errorType(err error) string {
	if errors.Is(err, domain.ErrAssistantError) {
		return "application_error"
	}
	return "transport_error"
}
