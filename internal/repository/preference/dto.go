package preference

import (
	"github.com/kailas-cloud/discovery/internal/domain"
	"github.com/kailas-cloud/discovery/internal/domain/geo"
)

// prefDTO is the storage representation of a location preference.
type prefDTO struct {
	Label string   `json:"label"`
	Lat   *float64 `json:"lat,omitempty"`
	Lng   *float64 `json:"lng,omitempty"`
}

func toDTO(p domain.LocationPreference) prefDTO {
	dto := prefDTO{Label: p.Label}
	if p.Coords != nil {
		lat, lng := p.Coords.Lat, p.Coords.Lng
		dto.Lat, dto.Lng = &lat, &lng
	}
	return dto
}

func fromDTO(dto prefDTO) domain.LocationPreference {
	p := domain.LocationPreference{Label: dto.Label}
	if dto.Lat != nil && dto.Lng != nil {
		p.Coords = &geo.Coordinates{Lat: *dto.Lat, Lng: *dto.Lng}
	}
	return p
}
