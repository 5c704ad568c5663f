package gateway

import (
	"context"
	"encoding/json"

	"github.com/orbitdash/gateway/internal/apierror"
)

// DSNStatus is a snapshot of the deep-space-network ground stations and
// which spacecraft their antennas are talking to.
type DSNStatus struct {
	Stations []DSNStation `json:"stations"`
}

// DSNStation is one ground complex (Goldstone, Madrid, Canberra).
type DSNStation struct {
	Name         string    `json:"name"`
	FriendlyName string    `json:"friendly_name,omitempty"`
	Dishes       []DSNDish `json:"dishes"`
}

// DSNDish is one antenna. Pointing angles are nullable; idle dishes
// report none.
type DSNDish struct {
	Name         string   `json:"name"`
	AzimuthDeg   *float64 `json:"azimuth_deg,omitempty"`
	ElevationDeg *float64 `json:"elevation_deg,omitempty"`
	Targets      []string `json:"targets,omitempty"`
}

// GetDSNStatus fetches the current deep-space-network antenna status.
func (c *Client) GetDSNStatus(ctx context.Context) (*DSNStatus, bool, error) {
	s := c.services[ServiceDSN]

	v, stale, err := s.fetch(ctx, "dsn:status", func(ctx context.Context) (any, error) {
		body, err := s.get(ctx, "/status.json", nil)
		if err != nil {
			return nil, err
		}

		var raw struct {
			Stations []struct {
				Name         string `json:"name"`
				FriendlyName string `json:"friendlyName"`
				Dishes       []struct {
					Name      string   `json:"name"`
					Azimuth   *float64 `json:"azimuthAngle"`
					Elevation *float64 `json:"elevationAngle"`
					Targets   []struct {
						Name string `json:"name"`
					} `json:"targets"`
				} `json:"dishes"`
			} `json:"stations"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, &apierror.MalformedResponseError{Service: s.name, Reason: "dsn status: " + err.Error()}
		}

		status := &DSNStatus{Stations: make([]DSNStation, 0, len(raw.Stations))}
		for _, st := range raw.Stations {
			station := DSNStation{Name: st.Name, FriendlyName: st.FriendlyName}
			for _, d := range st.Dishes {
				dish := DSNDish{
					Name:         d.Name,
					AzimuthDeg:   d.Azimuth,
					ElevationDeg: d.Elevation,
				}
				for _, t := range d.Targets {
					dish.Targets = append(dish.Targets, t.Name)
				}
				station.Dishes = append(station.Dishes, dish)
			}
			status.Stations = append(status.Stations, station)
		}
		return status, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*DSNStatus), stale, nil
}
