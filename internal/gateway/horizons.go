package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"

	"github.com/orbitdash/gateway/internal/apierror"
	"github.com/orbitdash/gateway/internal/ephemeris"
	"github.com/orbitdash/gateway/internal/metrics"
)

// GetSpacecraftPosition fetches a vector-table ephemeris for the given
// target (a NAIF SPICE ID such as "-31" for Voyager 1) and derives the
// dashboard's position view: distance, speed, one-way light time, and
// round-trip communication delay.
func (c *Client) GetSpacecraftPosition(ctx context.Context, target string) (*ephemeris.SpacecraftPosition, bool, error) {
	s := c.services[ServiceHorizons]

	v, stale, err := s.fetch(ctx, "horizons:vectors:"+target, func(ctx context.Context) (any, error) {
		q := url.Values{
			"format":     {"json"},
			"COMMAND":    {"'" + target + "'"},
			"EPHEM_TYPE": {"VECTORS"},
			"CENTER":     {"'500@399'"}, // geocentric
			"OBJ_DATA":   {"NO"},
		}
		rec, err := s.fetchEphemeris(ctx, q)
		if err != nil {
			return nil, err
		}
		return ephemeris.NewSpacecraftPosition(rec), nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*ephemeris.SpacecraftPosition), stale, nil
}

// GetOrbitalElements fetches an elements-table ephemeris for the given
// target (eccentricity, perihelion distance, inclination) used by the
// asteroid catalog pages.
func (c *Client) GetOrbitalElements(ctx context.Context, target string) (*ephemeris.Record, bool, error) {
	s := c.services[ServiceHorizons]

	v, stale, err := s.fetch(ctx, "horizons:elements:"+target, func(ctx context.Context) (any, error) {
		q := url.Values{
			"format":     {"json"},
			"COMMAND":    {"'" + target + "'"},
			"EPHEM_TYPE": {"ELEMENTS"},
			"CENTER":     {"'500@10'"}, // heliocentric
			"OBJ_DATA":   {"NO"},
		}
		return s.fetchEphemeris(ctx, q)
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*ephemeris.Record), stale, nil
}

// fetchEphemeris performs the raw call and pipes the embedded text payload
// through the ephemeris parser. The upstream wraps its ad hoc delimited
// text in a JSON envelope.
func (s *service) fetchEphemeris(ctx context.Context, q url.Values) (*ephemeris.Record, error) {
	body, err := s.get(ctx, "/horizons.api", q)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		metrics.ParseFailures.WithLabelValues("envelope").Inc()
		return nil, &apierror.MalformedResponseError{Service: s.name, Reason: "ephemeris envelope: " + err.Error()}
	}

	rec, err := ephemeris.Parse(envelope.Result)
	if err != nil {
		var me *apierror.MalformedResponseError
		if errors.As(err, &me) {
			metrics.ParseFailures.WithLabelValues("text").Inc()
			// Re-tag with the service name; the parser itself is
			// service-agnostic.
			return nil, &apierror.MalformedResponseError{Service: s.name, Reason: me.Reason, Partial: me.Partial}
		}
		return nil, err
	}
	return rec, nil
}
