package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/orbitdash/gateway/internal/apierror"
)

// CloseApproach is one asteroid or comet close-approach event. Numeric
// fields are nullable: the upstream publishes them as strings and omits
// values it does not have.
type CloseApproach struct {
	Designation       string   `json:"designation"`
	CloseApproachTime string   `json:"close_approach_time"`
	DistanceAU        *float64 `json:"distance_au,omitempty"`
	VelocityKmPerSec  *float64 `json:"velocity_km_per_sec,omitempty"`
	AbsoluteMagnitude *float64 `json:"absolute_magnitude,omitempty"`
}

// CloseApproachQuery constrains a close-approach lookup.
type CloseApproachQuery struct {
	DateMin   string  // e.g. "now"
	DateMax   string  // e.g. "+60" (days) or a calendar date
	DistMaxAU float64 // 0 means upstream default
	Limit     int     // 0 means upstream default
}

func (q CloseApproachQuery) cacheKey() string {
	return fmt.Sprintf("smallbody:cad:%s:%s:%g:%d", q.DateMin, q.DateMax, q.DistMaxAU, q.Limit)
}

// GetCloseApproaches fetches close-approach events matching the query.
// The upstream payload is columnar, a fields list plus rows of string
// values, and is re-keyed into typed records here.
func (c *Client) GetCloseApproaches(ctx context.Context, query CloseApproachQuery) ([]CloseApproach, bool, error) {
	s := c.services[ServiceSmallBody]

	v, stale, err := s.fetch(ctx, query.cacheKey(), func(ctx context.Context) (any, error) {
		q := url.Values{}
		if query.DateMin != "" {
			q.Set("date-min", query.DateMin)
		}
		if query.DateMax != "" {
			q.Set("date-max", query.DateMax)
		}
		if query.DistMaxAU > 0 {
			q.Set("dist-max", strconv.FormatFloat(query.DistMaxAU, 'g', -1, 64))
		}
		if query.Limit > 0 {
			q.Set("limit", strconv.Itoa(query.Limit))
		}

		body, err := s.get(ctx, "/cad.api", q)
		if err != nil {
			return nil, err
		}
		return decodeCloseApproaches(s.name, body)
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]CloseApproach), stale, nil
}

func decodeCloseApproaches(service string, body []byte) ([]CloseApproach, error) {
	var raw struct {
		Count  json.Number `json:"count"`
		Fields []string    `json:"fields"`
		Data   [][]any     `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &apierror.MalformedResponseError{Service: service, Reason: "close approaches: " + err.Error()}
	}

	// Zero matches is a valid answer, not an error.
	if len(raw.Data) == 0 {
		return []CloseApproach{}, nil
	}
	if len(raw.Fields) == 0 {
		return nil, &apierror.MalformedResponseError{Service: service, Reason: "close approaches: data without fields list"}
	}

	idx := make(map[string]int, len(raw.Fields))
	for i, f := range raw.Fields {
		idx[f] = i
	}

	events := make([]CloseApproach, 0, len(raw.Data))
	for _, row := range raw.Data {
		ev := CloseApproach{
			Designation:       cell(row, idx, "des"),
			CloseApproachTime: cell(row, idx, "cd"),
		}
		ev.DistanceAU = numericCell(row, idx, "dist")
		ev.VelocityKmPerSec = numericCell(row, idx, "v_rel")
		ev.AbsoluteMagnitude = numericCell(row, idx, "h")
		events = append(events, ev)
	}
	return events, nil
}

func cell(row []any, idx map[string]int, field string) string {
	i, ok := idx[field]
	if !ok || i >= len(row) {
		return ""
	}
	if s, ok := row[i].(string); ok {
		return s
	}
	return ""
}

// numericCell parses a columnar value as a float. The upstream emits
// numbers as strings (and sometimes as JSON numbers); anything unparsable
// stays nil rather than zero.
func numericCell(row []any, idx map[string]int, field string) *float64 {
	i, ok := idx[field]
	if !ok || i >= len(row) {
		return nil
	}
	switch v := row[i].(type) {
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return &f
		}
	case float64:
		return &v
	}
	return nil
}
