package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/orbitdash/gateway/internal/apierror"
)

// APOD is the astronomy picture of the day.
type APOD struct {
	Date        string `json:"date"`
	Title       string `json:"title"`
	Explanation string `json:"explanation"`
	URL         string `json:"url"`
	HDURL       string `json:"hdurl,omitempty"`
	MediaType   string `json:"media_type"`
	Copyright   string `json:"copyright,omitempty"`
}

// RoverPhoto is one photo taken by a Mars rover camera.
type RoverPhoto struct {
	ID        int64  `json:"id"`
	Sol       int    `json:"sol"`
	ImgSrc    string `json:"img_src"`
	EarthDate string `json:"earth_date"`
	Camera    string `json:"camera"`
	Rover     string `json:"rover"`
}

// GetAPOD fetches the current astronomy picture of the day. The second
// return value flags a result served from a stale cache entry.
func (c *Client) GetAPOD(ctx context.Context) (*APOD, bool, error) {
	s := c.services[ServiceAgency]

	v, stale, err := s.fetch(ctx, "agency:apod", func(ctx context.Context) (any, error) {
		body, err := s.get(ctx, "/planetary/apod", nil)
		if err != nil {
			return nil, err
		}
		var apod APOD
		if err := json.Unmarshal(body, &apod); err != nil {
			return nil, &apierror.MalformedResponseError{Service: s.name, Reason: "apod: " + err.Error()}
		}
		return &apod, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*APOD), stale, nil
}

// GetRoverPhotos fetches the photos a Mars rover took on the given sol.
func (c *Client) GetRoverPhotos(ctx context.Context, rover string, sol int) ([]RoverPhoto, bool, error) {
	s := c.services[ServiceAgency]

	key := fmt.Sprintf("agency:rover-photos:%s:%d", rover, sol)
	v, stale, err := s.fetch(ctx, key, func(ctx context.Context) (any, error) {
		q := url.Values{"sol": {strconv.Itoa(sol)}}
		body, err := s.get(ctx, "/mars-photos/api/v1/rovers/"+url.PathEscape(rover)+"/photos", q)
		if err != nil {
			return nil, err
		}

		var raw struct {
			Photos []struct {
				ID        int64  `json:"id"`
				Sol       int    `json:"sol"`
				ImgSrc    string `json:"img_src"`
				EarthDate string `json:"earth_date"`
				Camera    struct {
					Name string `json:"name"`
				} `json:"camera"`
				Rover struct {
					Name string `json:"name"`
				} `json:"rover"`
			} `json:"photos"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, &apierror.MalformedResponseError{Service: s.name, Reason: "rover photos: " + err.Error()}
		}

		photos := make([]RoverPhoto, 0, len(raw.Photos))
		for _, p := range raw.Photos {
			photos = append(photos, RoverPhoto{
				ID:        p.ID,
				Sol:       p.Sol,
				ImgSrc:    p.ImgSrc,
				EarthDate: p.EarthDate,
				Camera:    p.Camera.Name,
				Rover:     p.Rover.Name,
			})
		}
		return photos, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]RoverPhoto), stale, nil
}
