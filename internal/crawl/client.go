// Package crawl talks to the camera's on-hotspot web UI: it fetches the
// DCIM listing pages, recovers file references from their HTML, and diffs
// them against the download ledger.
package crawl

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/chrisgavin/trailbot/internal/camera"
	"github.com/chrisgavin/trailbot/internal/fault"
)

// DefaultBaseURL is the address every camera serves its web UI on once the
// hotspot is up.
const DefaultBaseURL = "http://192.168.8.120"

// Client wraps the camera's HTTP surface. The web UI is not a stable API;
// everything here is defensive about what comes back.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient creates a client for the camera at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	return &Client{http: r, logger: logger}
}

// ListingPage fetches the raw HTML of the DCIM listing for one file type.
func (c *Client) ListingPage(ctx context.Context, ft camera.FileType) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).Get(ft.ListingPath())
	if err != nil {
		return nil, fault.Newf(fault.KindUnreachable, "fetch %s listing: %w", ft, err)
	}
	if resp.IsError() {
		return nil, fault.Newf(fault.KindUnreachable, "fetch %s listing: HTTP %d", ft, resp.StatusCode())
	}
	return resp.Body(), nil
}

// SetClock pushes the host's current date and time to the camera using the
// vendor control commands.
func (c *Client) SetClock(ctx context.Context, now time.Time) error {
	commands := []struct {
		cmd string
		str string
	}{
		{"3005", now.Format("2006-01-02")},
		{"3006", now.Format("15:04:05")},
	}
	for _, command := range commands {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"custom": "1",
				"cmd":    command.cmd,
				"str":    command.str,
			}).
			Get("/")
		if err != nil {
			return fault.Newf(fault.KindUnreachable, "set clock (cmd %s): %w", command.cmd, err)
		}
		if resp.IsError() {
			return fault.Newf(fault.KindUnreachable, "set clock (cmd %s): HTTP %d", command.cmd, resp.StatusCode())
		}
	}
	c.logger.Info("camera clock synchronised", zap.Time("to", now))
	return nil
}

// BaseURL returns the camera address this client is bound to.
func (c *Client) BaseURL() string { return c.http.BaseURL }
