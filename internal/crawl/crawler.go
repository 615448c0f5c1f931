package crawl

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/chrisgavin/trailbot/internal/camera"
	"github.com/chrisgavin/trailbot/internal/fault"
)

// Ledger is the read side of the download ledger the crawler filters
// against.
type Ledger interface {
	// Names returns the remote names already downloaded for a camera.
	Names(cameraIdentity string) (map[string]bool, error)
}

// Crawler lists media on the camera and returns the files not yet in the
// ledger.
type Crawler struct {
	client *Client
	ledger Ledger
	logger *zap.Logger
}

// NewCrawler wires a crawler to a camera client and the ledger.
func NewCrawler(client *Client, ledger Ledger, logger *zap.Logger) *Crawler {
	return &Crawler{client: client, ledger: ledger, logger: logger}
}

// ListNew fetches the listing for each requested file type and returns
// refs for files absent from the ledger, sorted by name ascending with
// discovery order breaking ties, so retried runs see the same sequence.
//
// The ledger snapshot is taken once at crawl start. Failure kinds:
// Unreachable when a listing cannot be fetched, ParseError when a page has
// no recognisable structure, DiskError when the ledger cannot be read.
func (c *Crawler) ListNew(ctx context.Context, cameraIdentity string, types []camera.FileType) ([]camera.RemoteFileRef, error) {
	if len(types) == 0 {
		types = []camera.FileType{camera.FileTypePhoto, camera.FileTypeVideo}
	}

	have, err := c.ledger.Names(cameraIdentity)
	if err != nil {
		return nil, fault.Newf(fault.KindDiskError, "ledger snapshot for %s: %w", cameraIdentity, err)
	}

	var refs []camera.RemoteFileRef
	for _, ft := range types {
		page, err := c.client.ListingPage(ctx, ft)
		if err != nil {
			return nil, err
		}

		rows, skipped, err := parseListing(page)
		if err != nil {
			return nil, fault.Newf(fault.KindParseError, "%s listing: %w", ft, err)
		}
		if skipped > 0 {
			c.logger.Warn("listing rows with unexpected markup skipped",
				zap.String("camera", cameraIdentity),
				zap.String("type", string(ft)),
				zap.Int("skipped", skipped))
		}

		now := time.Now()
		for _, row := range rows {
			if have[row.Name] {
				c.logger.Debug("already downloaded",
					zap.String("camera", cameraIdentity),
					zap.String("remote_name", row.Name))
				continue
			}
			refs = append(refs, camera.RemoteFileRef{
				RemoteName:   row.Name,
				RemotePath:   row.Href,
				RemoteSize:   row.Size,
				CaptureDate:  row.Date,
				Type:         ft,
				DiscoveredAt: now,
			})
		}
	}

	// Stable sort keeps discovery order for equal names across file types.
	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].RemoteName < refs[j].RemoteName
	})

	c.logger.Info("crawl complete",
		zap.String("camera", cameraIdentity),
		zap.Int("new_files", len(refs)))
	return refs, nil
}
