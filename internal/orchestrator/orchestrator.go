// Package orchestrator sequences one camera's sync run across the BLE,
// WiFi, and HTTP layers, and schedules runs over the whole fleet. The
// hardware dependency chain is strict: the hotspot cannot be joined before
// credentials exist, and nothing can be crawled before the join holds.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chrisgavin/trailbot/internal/camera"
	"github.com/chrisgavin/trailbot/internal/fault"
	"github.com/chrisgavin/trailbot/internal/ledger"
)

// State is a position in the per-camera run lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnectingBLE
	StateRequestingHotspot
	StateJoiningNetwork
	StateCrawling
	StateDownloading
	StateReleasing
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnectingBLE:
		return "connecting-ble"
	case StateRequestingHotspot:
		return "requesting-hotspot"
	case StateJoiningNetwork:
		return "joining-network"
	case StateCrawling:
		return "crawling"
	case StateDownloading:
		return "downloading"
	case StateReleasing:
		return "releasing"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// BleSession is the orchestrator's view of an open camera BLE session.
type BleSession interface {
	RequestHotspot(ctx context.Context, rec *camera.Record) (camera.HotspotCredentials, error)
	Hibernate(ctx context.Context) error
	Close() error
}

// OpenerFunc opens a BLE session to a camera identity.
type OpenerFunc func(ctx context.Context, identity string) (BleSession, error)

// NetworkSwitcher moves the host onto a hotspot and back off it.
type NetworkSwitcher interface {
	Join(ctx context.Context, creds camera.HotspotCredentials) error
	Restore(ctx context.Context)
}

// Crawler lists files not yet downloaded for a camera.
type Crawler interface {
	ListNew(ctx context.Context, cameraIdentity string, types []camera.FileType) ([]camera.RemoteFileRef, error)
}

// Downloader fetches one remote file and optionally deletes it from the
// camera afterwards.
type Downloader interface {
	Fetch(ctx context.Context, cameraIdentity string, ref camera.RemoteFileRef, destDir string) (ledger.Entry, error)
	CleanRemote(ctx context.Context, ref camera.RemoteFileRef) error
}

// ClockSetter pushes the host time to the camera.
type ClockSetter interface {
	SetClock(ctx context.Context, now time.Time) error
}

// Options configures one orchestrator shared by all runs.
type Options struct {
	DestinationDir string
	FileTypes      []camera.FileType
	// CameraTimeout bounds the whole wake-to-release sequence for one
	// camera. Exceeding it forces release and an overall-timeout error
	// even if the current sub-step would eventually have succeeded.
	CameraTimeout time.Duration
	// Clean deletes files from the camera after they are ledgered.
	Clean bool
	// SetClock pushes the host time to the camera after joining.
	SetClock bool
	// ReleaseGrace bounds the best-effort hibernate during release.
	ReleaseGrace time.Duration
}

// Result is the outcome of one orchestration run.
type Result struct {
	RunID      string
	Identity   string
	Label      string
	State      State // StateDone or StateErrored
	Kind       fault.Kind
	Err        error
	Downloaded int
	Duration   time.Duration
}

// Orchestrator drives the per-camera state machine. One instance serves
// the whole process; each Run is independent and caches nothing between
// runs.
type Orchestrator struct {
	open       OpenerFunc
	switcher   NetworkSwitcher
	crawler    Crawler
	downloader Downloader
	clock      ClockSetter
	opts       Options
	logger     *zap.Logger

	// wifiMu serialises the WiFi-using span of concurrent runs: the host
	// has one WiFi radio, while BLE work for another camera may overlap.
	wifiMu *sync.Mutex
}

// New wires an orchestrator. clock may be nil when clock sync is disabled.
func New(open OpenerFunc, switcher NetworkSwitcher, crawler Crawler, downloader Downloader, clock ClockSetter, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.CameraTimeout <= 0 {
		opts.CameraTimeout = 10 * time.Minute
	}
	if opts.ReleaseGrace <= 0 {
		opts.ReleaseGrace = 10 * time.Second
	}
	if len(opts.FileTypes) == 0 {
		opts.FileTypes = []camera.FileType{camera.FileTypePhoto, camera.FileTypeVideo}
	}
	return &Orchestrator{
		open:       open,
		switcher:   switcher,
		crawler:    crawler,
		downloader: downloader,
		clock:      clock,
		opts:       opts,
		logger:     logger,
		wifiMu:     &sync.Mutex{},
	}
}

// Run performs one full wake-to-release cycle for rec. Every exit path
// passes through release: the BLE session is closed, the camera is sent
// back to sleep, and the host network is restored, before any failure is
// surfaced.
func (o *Orchestrator) Run(parent context.Context, rec camera.Record) Result {
	start := time.Now()
	res := Result{
		RunID:    uuid.NewString()[:8],
		Identity: rec.Identity,
		Label:    rec.Label(),
		State:    StateIdle,
	}

	ctx, cancel := context.WithTimeout(parent, o.opts.CameraTimeout)
	defer cancel()

	log := o.logger.With(
		zap.String("run", res.RunID),
		zap.String("camera", rec.Label()))

	var session BleSession
	wifiHeld := false

	step := func(s State) {
		res.State = s
		log.Debug("state transition", zap.Stringer("state", s))
	}

	// release tears everything down in reverse acquisition order. It runs
	// on every exit path and tolerates being reached from any state.
	release := func() {
		step(StateReleasing)
		bg := context.WithoutCancel(ctx)
		if wifiHeld {
			o.switcher.Restore(bg)
			o.wifiMu.Unlock()
			wifiHeld = false
		}
		if session != nil {
			hctx, hcancel := context.WithTimeout(bg, o.opts.ReleaseGrace)
			if err := session.Hibernate(hctx); err != nil {
				log.Debug("hibernate during release failed", zap.Error(err))
			}
			hcancel()
			if err := session.Close(); err != nil {
				log.Warn("closing ble session failed", zap.Error(err))
			}
			session = nil
		}
	}

	fail := func(err error) Result {
		kind := fault.KindOf(err)
		// The overall budget wins over the sub-step's own classification.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = fault.KindOverallTimeout
		}
		release()
		res.State = StateErrored
		res.Kind = kind
		res.Err = err
		res.Duration = time.Since(start)
		log.Error("camera run failed",
			zap.Stringer("kind", kind),
			zap.Int("downloaded", res.Downloaded),
			zap.Error(err))
		return res
	}

	step(StateConnectingBLE)
	s, err := o.open(ctx, rec.Identity)
	if err != nil {
		return fail(err)
	}
	session = s

	step(StateRequestingHotspot)
	creds, err := session.RequestHotspot(ctx, &rec)
	if err != nil {
		return fail(err)
	}
	log.Info("hotspot up", zap.String("ssid", creds.SSID))

	o.wifiMu.Lock()
	wifiHeld = true

	step(StateJoiningNetwork)
	if err := o.switcher.Join(ctx, creds); err != nil {
		return fail(err)
	}

	if o.opts.SetClock && o.clock != nil {
		// Clock drift is cosmetic; a failed sync is not worth failing the
		// whole run over.
		if err := o.clock.SetClock(ctx, time.Now()); err != nil {
			log.Warn("clock sync failed", zap.Error(err))
		}
	}

	step(StateCrawling)
	refs, err := o.crawler.ListNew(ctx, rec.Identity, o.opts.FileTypes)
	if err != nil {
		return fail(err)
	}

	step(StateDownloading)
	for _, ref := range refs {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(fault.Newf(fault.KindOverallTimeout, "camera budget exhausted: %w", ctxErr))
		}
		if _, err := o.downloader.Fetch(ctx, rec.Identity, ref, o.opts.DestinationDir); err != nil {
			return fail(err)
		}
		res.Downloaded++
		if o.opts.Clean {
			if err := o.downloader.CleanRemote(ctx, ref); err != nil {
				log.Warn("remote cleanup failed",
					zap.String("remote_name", ref.RemoteName), zap.Error(err))
			}
		}
	}

	release()
	res.State = StateDone
	res.Duration = time.Since(start)
	log.Info("camera run complete",
		zap.Int("downloaded", res.Downloaded),
		zap.Duration("took", res.Duration))
	return res
}
