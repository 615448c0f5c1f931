package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chrisgavin/trailbot/internal/ble"
	"github.com/chrisgavin/trailbot/internal/camera"
	"github.com/chrisgavin/trailbot/internal/crawl"
	"github.com/chrisgavin/trailbot/internal/download"
	"github.com/chrisgavin/trailbot/internal/ledger"
	"github.com/chrisgavin/trailbot/internal/orchestrator"
	"github.com/chrisgavin/trailbot/internal/wifi"
)

var (
	syncCameras []string
	syncClean   bool
	syncClock   bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass over the camera fleet",
	Long: `Wakes each known camera in turn, downloads all media not yet seen,
and restores the previous network. Exits non-zero when any camera run
fails; cameras that are simply out of radio range are skipped.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringArrayVar(&syncCameras, "camera", nil, "sync only this camera (identity or display name, repeatable)")
	syncCmd.Flags().BoolVar(&syncClean, "clean", false, "delete files from the camera once downloaded")
	syncCmd.Flags().BoolVar(&syncClock, "set-clock", false, "push the host time to each camera")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	registry, err := camera.LoadRegistry(cfg.RegistryPath)
	if err != nil {
		return fmt.Errorf("loading camera registry: %w", err)
	}
	records, err := selectRecords(registry, syncCameras)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No cameras registered. Add one with 'trailbot cameras add'.")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LedgerPath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	led, err := ledger.Open(cfg.LedgerPath, logger)
	if err != nil {
		return fmt.Errorf("opening download ledger: %w", err)
	}
	defer led.Close()

	pairs, err := ble.LoadPairStore(cfg.PairStorePath)
	if err != nil {
		return fmt.Errorf("loading pair store: %w", err)
	}

	sopts := ble.DefaultSessionOptions()
	sopts.ScanTimeout = cfg.Bluetooth.ScanTimeout
	sopts.ConnectTimeout = cfg.Bluetooth.ConnectTimeout
	sopts.ConnectAttempts = cfg.Bluetooth.ConnectAttempts
	sopts.HotspotTimeout = cfg.Bluetooth.HotspotTimeout
	sopts.DefaultPassphrase = cfg.WiFi.Passphrase
	opener := ble.NewOpener(ble.NewBlueZAdapter(cfg.Bluetooth.Interface), pairs, sopts, logger)

	nm, err := wifi.NewNetworkManager(cfg.WiFi.Interface, logger)
	if err != nil {
		return fmt.Errorf("connecting to NetworkManager: %w", err)
	}
	switcher := wifi.NewSwitcher(nm, cfg.WiFi.JoinTimeout, logger)

	client := crawl.NewClient(cfg.Camera.BaseURL, 30*time.Second, logger)
	crawler := crawl.NewCrawler(client, led, logger)

	dopts := download.DefaultOptions()
	dopts.Retries = cfg.Sync.DownloadRetries
	downloader := download.NewDownloader(cfg.Camera.BaseURL, led, dopts, logger)

	open := func(ctx context.Context, identity string) (orchestrator.BleSession, error) {
		s, err := opener.Open(ctx, identity)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	orch := orchestrator.New(open, switcher, crawler, downloader, client, orchestrator.Options{
		DestinationDir: cfg.Destination,
		FileTypes:      cfg.Camera.Types(),
		CameraTimeout:  cfg.Sync.CameraTimeout,
		Clean:          cfg.Camera.Clean || syncClean,
		SetClock:       cfg.Camera.SetClock || syncClock,
	}, logger)
	sched := orchestrator.NewScheduler(orch, registry, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary := sched.RunAll(ctx, records, cfg.Sync.Concurrency)
	fmt.Print(summary.Render())
	if summary.ExitCode() != 0 {
		return fmt.Errorf("%d camera(s) failed", summary.Failed)
	}
	return nil
}

// selectRecords resolves --camera selectors against the registry. With no
// selectors, every registered camera is synced.
func selectRecords(registry *camera.Registry, selectors []string) ([]camera.Record, error) {
	all := registry.List()
	if len(selectors) == 0 {
		return all, nil
	}

	var out []camera.Record
	for _, sel := range selectors {
		found := false
		for _, rec := range all {
			if strings.EqualFold(rec.Identity, sel) || strings.EqualFold(rec.DisplayName, sel) {
				out = append(out, rec)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("no registered camera matches %q", sel)
		}
	}
	return out, nil
}
