package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chrisgavin/trailbot/internal/camera"
)

var (
	addName       string
	addSSID       string
	addPassphrase string
)

var camerasCmd = &cobra.Command{
	Use:   "cameras",
	Short: "Manage the camera registry",
}

var camerasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered cameras",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := camera.LoadRegistry(cfg.RegistryPath)
		if err != nil {
			return fmt.Errorf("loading camera registry: %w", err)
		}
		records := registry.List()
		if len(records) == 0 {
			fmt.Println("No cameras registered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "IDENTITY\tNAME\tSSID\tLAST SEEN\tLAST SYNC")
		for _, rec := range records {
			lastSeen := "never"
			if !rec.LastSeen.IsZero() {
				lastSeen = rec.LastSeen.Format("2006-01-02 15:04")
			}
			lastSync := "never"
			if !rec.LastSuccessfulSync.IsZero() {
				lastSync = rec.LastSuccessfulSync.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				rec.Identity, rec.DisplayName, rec.SSID, lastSeen, lastSync)
		}
		return w.Flush()
	},
}

var camerasAddCmd = &cobra.Command{
	Use:   "add <identity>",
	Short: "Register a camera by its Bluetooth address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := strings.ToUpper(args[0])
		registry, err := camera.LoadRegistry(cfg.RegistryPath)
		if err != nil {
			return fmt.Errorf("loading camera registry: %w", err)
		}
		if registry.Get(identity) != nil {
			return fmt.Errorf("camera %s is already registered", identity)
		}
		registry.Put(camera.Record{
			Identity:    identity,
			DisplayName: addName,
			SSID:        addSSID,
			Passphrase:  addPassphrase,
		})
		if err := registry.Save(); err != nil {
			return fmt.Errorf("saving camera registry: %w", err)
		}
		fmt.Printf("Registered camera %s\n", identity)
		return nil
	},
}

var camerasRemoveCmd = &cobra.Command{
	Use:   "remove <identity>",
	Short: "Remove a camera from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := camera.LoadRegistry(cfg.RegistryPath)
		if err != nil {
			return fmt.Errorf("loading camera registry: %w", err)
		}
		if !registry.Remove(args[0]) {
			return fmt.Errorf("no registered camera matches %q", args[0])
		}
		if err := registry.Save(); err != nil {
			return fmt.Errorf("saving camera registry: %w", err)
		}
		fmt.Printf("Removed camera %s\n", strings.ToUpper(args[0]))
		return nil
	},
}

func init() {
	camerasAddCmd.Flags().StringVar(&addName, "name", "", "display name for the camera")
	camerasAddCmd.Flags().StringVar(&addSSID, "ssid", "", "pin the hotspot SSID instead of waiting for the camera to report it")
	camerasAddCmd.Flags().StringVar(&addPassphrase, "passphrase", "", "per-camera hotspot passphrase override")

	camerasCmd.AddCommand(camerasListCmd, camerasAddCmd, camerasRemoveCmd)
	rootCmd.AddCommand(camerasCmd)
}
