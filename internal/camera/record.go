// Package camera holds the data model for known trail cameras and the
// transient values that flow through one sync run.
package camera

import (
	"fmt"
	"time"
)

// FileType selects which media listing on the camera to crawl.
type FileType string

const (
	FileTypePhoto FileType = "photo"
	FileTypeVideo FileType = "video"
)

// ListingPath returns the DCIM subdirectory the camera serves this file
// type under.
func (t FileType) ListingPath() string {
	if t == FileTypeVideo {
		return "/DCIM/MOVIE"
	}
	return "/DCIM/PHOTO"
}

// ParseFileType converts a configuration string into a FileType.
func ParseFileType(s string) (FileType, error) {
	switch FileType(s) {
	case FileTypePhoto, FileTypeVideo:
		return FileType(s), nil
	}
	return "", fmt.Errorf("file type must be %q or %q, got %q", FileTypePhoto, FileTypeVideo, s)
}

// Record identifies one physical camera and its connection metadata.
// Records are operator-managed: created on first discovery or via the CLI,
// persisted across runs, never deleted automatically.
type Record struct {
	// Identity is the camera's BLE hardware address, the unique key.
	Identity string `yaml:"identity"`
	// DisplayName is an optional human label.
	DisplayName string `yaml:"display_name,omitempty"`
	// SSID optionally pins the hotspot name the camera advertises after
	// waking. When set, the BLE session does not wait for the camera to
	// report credentials over the response characteristic.
	SSID string `yaml:"ssid,omitempty"`
	// Passphrase overrides the default hotspot passphrase for this camera.
	Passphrase string `yaml:"passphrase,omitempty"`

	LastSeen           time.Time `yaml:"last_seen,omitempty"`
	LastSuccessfulSync time.Time `yaml:"last_successful_sync,omitempty"`
}

// Label returns the display name if set, otherwise the identity.
func (r *Record) Label() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.Identity
}

// HotspotCredentials are the WiFi join parameters a camera reports (or the
// operator pinned) after it is woken into hotspot mode. They are owned by a
// single in-flight run and discarded when the run ends.
type HotspotCredentials struct {
	SSID       string
	Passphrase string
	// ExpiresApprox estimates when the camera will shut its hotspot down
	// again. Informational; the run budget is what actually bounds work.
	ExpiresApprox time.Time
}

// RemoteFileRef describes one file advertised by the camera's web UI.
// It exists only within a single crawl→download handoff.
type RemoteFileRef struct {
	// RemoteName is the bare file name, the ledger key within a camera.
	RemoteName string
	// RemotePath is the URL path the file is served under.
	RemotePath string
	// RemoteSize is the advertised byte size, or 0 when not advertised.
	RemoteSize int64
	// CaptureDate is the date column from the listing, already normalised
	// to YYYY-MM-DD. Used to prefix the local file name.
	CaptureDate  string
	Type         FileType
	DiscoveredAt time.Time
}

// LocalName returns the destination file name, prefixed with the capture
// date when the listing advertised one.
func (r *RemoteFileRef) LocalName() string {
	if r.CaptureDate == "" {
		return r.RemoteName
	}
	return r.CaptureDate + " - " + r.RemoteName
}
