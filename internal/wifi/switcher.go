// Package wifi owns the host's WiFi interface state during a sync run:
// joining a camera's temporary hotspot and restoring whatever network the
// host was on beforehand.
package wifi

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chrisgavin/trailbot/internal/camera"
	"github.com/chrisgavin/trailbot/internal/fault"
)

// Attachment describes the network the host is currently associated with.
type Attachment struct {
	SSID string
}

// Handle identifies an association created by Join, opaque beyond the SSID.
type Handle struct {
	SSID string
	// ID is backend-specific, e.g. the NetworkManager active-connection
	// object path.
	ID string
}

// Capability is the narrow surface the switcher needs from the host's
// WiFi stack.
type Capability interface {
	// Current returns the present attachment, or nil when unassociated.
	Current(ctx context.Context) (*Attachment, error)
	// Join associates with the given network. Association alone does not
	// imply IP connectivity; see AwaitAddress.
	Join(ctx context.Context, ssid, passphrase string) (*Handle, error)
	// AwaitAddress blocks until the association has a usable IP address.
	AwaitAddress(ctx context.Context, h *Handle) error
	// Leave tears the association down, removing any temporary profile.
	Leave(ctx context.Context, h *Handle) error
}

// State is the switcher's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateJoining
	StateJoined
	StateRestoring
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateRestoring:
		return "restoring"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Switcher drives Idle → Joining → Joined → Restoring → Idle. A failure or
// cancellation during Joining goes straight to Restoring so the host is
// never left stuck on the camera's network.
type Switcher struct {
	cap         Capability
	joinTimeout time.Duration
	logger      *zap.Logger

	mu     sync.Mutex
	state  State
	prior  *Attachment
	active *Handle
}

// NewSwitcher creates a switcher over the given WiFi capability.
func NewSwitcher(capability Capability, joinTimeout time.Duration, logger *zap.Logger) *Switcher {
	if joinTimeout <= 0 {
		joinTimeout = 45 * time.Second
	}
	return &Switcher{cap: capability, joinTimeout: joinTimeout, logger: logger}
}

// State returns the current lifecycle state.
func (s *Switcher) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Join records the host's present attachment, then associates with the
// camera hotspot and waits for an IP-layer address. On any failure the
// switcher restores the prior network before returning.
//
// Failure kinds: AssociationTimeout, AuthRejected, NoIPAddress.
func (s *Switcher) Join(ctx context.Context, creds camera.HotspotCredentials) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fault.Newf(fault.KindAssociationTimeout, "switcher is %s, not idle", s.state)
	}
	s.state = StateJoining
	s.mu.Unlock()

	prior, err := s.cap.Current(ctx)
	if err != nil {
		// Unknown prior state; treat as unattached and continue, there is
		// nothing to restore to.
		s.logger.Warn("could not determine current network", zap.Error(err))
		prior = nil
	}
	s.mu.Lock()
	s.prior = prior
	s.mu.Unlock()
	if prior != nil {
		s.logger.Debug("recorded prior network", zap.String("ssid", prior.SSID))
	}

	joinCtx, cancel := context.WithTimeout(ctx, s.joinTimeout)
	defer cancel()

	handle, err := s.cap.Join(joinCtx, creds.SSID, creds.Passphrase)
	if err != nil {
		s.Restore(context.WithoutCancel(ctx))
		if isAuthRejected(err) {
			return fault.Newf(fault.KindAuthRejected, "join %s: %w", creds.SSID, err)
		}
		return fault.Newf(fault.KindAssociationTimeout, "join %s: %w", creds.SSID, err)
	}

	s.mu.Lock()
	s.active = handle
	s.mu.Unlock()

	// Association alone is not enough: the camera's DHCP server may not
	// have issued an address yet.
	if err := s.cap.AwaitAddress(joinCtx, handle); err != nil {
		s.Restore(context.WithoutCancel(ctx))
		return fault.Newf(fault.KindNoIPAddress, "awaiting address on %s: %w", creds.SSID, err)
	}

	s.mu.Lock()
	s.state = StateJoined
	s.mu.Unlock()
	s.logger.Info("joined camera hotspot", zap.String("ssid", creds.SSID))
	return nil
}

// Restore returns the host to its pre-run network state. Best-effort:
// failures are logged, never surfaced as run failures. Safe to call in any
// state, including repeatedly.
func (s *Switcher) Restore(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateIdle && s.active == nil {
		s.mu.Unlock()
		return
	}
	s.state = StateRestoring
	active := s.active
	prior := s.prior
	s.active = nil
	s.mu.Unlock()

	if active != nil {
		if err := s.cap.Leave(ctx, active); err != nil {
			s.logger.Warn("leaving camera hotspot failed",
				zap.String("ssid", active.SSID), zap.Error(err))
		} else {
			s.logger.Debug("left camera hotspot", zap.String("ssid", active.SSID))
		}
	}

	if prior != nil {
		// The backend reconnects to the prior network on its own once the
		// temporary profile is gone; confirm and log the outcome.
		if current, err := s.cap.Current(ctx); err != nil {
			s.logger.Warn("could not verify network restoration", zap.Error(err))
		} else if current == nil || current.SSID != prior.SSID {
			s.logger.Warn("host did not return to prior network",
				zap.String("want", prior.SSID))
		} else {
			s.logger.Debug("prior network restored", zap.String("ssid", prior.SSID))
		}
	}

	s.mu.Lock()
	s.state = StateIdle
	s.prior = nil
	s.mu.Unlock()
}

func isAuthRejected(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "auth") ||
		strings.Contains(msg, "secrets") ||
		strings.Contains(msg, "psk")
}
