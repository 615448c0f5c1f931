package wifi

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	nmDest              = "org.freedesktop.NetworkManager"
	nmPath              = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmDeviceIface       = "org.freedesktop.NetworkManager.Device"
	nmActiveIface       = "org.freedesktop.NetworkManager.Connection.Active"
	nmSettingsConnIface = "org.freedesktop.NetworkManager.Settings.Connection"

	// NMDeviceState values we care about.
	nmDeviceStateDisconnected = 30
	nmDeviceStateIPConfig     = 70
	nmDeviceStateActivated    = 100
	nmDeviceStateFailed       = 120
)

// NetworkManager implements Capability against the host's NetworkManager
// daemon over the system D-Bus, the same mechanism the desktop uses. Joins
// create a temporary connection profile; Leave deletes it, after which
// NetworkManager autoconnects back to the prior network.
type NetworkManager struct {
	conn         *dbus.Conn
	ifaceName    string
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewNetworkManager connects to the system bus. ifaceName is the WiFi
// interface to manage, e.g. "wlan0".
func NewNetworkManager(ifaceName string, logger *zap.Logger) (*NetworkManager, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("wifi: connect to system bus: %w", err)
	}
	return &NetworkManager{
		conn:         conn,
		ifaceName:    ifaceName,
		pollInterval: time.Second,
		logger:       logger,
	}, nil
}

var _ Capability = (*NetworkManager)(nil)

func (n *NetworkManager) devicePath(ctx context.Context) (dbus.ObjectPath, error) {
	var path dbus.ObjectPath
	err := n.conn.Object(nmDest, nmPath).
		CallWithContext(ctx, nmDest+".GetDeviceByIpIface", 0, n.ifaceName).
		Store(&path)
	if err != nil {
		return "", fmt.Errorf("wifi: resolve interface %s: %w", n.ifaceName, err)
	}
	return path, nil
}

func (n *NetworkManager) deviceState(path dbus.ObjectPath) (uint32, error) {
	variant, err := n.conn.Object(nmDest, path).GetProperty(nmDeviceIface + ".State")
	if err != nil {
		return 0, fmt.Errorf("wifi: read device state: %w", err)
	}
	state, ok := variant.Value().(uint32)
	if !ok {
		return 0, fmt.Errorf("wifi: unexpected device state type %T", variant.Value())
	}
	return state, nil
}

func (n *NetworkManager) Current(ctx context.Context) (*Attachment, error) {
	devPath, err := n.devicePath(ctx)
	if err != nil {
		return nil, err
	}
	variant, err := n.conn.Object(nmDest, devPath).GetProperty(nmDeviceIface + ".ActiveConnection")
	if err != nil {
		return nil, fmt.Errorf("wifi: read active connection: %w", err)
	}
	activePath, ok := variant.Value().(dbus.ObjectPath)
	if !ok || activePath == "/" {
		return nil, nil
	}
	idVariant, err := n.conn.Object(nmDest, activePath).GetProperty(nmActiveIface + ".Id")
	if err != nil {
		return nil, fmt.Errorf("wifi: read connection id: %w", err)
	}
	id, _ := idVariant.Value().(string)
	if id == "" {
		return nil, nil
	}
	return &Attachment{SSID: id}, nil
}

func (n *NetworkManager) Join(ctx context.Context, ssid, passphrase string) (*Handle, error) {
	devPath, err := n.devicePath(ctx)
	if err != nil {
		return nil, err
	}

	settings := map[string]map[string]dbus.Variant{
		"connection": {
			"id":   dbus.MakeVariant(ssid),
			"type": dbus.MakeVariant("802-11-wireless"),
		},
		"802-11-wireless": {
			"mode": dbus.MakeVariant("infrastructure"),
			"ssid": dbus.MakeVariant([]byte(ssid)),
		},
		"802-11-wireless-security": {
			"key-mgmt": dbus.MakeVariant("wpa-psk"),
			"psk":      dbus.MakeVariant(passphrase),
		},
		"ipv4": {"method": dbus.MakeVariant("auto")},
		"ipv6": {"method": dbus.MakeVariant("auto")},
	}

	var settingsPath, activePath dbus.ObjectPath
	err = n.conn.Object(nmDest, nmPath).
		CallWithContext(ctx, nmDest+".AddAndActivateConnection", 0,
			settings, devPath, dbus.ObjectPath("/")).
		Store(&settingsPath, &activePath)
	if err != nil {
		return nil, fmt.Errorf("wifi: activate %s: %w", ssid, err)
	}

	handle := &Handle{SSID: ssid, ID: string(settingsPath)}

	// Wait for association to progress past configuration. Address
	// acquisition is AwaitAddress's job.
	for {
		state, err := n.deviceState(devPath)
		if err != nil {
			n.leaveQuietly(ctx, handle)
			return nil, err
		}
		switch {
		case state >= nmDeviceStateIPConfig && state != nmDeviceStateFailed:
			return handle, nil
		case state == nmDeviceStateFailed:
			n.leaveQuietly(ctx, handle)
			return nil, fmt.Errorf("wifi: activation of %s failed (bad secrets or out of range)", ssid)
		}
		select {
		case <-ctx.Done():
			n.leaveQuietly(ctx, handle)
			return nil, fmt.Errorf("wifi: associating with %s: %w", ssid, ctx.Err())
		case <-time.After(n.pollInterval):
		}
	}
}

func (n *NetworkManager) AwaitAddress(ctx context.Context, h *Handle) error {
	devPath, err := n.devicePath(ctx)
	if err != nil {
		return err
	}
	for {
		state, err := n.deviceState(devPath)
		if err != nil {
			return err
		}
		if state == nmDeviceStateActivated {
			// ACTIVATED means NetworkManager finished IP configuration;
			// double-check an IPv4 config actually exists.
			variant, err := n.conn.Object(nmDest, devPath).GetProperty(nmDeviceIface + ".Ip4Config")
			if err != nil {
				return fmt.Errorf("wifi: read ip4 config: %w", err)
			}
			if path, ok := variant.Value().(dbus.ObjectPath); !ok || path == "/" {
				return fmt.Errorf("wifi: %s activated without an IPv4 address", h.SSID)
			}
			return nil
		}
		if state == nmDeviceStateFailed || state <= nmDeviceStateDisconnected {
			return fmt.Errorf("wifi: %s dropped before an address was issued", h.SSID)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wifi: waiting for address on %s: %w", h.SSID, ctx.Err())
		case <-time.After(n.pollInterval):
		}
	}
}

func (n *NetworkManager) Leave(ctx context.Context, h *Handle) error {
	// Deleting the temporary profile both disconnects and lets
	// NetworkManager autoconnect back to the previous network.
	err := n.conn.Object(nmDest, dbus.ObjectPath(h.ID)).
		CallWithContext(ctx, nmSettingsConnIface+".Delete", 0).
		Err
	if err != nil {
		return fmt.Errorf("wifi: delete connection %s: %w", h.SSID, err)
	}
	return nil
}

func (n *NetworkManager) leaveQuietly(ctx context.Context, h *Handle) {
	if err := n.Leave(context.WithoutCancel(ctx), h); err != nil {
		n.logger.Debug("cleanup of failed activation", zap.Error(err))
	}
}
