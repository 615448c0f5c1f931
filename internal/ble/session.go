package ble

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

// SessionOptions configures connection and hotspot-request behavior.
type SessionOptions struct {
	ScanTimeout     time.Duration // how long to look for the camera's advertisement
	ConnectTimeout  time.Duration // per-attempt connect budget
	ConnectAttempts int           // connect attempts before surfacing ConnectTimeout
	BackoffBase     time.Duration // first retry delay, doubled per attempt
	BackoffMax      time.Duration // retry delay cap
	HotspotTimeout  time.Duration // how long to wait for hotspot credentials
	PollInterval    time.Duration // response characteristic poll interval
	// HotspotWindow estimates how long the camera keeps its hotspot up
	// after waking; used to stamp ExpiresApprox on credentials.
	HotspotWindow time.Duration
	// DefaultPassphrase is used when the camera record does not override
	// it and the firmware does not report one.
	DefaultPassphrase string
}

// DefaultSessionOptions returns sensible defaults for the vendor firmware.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		ScanTimeout:       20 * time.Second,
		ConnectTimeout:    15 * time.Second,
		ConnectAttempts:   3,
		BackoffBase:       time.Second,
		BackoffMax:        10 * time.Second,
		HotspotTimeout:    30 * time.Second,
		PollInterval:      500 * time.Millisecond,
		HotspotWindow:     5 * time.Minute,
		DefaultPassphrase: "12345678",
	}
}

// Opener creates camera sessions over a BLE adapter.
type Opener struct {
	adapter Adapter
	pairs   *PairStore
	opts    SessionOptions
	logger  *zap.Logger
}

// NewOpener wires an Opener to the given adapter and pairing store.
func NewOpener(adapter Adapter, pairs *PairStore, opts SessionOptions, logger *zap.Logger) *Opener {
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 10 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &Opener{adapter: adapter, pairs: pairs, opts: opts, logger: logger}
}

// Session is an open BLE connection to one camera. It is owned by a single
// orchestration run and must be closed on every exit path; Close is
// idempotent and safe after failures.
type Session struct {
	identity string
	conn     Connection
	cmdChar  Characteristic
	respChar Characteristic // nil when the firmware has no response characteristic
	opts     SessionOptions
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Open scans for the camera, connects with bounded retries, and performs
// pairing once per identity, remembering it across runs.
//
// Failure kinds: NotFound when the camera is not advertising,
// ConnectTimeout after all attempts are exhausted, AuthFailure (never
// retried) when the controller rejects bonding, ProtocolError when the
// vendor service is missing.
func (o *Opener) Open(ctx context.Context, identity string) (*Session, error) {
	if err := o.adapter.Enable(); err != nil {
		return nil, fault.Newf(fault.KindProtocolError, "enable adapter: %w", err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, o.opts.ScanTimeout)
	devices, err := o.adapter.Scan(scanCtx, ServiceUUID)
	cancel()
	if err != nil {
		return nil, fault.Newf(fault.KindProtocolError, "scan: %w", err)
	}
	if !containsDevice(devices, identity) {
		return nil, fault.Newf(fault.KindNotFound, "camera %s is not advertising", identity)
	}
	o.logger.Debug("camera discovered", zap.String("camera", identity))

	var conn Connection
	var lastErr error
	for attempt := 0; attempt < o.opts.ConnectAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, o.opts.BackoffBase, o.opts.BackoffMax)
			o.logger.Debug("connect backoff",
				zap.String("camera", identity),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fault.Newf(fault.KindConnectTimeout, "connect to %s: %w", identity, ctx.Err())
			}
		}

		connectCtx, cancel := context.WithTimeout(ctx, o.opts.ConnectTimeout)
		conn, err = o.adapter.Connect(connectCtx, identity)
		cancel()
		if err == nil {
			break
		}
		if isAuthError(err) {
			// Bonding rejection is not transient; retrying would only
			// trip the camera's pairing lockout.
			return nil, fault.Newf(fault.KindAuthFailure, "connect to %s: %w", identity, err)
		}
		lastErr = err
		conn = nil
		o.logger.Warn("connect attempt failed",
			zap.String("camera", identity),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	if conn == nil {
		return nil, fault.Newf(fault.KindConnectTimeout, "connect to %s: %w", identity, lastErr)
	}

	cmdChar, err := conn.DiscoverCharacteristic(ServiceUUID, CommandCharUUID)
	if err != nil {
		conn.Disconnect()
		return nil, fault.Newf(fault.KindProtocolError, "discover command characteristic: %w", err)
	}
	// Older firmware has no response characteristic; credentials then come
	// from the camera record instead.
	respChar, err := conn.DiscoverCharacteristic(ServiceUUID, ResponseCharUUID)
	if err != nil {
		o.logger.Debug("no response characteristic", zap.String("camera", identity), zap.Error(err))
		respChar = nil
	}

	// The cameras bond Just Works on first successful connect and service
	// discovery; remember the identity so later runs know no pairing
	// prompt is pending.
	if o.pairs != nil && !o.pairs.Paired(identity) {
		if err := o.pairs.MarkPaired(identity); err != nil {
			o.logger.Warn("persisting pairing state failed", zap.String("camera", identity), zap.Error(err))
		} else {
			o.logger.Info("camera paired", zap.String("camera", identity))
		}
	}

	o.logger.Info("ble session open", zap.String("camera", identity))
	return &Session{
		identity: identity,
		conn:     conn,
		cmdChar:  cmdChar,
		respChar: respChar,
		opts:     o.opts,
		logger:   o.logger,
	}, nil
}

// RequestHotspot wakes the camera's WiFi access point and returns join
// credentials. When the record pins an SSID the reply wait is skipped,
// matching firmware that never reports credentials.
//
// Failure kinds: DeviceBusy when the camera reports it cannot start the
// hotspot yet, ProtocolError on an unparseable reply, ConnectTimeout when
// no reply arrives in time.
func (s *Session) RequestHotspot(ctx context.Context, rec *camera.Record) (camera.HotspotCredentials, error) {
	var none camera.HotspotCredentials

	if err := s.cmdChar.Write(cmdHotspotOn); err != nil {
		if isBusyError(err) {
			return none, fault.Newf(fault.KindDeviceBusy, "wake command: %w", err)
		}
		return none, fault.Newf(fault.KindProtocolError, "wake command: %w", err)
	}
	s.logger.Debug("hotspot wake command written", zap.String("camera", s.identity))

	passphrase := s.opts.DefaultPassphrase
	if rec != nil && rec.Passphrase != "" {
		passphrase = rec.Passphrase
	}
	if rec != nil && rec.SSID != "" {
		return camera.HotspotCredentials{
			SSID:          rec.SSID,
			Passphrase:    passphrase,
			ExpiresApprox: time.Now().Add(s.opts.HotspotWindow),
		}, nil
	}

	if s.respChar == nil {
		return none, fault.Newf(fault.KindProtocolError,
			"camera %s reports no credentials and none are pinned in the registry", s.identity)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.opts.HotspotTimeout)
	defer cancel()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return none, fault.Newf(fault.KindConnectTimeout, "waiting for hotspot credentials: %w", waitCtx.Err())
		case <-ticker.C:
		}

		data, err := s.respChar.Read()
		if err != nil {
			return none, fault.Newf(fault.KindProtocolError, "read hotspot reply: %w", err)
		}
		reply := strings.TrimSpace(string(data))
		if reply == "" {
			continue
		}
		if strings.EqualFold(reply, "BUSY") {
			return none, fault.Newf(fault.KindDeviceBusy, "camera %s busy", s.identity)
		}

		ssid, pwd, err := parseHotspotReply(reply)
		if err != nil {
			return none, fault.New(fault.KindProtocolError, err)
		}
		if pwd == "" {
			pwd = passphrase
		}
		return camera.HotspotCredentials{
			SSID:          ssid,
			Passphrase:    pwd,
			ExpiresApprox: time.Now().Add(s.opts.HotspotWindow),
		}, nil
	}
}

// Hibernate returns the camera to low-power sleep. Best-effort; callers
// run it during release and only log the error.
func (s *Session) Hibernate(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("session to %s already closed", s.identity)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.cmdChar.Write(cmdHotspotOff); err != nil {
		return fmt.Errorf("hibernate command: %w", err)
	}
	s.logger.Debug("camera hibernated", zap.String("camera", s.identity))
	return nil
}

// Close disconnects the session. Idempotent and safe after failures.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.conn.Disconnect(); err != nil {
		return fmt.Errorf("disconnect from %s: %w", s.identity, err)
	}
	s.logger.Debug("ble session closed", zap.String("camera", s.identity))
	return nil
}

// Identity returns the camera address this session is bound to.
func (s *Session) Identity() string { return s.identity }

// parseHotspotReply extracts credentials from a "SSID:<name>;PWD:<pass>"
// reply. The PWD segment is optional on some firmware.
func parseHotspotReply(reply string) (ssid, pwd string, err error) {
	for _, part := range strings.Split(reply, ";") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(strings.ToUpper(part), "SSID:"):
			ssid = strings.TrimSpace(part[len("SSID:"):])
		case strings.HasPrefix(strings.ToUpper(part), "PWD:"):
			pwd = strings.TrimSpace(part[len("PWD:"):])
		}
	}
	if ssid == "" {
		return "", "", fmt.Errorf("unrecognised hotspot reply %q", reply)
	}
	return ssid, pwd, nil
}

// backoffDelay returns the retry delay for attempt n, doubling from base
// and capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}

func containsDevice(devices []Device, identity string) bool {
	for _, d := range devices {
		if strings.EqualFold(d.MAC, identity) {
			return true
		}
	}
	return false
}

func isAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "auth") ||
		strings.Contains(msg, "pairing") ||
		strings.Contains(msg, "insufficient encryption")
}

func isBusyError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "in progress")
}
