package ble

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chrisgavin/trailbot/internal/camera"
	"github.com/chrisgavin/trailbot/internal/fault"
)

const testMAC = "AA:BB:CC:DD:EE:01"

func fastOptions() SessionOptions {
	opts := DefaultSessionOptions()
	opts.ScanTimeout = 100 * time.Millisecond
	opts.ConnectTimeout = 100 * time.Millisecond
	opts.BackoffBase = time.Millisecond
	opts.BackoffMax = 5 * time.Millisecond
	opts.HotspotTimeout = 200 * time.Millisecond
	opts.PollInterval = 5 * time.Millisecond
	return opts
}

func testOpener(t *testing.T, adapter Adapter) *Opener {
	t.Helper()
	pairs, err := LoadPairStore(filepath.Join(t.TempDir(), "paired.yaml"))
	if err != nil {
		t.Fatalf("LoadPairStore() error = %v", err)
	}
	return NewOpener(adapter, pairs, fastOptions(), zap.NewNop())
}

func TestOpenSuccess(t *testing.T) {
	adapter := newMockAdapter([]Device{{Name: "TRAILCAM", MAC: testMAC, RSSI: -60}})
	opener := testOpener(t, adapter)

	session, err := opener.Open(context.Background(), testMAC)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer session.Close()

	if session.Identity() != testMAC {
		t.Errorf("Identity() = %q, want %q", session.Identity(), testMAC)
	}
}

func TestOpenNotFound(t *testing.T) {
	adapter := newMockAdapter(nil)
	opener := testOpener(t, adapter)

	_, err := opener.Open(context.Background(), testMAC)
	if fault.KindOf(err) != fault.KindNotFound {
		t.Errorf("Open() kind = %v, want %v", fault.KindOf(err), fault.KindNotFound)
	}
	if adapter.connectCount() != 0 {
		t.Errorf("connect attempts = %d, want 0 when not advertising", adapter.connectCount())
	}
}

func TestOpenAuthFailureNotRetried(t *testing.T) {
	adapter := newMockAdapter([]Device{{MAC: testMAC}})
	adapter.connectErrs = []error{errors.New("le-connection-abort-by-local: authentication failed")}
	opener := testOpener(t, adapter)

	_, err := opener.Open(context.Background(), testMAC)
	if fault.KindOf(err) != fault.KindAuthFailure {
		t.Fatalf("Open() kind = %v, want %v", fault.KindOf(err), fault.KindAuthFailure)
	}
	if adapter.connectCount() != 1 {
		t.Errorf("connect attempts = %d, want exactly 1 on auth failure", adapter.connectCount())
	}
}

func TestOpenRetriesTransientConnectFailures(t *testing.T) {
	adapter := newMockAdapter([]Device{{MAC: testMAC}})
	adapter.connectErrs = []error{errors.New("connection refused"), errors.New("connection refused")}
	opener := testOpener(t, adapter)

	session, err := opener.Open(context.Background(), testMAC)
	if err != nil {
		t.Fatalf("Open() error = %v, want success on third attempt", err)
	}
	defer session.Close()
	if adapter.connectCount() != 3 {
		t.Errorf("connect attempts = %d, want 3", adapter.connectCount())
	}
}

func TestOpenConnectTimeoutAfterAllAttempts(t *testing.T) {
	adapter := newMockAdapter([]Device{{MAC: testMAC}})
	adapter.connectErrs = []error{
		errors.New("timed out"), errors.New("timed out"), errors.New("timed out"),
	}
	opener := testOpener(t, adapter)

	_, err := opener.Open(context.Background(), testMAC)
	if fault.KindOf(err) != fault.KindConnectTimeout {
		t.Errorf("Open() kind = %v, want %v", fault.KindOf(err), fault.KindConnectTimeout)
	}
	if adapter.connectCount() != 3 {
		t.Errorf("connect attempts = %d, want 3", adapter.connectCount())
	}
}

func TestOpenRemembersPairing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paired.yaml")
	pairs, err := LoadPairStore(path)
	if err != nil {
		t.Fatalf("LoadPairStore() error = %v", err)
	}
	adapter := newMockAdapter([]Device{{MAC: testMAC}})
	opener := NewOpener(adapter, pairs, fastOptions(), zap.NewNop())

	session, err := opener.Open(context.Background(), testMAC)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	session.Close()

	reloaded, err := LoadPairStore(path)
	if err != nil {
		t.Fatalf("LoadPairStore() after run error = %v", err)
	}
	if !reloaded.Paired(testMAC) {
		t.Error("pairing state not persisted across store reloads")
	}
}

func TestRequestHotspotPinnedSSID(t *testing.T) {
	adapter := newMockAdapter([]Device{{MAC: testMAC}})
	opener := testOpener(t, adapter)
	session, err := opener.Open(context.Background(), testMAC)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer session.Close()

	rec := &camera.Record{Identity: testMAC, SSID: "TRAILCAM-01", Passphrase: "pass123"}
	creds, err := session.RequestHotspot(context.Background(), rec)
	if err != nil {
		t.Fatalf("RequestHotspot() error = %v", err)
	}
	if creds.SSID != "TRAILCAM-01" || creds.Passphrase != "pass123" {
		t.Errorf("credentials = %+v", creds)
	}
	if creds.ExpiresApprox.Before(time.Now()) {
		t.Error("ExpiresApprox should be in the future")
	}

	writes := adapter.connection.cmdChar.writeLog()
	if len(writes) != 1 || string(writes[0]) != "GPIO3" {
		t.Errorf("wake writes = %q, want single GPIO3", writes)
	}
}

func TestRequestHotspotReadsReply(t *testing.T) {
	adapter := newMockAdapter([]Device{{MAC: testMAC}})
	adapter.connection.respChar.queueRead(nil) // first poll: nothing yet
	adapter.connection.respChar.queueRead([]byte("SSID:TRAILCAM-02;PWD:secret99"))
	opener := testOpener(t, adapter)
	session, err := opener.Open(context.Background(), testMAC)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer session.Close()

	creds, err := session.RequestHotspot(context.Background(), &camera.Record{Identity: testMAC})
	if err != nil {
		t.Fatalf("RequestHotspot() error = %v", err)
	}
	if creds.SSID != "TRAILCAM-02" || creds.Passphrase != "secret99" {
		t.Errorf("credentials = %+v", creds)
	}
}

func TestRequestHotspotDeviceBusy(t *testing.T) {
	adapter := newMockAdapter([]Device{{MAC: testMAC}})
	adapter.connection.respChar.queueRead([]byte("BUSY"))
	opener := testOpener(t, adapter)
	session, _ := opener.Open(context.Background(), testMAC)
	defer session.Close()

	_, err := session.RequestHotspot(context.Background(), &camera.Record{Identity: testMAC})
	if fault.KindOf(err) != fault.KindDeviceBusy {
		t.Errorf("kind = %v, want %v", fault.KindOf(err), fault.KindDeviceBusy)
	}
}

func TestRequestHotspotUnparseableReply(t *testing.T) {
	adapter := newMockAdapter([]Device{{MAC: testMAC}})
	adapter.connection.respChar.queueRead([]byte("???"))
	opener := testOpener(t, adapter)
	session, _ := opener.Open(context.Background(), testMAC)
	defer session.Close()

	_, err := session.RequestHotspot(context.Background(), &camera.Record{Identity: testMAC})
	if fault.KindOf(err) != fault.KindProtocolError {
		t.Errorf("kind = %v, want %v", fault.KindOf(err), fault.KindProtocolError)
	}
}

func TestRequestHotspotTimesOutWithoutReply(t *testing.T) {
	adapter := newMockAdapter([]Device{{MAC: testMAC}})
	opener := testOpener(t, adapter)
	session, _ := opener.Open(context.Background(), testMAC)
	defer session.Close()

	_, err := session.RequestHotspot(context.Background(), &camera.Record{Identity: testMAC})
	if fault.KindOf(err) != fault.KindConnectTimeout {
		t.Errorf("kind = %v, want %v", fault.KindOf(err), fault.KindConnectTimeout)
	}
}

func TestHibernateWritesSleepCommand(t *testing.T) {
	adapter := newMockAdapter([]Device{{MAC: testMAC}})
	opener := testOpener(t, adapter)
	session, _ := opener.Open(context.Background(), testMAC)
	defer session.Close()

	if err := session.Hibernate(context.Background()); err != nil {
		t.Fatalf("Hibernate() error = %v", err)
	}
	writes := adapter.connection.cmdChar.writeLog()
	if len(writes) != 1 || string(writes[0]) != "GPIO2" {
		t.Errorf("writes = %q, want single GPIO2", writes)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	adapter := newMockAdapter([]Device{{MAC: testMAC}})
	opener := testOpener(t, adapter)
	session, _ := opener.Open(context.Background(), testMAC)

	if err := session.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if got := adapter.connection.disconnectCount(); got != 1 {
		t.Errorf("disconnect count = %d, want 1", got)
	}
}

func TestParseHotspotReply(t *testing.T) {
	tests := []struct {
		reply    string
		ssid     string
		pwd      string
		wantErr  bool
	}{
		{"SSID:TRAILCAM-01;PWD:pass123", "TRAILCAM-01", "pass123", false},
		{"ssid:TRAILCAM-01", "TRAILCAM-01", "", false},
		{" SSID: TRAILCAM-01 ; PWD: p ", "TRAILCAM-01", "p", false},
		{"PWD:only", "", "", true},
		{"garbage", "", "", true},
	}
	for _, tt := range tests {
		ssid, pwd, err := parseHotspotReply(tt.reply)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseHotspotReply(%q) err = %v, wantErr %v", tt.reply, err, tt.wantErr)
			continue
		}
		if ssid != tt.ssid || pwd != tt.pwd {
			t.Errorf("parseHotspotReply(%q) = %q, %q, want %q, %q", tt.reply, ssid, pwd, tt.ssid, tt.pwd)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	max := 10 * time.Second
	delays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second, // capped
		10 * time.Second, // still capped
	}
	for i, want := range delays {
		if got := backoffDelay(i, base, max); got != want {
			t.Errorf("backoffDelay(%d) = %v, want %v", i, got, want)
		}
	}
	// Overflow protection on absurd attempt counts.
	if got := backoffDelay(100, base, max); got != max {
		t.Errorf("backoffDelay(100) = %v, want %v", got, max)
	}
}
