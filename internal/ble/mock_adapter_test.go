package ble

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// mockCharacteristic records writes and serves queued reads.
type mockCharacteristic struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	reads    [][]byte
	readErr  error
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *mockCharacteristic) Read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	if len(c.reads) == 0 {
		return nil, nil
	}
	next := c.reads[0]
	c.reads = c.reads[1:]
	return next, nil
}

// queueRead appends a value the next Read call will return.
func (c *mockCharacteristic) queueRead(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads = append(c.reads, data)
}

func (c *mockCharacteristic) writeLog() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// mockConnection simulates a connected camera exposing the vendor service.
type mockConnection struct {
	mu           sync.Mutex
	cmdChar      *mockCharacteristic
	respChar     *mockCharacteristic
	noRespChar   bool // simulate firmware without the response characteristic
	disconnected int
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		cmdChar:  &mockCharacteristic{},
		respChar: &mockCharacteristic{},
	}
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	switch charUUID {
	case CommandCharUUID:
		return c.cmdChar, nil
	case ResponseCharUUID:
		if c.noRespChar {
			return nil, fmt.Errorf("mock: characteristic %s not found", charUUID)
		}
		return c.respChar, nil
	default:
		return nil, fmt.Errorf("mock: unknown characteristic UUID %q", charUUID)
	}
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected++
	return nil
}

func (c *mockConnection) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// mockAdapter simulates the BLE controller. connectErrs are returned in
// order before connects start succeeding, to exercise retry behavior.
type mockAdapter struct {
	mu          sync.Mutex
	devices     []Device
	connectErrs []error
	connects    int
	connection  *mockConnection
}

func newMockAdapter(devices []Device) *mockAdapter {
	return &mockAdapter{
		devices:    devices,
		connection: newMockConnection(),
	}
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(_ context.Context, _ string) ([]Device, error) {
	return a.devices, nil
}

func (a *mockAdapter) Connect(_ context.Context, _ string) (Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	if len(a.connectErrs) > 0 {
		err := a.connectErrs[0]
		a.connectErrs = a.connectErrs[1:]
		return nil, err
	}
	return a.connection, nil
}

func (a *mockAdapter) connectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}
