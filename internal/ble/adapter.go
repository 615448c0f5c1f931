// Package ble wakes trail cameras over Bluetooth Low Energy. The cameras
// expose a vendor UART-style GATT service; writing a GPIO command to the
// command characteristic toggles the camera's WiFi hotspot, and some
// firmware revisions report the hotspot credentials back on a response
// characteristic.
package ble

import "context"

// Vendor GATT UUIDs.
const (
	ServiceUUID      = "0000ffe0-0000-1000-8000-00805f9b34fb"
	CommandCharUUID  = "0000ffe9-0000-1000-8000-00805f9b34fb"
	ResponseCharUUID = "0000ffe4-0000-1000-8000-00805f9b34fb"
)

var (
	// cmdHotspotOn wakes the camera and starts its WiFi access point.
	cmdHotspotOn = []byte("GPIO3")
	// cmdHotspotOff returns the camera to low-power sleep.
	cmdHotspotOff = []byte("GPIO2")
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Read fetches the current characteristic value.
	Read() ([]byte, error)
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name string
	MAC  string
	RSSI int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
}

// Adapter abstracts the BLE hardware adapter so session logic can be
// exercised against a simulated camera.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers peripherals advertising the given service UUID until
	// ctx is cancelled.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, mac string) (Connection, error)
}
