// internal/driver/device/transport.go
// USB bulk transport for the ODIN protocol: discovery, open, write, read.
package device

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// Well-known ODIN USB endpoint numbers (§6 of the protocol spec). The read
// burst size and default vendor ID are config.Config fields, not constants
// here, since both are tunable at runtime.
const (
	EndpointOut = 0x01
	EndpointIn  = 0x81
)

// Transport is the abstract bulk USB channel the protocol engine runs over.
// write is immediately followed by the matching read except where the
// protocol explicitly tolerates a ZLP (see Session.GetPIT).
type Transport interface {
	Write(data []byte) error
	Read(maxLen int, timeout time.Duration) ([]byte, error)
	Close() error
}

// USBTransport is the real gousb-backed bulk transport.
type USBTransport struct {
	ctx    *gousb.Context
	device *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint
}

// Discover opens every USB device reporting vendorID, keeps the first match,
// sets its configuration, and claims interface 0/0. Fails with
// ErrDeviceNotFound if no device matches.
func Discover(vendorID uint16) (*USBTransport, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(vendorID)
	})
	// OpenDevices returns a non-nil err alongside any devices that did open
	// successfully when one candidate failed to open; a usable match in devs
	// still wins over that partial failure.
	if len(devs) == 0 {
		ctx.Close()
		if err != nil {
			return nil, fmt.Errorf("open devices vid=0x%04x: %w", vendorID, joinTransportErr(err))
		}
		return nil, fmt.Errorf("vid=0x%04x: %w", vendorID, ErrDeviceNotFound)
	}

	dev := devs[0]
	for _, d := range devs[1:] {
		d.Close()
	}

	config, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("set configuration: %w", joinTransportErr(err))
	}

	intf, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("claim interface: %w", joinTransportErr(err))
	}

	epOut, err := intf.OutEndpoint(EndpointOut)
	if err != nil {
		intf.Close()
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("open OUT endpoint: %w", joinTransportErr(err))
	}

	epIn, err := intf.InEndpoint(EndpointIn)
	if err != nil {
		intf.Close()
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("open IN endpoint: %w", joinTransportErr(err))
	}

	return &USBTransport{
		ctx:    ctx,
		device: dev,
		config: config,
		intf:   intf,
		epOut:  epOut,
		epIn:   epIn,
	}, nil
}

// Write writes data to the bulk OUT endpoint.
func (t *USBTransport) Write(data []byte) error {
	if _, err := t.epOut.Write(data); err != nil {
		return fmt.Errorf("USB write: %w", joinTransportErr(err))
	}
	return nil
}

// Read reads up to maxLen bytes from the bulk IN endpoint, bounded by timeout.
func (t *USBTransport) Read(maxLen int, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	buf := make([]byte, maxLen)
	n, err := t.epIn.ReadContext(ctx, buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("USB read: %w", ErrTimeout)
		}
		return nil, fmt.Errorf("USB read: %w", joinTransportErr(err))
	}
	return buf[:n], nil
}

// Close releases the interface, config, device, and context in order.
func (t *USBTransport) Close() error {
	if t.intf != nil {
		t.intf.Close()
	}
	if t.config != nil {
		t.config.Close()
	}
	var err error
	if t.device != nil {
		err = t.device.Close()
	}
	if t.ctx != nil {
		t.ctx.Close()
	}
	return err
}

// joinTransportErr wraps a lower-level gousb error as a TransportError,
// keeping the original error's text in the message.
func joinTransportErr(err error) error {
	return fmt.Errorf("%w: %v", ErrTransport, err)
}
