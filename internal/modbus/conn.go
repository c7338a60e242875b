// Package modbus implements CONN (a single Modbus/TCP session) and POOL (the
// per-device polling pool with a race-free restart protocol), wrapping
// github.com/aldas/go-modbus-client the way the upstream poller package uses it:
// one long-lived *modbus.Client per session, requests built via the packet
// builders, errors returned as values and never thrown across the pool boundary.
package modbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	modbusclient "github.com/aldas/go-modbus-client"
	"github.com/aldas/go-modbus-client/packet"

	"github.com/ibs-source/syslog/consumer/golang/internal/config"
	"github.com/ibs-source/syslog/consumer/golang/internal/ports"
)

// DefaultConnectionRetryCooldown bounds how often a failed connection attempt
// may be retried for one device, per spec ("default 5s").
const DefaultConnectionRetryCooldown = 5 * time.Second

// Conn is one TCP session to one Modbus device. It never panics and never
// lets a transport error escape as anything other than a returned error.
type Conn struct {
	mu           sync.Mutex
	client       *modbusclient.Client
	address      string
	readTimeout  time.Duration
	writeTimeout time.Duration

	connected     bool
	lastAttempt   time.Time
	retryCooldown time.Duration
}

var _ ports.ModbusConn = (*Conn)(nil)

// NewConn builds a Conn for the given device; it does not dial until Connect.
func NewConn(dev config.DeviceConfig) *Conn {
	return &Conn{
		address:       fmt.Sprintf("%s:%d", dev.IP, dev.Port),
		readTimeout:   2 * time.Second,
		writeTimeout:  2 * time.Second,
		retryCooldown: DefaultConnectionRetryCooldown,
	}
}

// Connect dials the device, honoring the connection-retry cooldown: a Connect
// call arriving before the cooldown has elapsed since the last attempt is
// rejected without touching the network, so a hammering caller cannot starve
// the socket layer.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}
	if !c.lastAttempt.IsZero() && time.Since(c.lastAttempt) < c.retryCooldown {
		return fmt.Errorf("connection retry cooldown not elapsed for %s", c.address)
	}
	c.lastAttempt = time.Now()

	client := modbusclient.NewTCPClientWithConfig(modbusclient.ClientConfig{
		ReadTimeout:  c.readTimeout,
		WriteTimeout: c.writeTimeout,
	})
	if err := client.Connect(ctx, c.address); err != nil {
		return fmt.Errorf("connect %s: %w", c.address, err)
	}
	c.client = client
	c.connected = true
	return nil
}

// Close tears down the session. Safe to call when not connected.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.connected = false
	return err
}

// IsConnected reports the last known connection state.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ReadRegisters reads count 16-bit registers starting at address from either
// the Holding or Input register space and returns the raw big-endian register
// bytes (len == count*2), the wire order the packet layer returns them in.
func (c *Conn) ReadRegisters(ctx context.Context, unitID byte, holding bool, address uint16, count int) ([]byte, error) {
	c.mu.Lock()
	client := c.client
	connected := c.connected
	c.mu.Unlock()

	if !connected || client == nil {
		return nil, fmt.Errorf("not connected to %s", c.address)
	}

	quantity := uint16(count) // #nosec G115 -- count is a validated channel register_count (1 or 2)

	var req packet.Request
	var err error
	if holding {
		req, err = packet.NewReadHoldingRegistersRequestTCP(unitID, address, quantity)
	} else {
		req, err = packet.NewReadInputRegistersRequestTCP(unitID, address, quantity)
	}
	if err != nil {
		return nil, fmt.Errorf("build read request: %w", err)
	}

	resp, err := client.Do(ctx, req)
	if err != nil {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		return nil, fmt.Errorf("read registers at %d: %w", address, err)
	}

	regs, err := resp.AsRegisters(address)
	if err != nil {
		return nil, fmt.Errorf("decode registers at %d: %w", address, err)
	}
	return regs.Bytes(), nil
}
