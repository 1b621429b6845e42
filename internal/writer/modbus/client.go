// Package modbus mirrors the capture status block into holding registers of
// a Modbus TCP device.
package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// AreaHoldingRegisters is the only area this client writes.
const AreaHoldingRegisters byte = 3

// maxWriteRegisters is the FC16 per-request limit.
const maxWriteRegisters = 123

type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Client owns one TCP handler. The connection is opened on the first write
// and closed after any failed request so the next write starts clean.
type Client struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// NewClient validates cfg without connecting.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("modbus: endpoint required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout
	h.IdleTimeout = time.Minute

	return &Client{handler: h, client: modbus.NewClient(h)}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler.Close()
}

// WriteRegisters writes regs starting at addr with FC16, split into
// requests of at most 123 registers.
func (c *Client) WriteRegisters(area byte, unitID uint8, addr uint16, regs []uint16) error {
	if area != AreaHoldingRegisters {
		return fmt.Errorf("modbus: area %d not writable, status lives in holding registers", area)
	}
	if len(regs) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler.SlaveId = unitID

	for off := 0; off < len(regs); off += maxWriteRegisters {
		chunk := regs[off:min(off+maxWriteRegisters, len(regs))]
		start := addr + uint16(off)

		if _, err := c.client.WriteMultipleRegisters(start, uint16(len(chunk)), encodeRegisters(chunk)); err != nil {
			_ = c.handler.Close()
			return fmt.Errorf("modbus: write %d registers at %d (unit %d): %w", len(chunk), start, unitID, err)
		}
	}
	return nil
}

// encodeRegisters lays registers out big-endian, as FC16 carries them.
func encodeRegisters(regs []uint16) []byte {
	out := make([]byte, 0, 2*len(regs))
	for _, r := range regs {
		out = binary.BigEndian.AppendUint16(out, r)
	}
	return out
}
