// Package ingest mirrors the capture status block into a raw ingest v1
// memory server over TCP.
package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Wire constants of raw ingest v1. The header is 10 bytes:
// magic "RI", version, area, unit id (u16), address (u16), count (u16),
// followed by count big-endian registers. The server answers one status byte.
const (
	headerLen = 10

	magic     = "RI"
	versionV1 = 0x01

	respOK       byte = 0x00
	respRejected byte = 0x01

	// maxRegisters keeps one packet within a u16 count and a sane size.
	maxRegisters = 0x7FFF
)

// Config selects the memory server.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Client keeps one connection to the memory server, dialed on first use
// and dropped on any transport error. Writes are serialized.
type Client struct {
	endpoint string
	timeout  time.Duration
	dial     func(network, addr string, timeout time.Duration) (net.Conn, error)

	mu   sync.Mutex
	conn net.Conn
}

// NewClient validates cfg. No connection is made until the first write.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("ingest: endpoint required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		dial:     net.DialTimeout,
	}, nil
}

// Close drops the connection if one is open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropLocked()
}

// WriteRegisters sends one packet and waits for the server verdict.
func (c *Client) WriteRegisters(area byte, unitID uint8, addr uint16, regs []uint16) error {
	if len(regs) == 0 {
		return nil
	}
	if len(regs) > maxRegisters {
		return fmt.Errorf("ingest: %d registers exceed one packet", len(regs))
	}

	pkt := appendPacket(make([]byte, 0, headerLen+2*len(regs)), area, unitID, addr, regs)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.exchangeLocked(pkt); err != nil {
		_ = c.dropLocked()
		return err
	}
	return nil
}

func (c *Client) exchangeLocked(pkt []byte) error {
	if c.conn == nil {
		conn, err := c.dial("tcp", c.endpoint, c.timeout)
		if err != nil {
			return fmt.Errorf("ingest: dial %s: %w", c.endpoint, err)
		}
		c.conn = conn
	}

	deadline := time.Now().Add(c.timeout)
	_ = c.conn.SetDeadline(deadline)

	if _, err := c.conn.Write(pkt); err != nil {
		return fmt.Errorf("ingest: write: %w", err)
	}

	var resp [1]byte
	if _, err := io.ReadFull(c.conn, resp[:]); err != nil {
		return fmt.Errorf("ingest: read verdict: %w", err)
	}

	switch resp[0] {
	case respOK:
		return nil
	case respRejected:
		return errors.New("ingest: packet rejected")
	default:
		return fmt.Errorf("ingest: unknown verdict 0x%02x", resp[0])
	}
}

func (c *Client) dropLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// appendPacket appends one raw ingest v1 packet to dst.
func appendPacket(dst []byte, area byte, unitID uint8, addr uint16, regs []uint16) []byte {
	dst = append(dst, magic[0], magic[1], versionV1, area)
	dst = binary.BigEndian.AppendUint16(dst, uint16(unitID))
	dst = binary.BigEndian.AppendUint16(dst, addr)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(regs)))
	for _, r := range regs {
		dst = binary.BigEndian.AppendUint16(dst, r)
	}
	return dst
}
