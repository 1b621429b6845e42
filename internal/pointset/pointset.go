// Package pointset turns a single point identifier or a point-list file into
// the ordered set of monitoring targets and picks the cycle anchor.
package pointset

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tamzrod/opcua-capture/internal/config"
	"github.com/tamzrod/opcua-capture/internal/protocol"
)

// ErrEmpty is returned when neither source yields a point.
var ErrEmpty = fmt.Errorf("%w: point set is empty", config.ErrInvalid)

// Resolver resolves display labels. protocol.Session satisfies it.
type Resolver interface {
	ResolveDisplayName(ctx context.Context, pointID string) (string, error)
}

// Set is the ordered list of monitored points plus the cycle anchor.
// Built once, never mutated afterwards.
type Set struct {
	points []protocol.Point
	anchor string
}

// Points returns the monitored points in load order.
func (s *Set) Points() []protocol.Point {
	out := make([]protocol.Point, len(s.points))
	copy(out, s.points)
	return out
}

// Len returns the number of points.
func (s *Set) Len() int { return len(s.points) }

// Anchor returns the key that marks the end of one notification cycle.
func (s *Set) Anchor() string { return s.anchor }

// Source describes where points come from. File wins over ID.
type Source struct {
	ID   string
	File string
}

// Load builds a Set from src. A label is resolved only in single-point mode.
func Load(ctx context.Context, src Source, r Resolver) (*Set, error) {
	if src.File != "" {
		return LoadFile(src.File)
	}
	if src.ID == "" {
		return nil, ErrEmpty
	}
	return Single(ctx, src.ID, r)
}

// Single builds a one-point set; the point is also the anchor.
func Single(ctx context.Context, id string, r Resolver) (*Set, error) {
	if id == "" {
		return nil, ErrEmpty
	}

	label := ""
	if r != nil {
		l, err := r.ResolveDisplayName(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve display name of %s: %v", config.ErrInvalid, id, err)
		}
		label = l
	}

	return &Set{
		points: []protocol.Point{{ID: id, Label: label}},
		anchor: id,
	}, nil
}

// LoadFile reads one point identifier per line. Blank lines are skipped and
// no labels are resolved.
func LoadFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: node file %s does not exist", config.ErrInvalid, path)
		}
		return nil, fmt.Errorf("%w: open node file %s: %v", config.ErrInvalid, path, err)
	}
	defer f.Close()

	return Read(f)
}

// Read is LoadFile over an arbitrary reader.
func Read(r io.Reader) (*Set, error) {
	s := &Set{}

	sc := bufio.NewScanner(r)
	// Node ids can be long string identifiers.
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.points = append(s.points, protocol.Point{ID: line})
		s.anchor = line
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: read node file: %v", config.ErrInvalid, err)
	}

	if len(s.points) == 0 {
		return nil, ErrEmpty
	}
	return s, nil
}
