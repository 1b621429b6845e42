// Package protocol defines the narrow surface the capture pipeline needs from an
// OPC UA stack. Adapters live in subpackages.
package protocol

import (
	"context"
	"time"
)

// Record is one value change for one point.
type Record struct {
	PointID         string
	Value           any
	SourceTimestamp time.Time
	Status          uint32 // 0 = Good
}

// Point is one monitoring target as handed to the subscription.
type Point struct {
	ID    string
	Label string
}

// Handler receives value changes. Implementations must be safe for
// concurrent calls from delivery goroutines.
type Handler interface {
	HandleBatch(pointID string, values []Record)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(pointID string, values []Record)

func (f HandlerFunc) HandleBatch(pointID string, values []Record) { f(pointID, values) }

// Endpoint is a discovered and selected server endpoint.
type Endpoint struct {
	URL            string
	SecurityPolicy string // short policy name, e.g. "None", "Basic256Sha256"
	SecurityMode   string

	// Raw is the stack-specific endpoint description.
	Raw any
}

// SubscriptionSpec describes the subscription to create.
type SubscriptionSpec struct {
	PublishingInterval time.Duration
}

// Subscription is an attached, running subscription.
type Subscription interface {
	// Items reports how many monitored items the server accepted.
	Items() int
	Cancel(ctx context.Context) error
}

// Session is an opaque handle to a live server connection.
type Session interface {
	// Probe performs one keep-alive health probe. nil means "good".
	Probe(ctx context.Context) error

	// ResolveDisplayName returns the display label of one point.
	ResolveDisplayName(ctx context.Context, pointID string) (string, error)

	// Subscribe creates the subscription, registers the points as monitored
	// items, and attaches it. Value changes are delivered to h.
	Subscribe(ctx context.Context, spec SubscriptionSpec, points []Point, h Handler) (Subscription, error)

	Close(ctx context.Context) error
}

// Stack is the protocol stack entrypoint.
type Stack interface {
	// Setup creates the application/security context.
	Setup(ctx context.Context) error

	// Discover selects a server endpoint for url.
	Discover(ctx context.Context, url string) (Endpoint, error)

	// Connect creates a session on ep.
	Connect(ctx context.Context, ep Endpoint) (Session, error)

	// Reconnect blocks until the stack has re-established old and returns the
	// replacement handle. Retry and backoff are the stack's concern.
	Reconnect(ctx context.Context, old Session) (Session, error)
}
