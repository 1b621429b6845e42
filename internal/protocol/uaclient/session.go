package uaclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
	"github.com/rs/zerolog"

	"github.com/tamzrod/opcua-capture/internal/protocol"
)

// session wraps one gopcua client. Reconnect hands out a new wrapper around
// the same client, so every successful reconnect yields a distinct handle.
type session struct {
	client  *opcua.Client
	workers int
	log     zerolog.Logger
}

var _ protocol.Session = (*session)(nil)

func newSession(c *opcua.Client, workers int, log zerolog.Logger) *session {
	if workers <= 0 {
		workers = 1
	}
	return &session{client: c, workers: workers, log: log}
}

func (s *session) renew() *session {
	return newSession(s.client, s.workers, s.log)
}

// Probe reads the server state. Good means the read succeeded and the
// value status is Good.
func (s *session) Probe(ctx context.Context) error {
	if st := s.client.State(); st != opcua.Connected {
		return fmt.Errorf("uaclient: client state %v", st)
	}

	resp, err := s.client.Read(ctx, &ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{
			{NodeID: ua.NewNumericNodeID(0, id.Server_ServerStatus_State), AttributeID: ua.AttributeIDValue},
		},
		TimestampsToReturn: ua.TimestampsToReturnNeither,
	})
	if err != nil {
		return fmt.Errorf("uaclient: keep-alive read: %w", err)
	}
	if len(resp.Results) == 0 {
		return errors.New("uaclient: keep-alive read returned no result")
	}
	if st := resp.Results[0].Status; st != ua.StatusOK {
		return fmt.Errorf("uaclient: keep-alive status %v", st)
	}
	return nil
}

func (s *session) ResolveDisplayName(ctx context.Context, pointID string) (string, error) {
	nid, err := ua.ParseNodeID(pointID)
	if err != nil {
		return "", fmt.Errorf("uaclient: parse node id %q: %w", pointID, err)
	}
	lt, err := s.client.Node(nid).DisplayName(ctx)
	if err != nil {
		return "", fmt.Errorf("uaclient: display name of %s: %w", pointID, err)
	}
	if lt == nil {
		return "", nil
	}
	return lt.Text, nil
}

func (s *session) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
