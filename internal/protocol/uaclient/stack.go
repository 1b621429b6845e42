// Package uaclient implements the protocol collaborators on top of gopcua.
package uaclient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"github.com/rs/zerolog"

	cfg "github.com/tamzrod/opcua-capture/internal/config"
	"github.com/tamzrod/opcua-capture/internal/protocol"
)

// Config wires a Stack.
type Config struct {
	Security cfg.SecurityConfig
	Session  cfg.SessionConfig
	Logger   zerolog.Logger
}

// Stack is the gopcua-backed protocol.Stack.
type Stack struct {
	cfg   Config
	log   zerolog.Logger
	trust trustPolicy

	keys *keyPair
}

var _ protocol.Stack = (*Stack)(nil)

// New creates an unconfigured stack. Call Setup first.
func New(c Config) *Stack {
	log := c.Logger.With().Str("component", "uaclient").Logger()
	return &Stack{
		cfg: c,
		log: log,
		trust: trustPolicy{
			autoAccept: c.Security.AutoAccept,
			trustedDir: c.Security.TrustedDir,
			log:        log,
		},
	}
}

// Setup loads or provisions the client certificate. Without one, only
// unsecured endpoints are used.
func (s *Stack) Setup(ctx context.Context) error {
	sec := s.cfg.Security
	if sec.CertFile == "" {
		s.log.Warn().Msg("missing application certificate, using unsecure connection")
		return nil
	}

	kp, created, err := loadOrCreateKeyPair(sec.CertFile, sec.KeyFile, sec.ApplicationName, sec.ApplicationURI)
	if err != nil {
		return err
	}
	if created {
		s.log.Info().Str("cert", sec.CertFile).Str("subject", kp.subject).Msg("created application certificate")
	}
	s.keys = kp
	return nil
}

// Discover fetches the server endpoints and selects one. The server
// certificate of a secured endpoint goes through the trust decision.
func (s *Stack) Discover(ctx context.Context, url string) (protocol.Endpoint, error) {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.Session.DiscoveryTimeout())
	defer cancel()

	eps, err := opcua.GetEndpoints(dctx, url)
	if err != nil {
		return protocol.Endpoint{}, fmt.Errorf("uaclient: get endpoints %s: %w", url, err)
	}

	ep, err := selectEndpoint(eps, s.keys != nil, s.cfg.Security.Policy, s.cfg.Security.Mode)
	if err != nil {
		return protocol.Endpoint{}, err
	}

	if ep.SecurityMode != ua.MessageSecurityModeNone {
		if err := s.trust.check(ep.ServerCertificate); err != nil {
			return protocol.Endpoint{}, err
		}
	}

	return protocol.Endpoint{
		URL:            url,
		SecurityPolicy: policyName(ep.SecurityPolicyURI),
		SecurityMode:   modeName(ep.SecurityMode),
		Raw:            ep,
	}, nil
}

// Connect creates the session. gopcua's auto-reconnect is the reconnect
// handler; Reconnect only waits for it.
func (s *Stack) Connect(ctx context.Context, ep protocol.Endpoint) (protocol.Session, error) {
	desc, ok := ep.Raw.(*ua.EndpointDescription)
	if !ok || desc == nil {
		return nil, errors.New("uaclient: endpoint was not discovered by this stack")
	}

	host, _ := os.Hostname()
	opts := []opcua.Option{
		opcua.ApplicationName(s.cfg.Security.ApplicationName),
		opcua.SessionName("OPC UA Console Client - " + host),
		opcua.SessionTimeout(s.cfg.Session.Timeout()),
		opcua.AutoReconnect(true),
		opcua.ReconnectInterval(s.cfg.Session.ReconnectDelay()),
		opcua.SecurityFromEndpoint(desc, ua.UserTokenTypeAnonymous),
		opcua.AuthAnonymous(),
	}
	if s.cfg.Security.ApplicationURI != "" {
		opts = append(opts, opcua.ApplicationURI(s.cfg.Security.ApplicationURI))
	}
	if s.keys != nil {
		opts = append(opts,
			opcua.Certificate(s.keys.certDER),
			opcua.PrivateKey(s.keys.key),
		)
	}

	c, err := opcua.NewClient(ep.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("uaclient: new client: %w", err)
	}
	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("uaclient: connect %s: %w", ep.URL, err)
	}

	return newSession(c, s.cfg.Session.DeliveryWorkers, s.log), nil
}

// Reconnect blocks until the client of old reports Connected again and
// returns a fresh handle for it.
func (s *Stack) Reconnect(ctx context.Context, old protocol.Session) (protocol.Session, error) {
	prev, ok := old.(*session)
	if !ok || prev == nil {
		return nil, errors.New("uaclient: foreign session handle")
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		switch prev.client.State() {
		case opcua.Connected:
			return prev.renew(), nil
		case opcua.Closed:
			return nil, errors.New("uaclient: client closed")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
