package quivernet

import (
	"os"

	"github.com/charmbracelet/log"

	"github.com/quiverio/quiver/handshake"
	"github.com/quiverio/quiver/reliability"
	"github.com/quiverio/quiver/token"
)

// Client is the top-level client façade: it runs the handshake state
// machine to completion and then hands off to a Connection for the
// lifetime of the session.
type Client struct {
	log  *log.Logger
	hs   *handshake.Client
	cfg  reliability.Config
	ct   *token.ConnectToken
	priv struct {
		clientToServer [32]byte
		serverToClient [32]byte
	}

	conn    *Connection
	send    SendFunc
	deliver DeliverFunc
}

// NewClient begins a connection attempt using ct.
func NewClient(protocolID uint64, ct *token.ConnectToken, cfg reliability.Config, logger *log.Logger, send SendFunc, deliver DeliverFunc) (*Client, error) {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	hs, err := handshake.NewClient(protocolID, ct, handshake.DefaultClientConfig(), logger)
	if err != nil {
		return nil, err
	}
	c := &Client{
		log:     logger,
		hs:      hs,
		cfg:     cfg,
		ct:      ct,
		send:    send,
		deliver: deliver,
	}
	c.priv.clientToServer = ct.ClientToServer
	c.priv.serverToClient = ct.ServerToClient
	return c, nil
}

// Start sends the initial connection request to the token's first
// server address.
func (c *Client) Start(now float64) error {
	req, err := c.hs.Start(now)
	if err != nil {
		return newHandshakeError("start: %w", err)
	}
	addr, err := c.hs.CurrentServerAddress()
	if err != nil {
		return newHandshakeError("no server address: %w", err)
	}
	c.send(addr, req)
	return nil
}

// Established reports whether the handshake has completed and the
// application-level Connection is ready to use.
func (c *Client) Established() bool { return c.conn != nil }

// Connection returns the established Connection, or nil before the
// handshake completes.
func (c *Client) Connection() *Connection { return c.conn }

// HandlePacket processes one datagram from the server: while still
// handshaking it is routed to the handshake state machine, and once
// established it is routed to the live Connection.
func (c *Client) HandlePacket(address string, data []byte, now float64) error {
	if c.conn != nil {
		return c.conn.HandleEnvelope(data)
	}

	reply, established, err := c.hs.HandlePacket(data, now)
	if err != nil {
		return newHandshakeError("handle packet: %w", err)
	}
	if len(reply) > 0 {
		c.send(address, reply)
	}
	if established {
		conn, err := NewConnection(address, c.priv.clientToServer[:], c.priv.serverToClient[:], c.cfg, c.log, c.send, c.deliver)
		if err != nil {
			return err
		}
		c.conn = conn
	}
	return nil
}

// Tick advances the established connection's reliability clock, or,
// while still handshaking, resends the current handshake packet on
// the resend interval and detects a stalled stage timing out.
func (c *Client) Tick(now float64) {
	if c.conn != nil {
		c.conn.Tick(now)
		return
	}

	state := c.hs.State()
	if c.hs.CheckTimeout(now) {
		c.log.Warnf("handshake timed out in state %v", state)
		return
	}
	if !c.hs.NeedsResend(now) {
		return
	}

	var (
		out []byte
		err error
	)
	switch state {
	case handshake.StateSendingRequest:
		out, err = c.hs.ResendRequest(now)
	case handshake.StateSendingResponse:
		out, err = c.hs.ResendResponse(now)
	default:
		return
	}
	if err != nil {
		c.log.Errorf("handshake resend failed: %v", err)
		return
	}
	addr, err := c.hs.CurrentServerAddress()
	if err != nil {
		c.log.Errorf("no server address to resend to: %v", err)
		return
	}
	c.send(addr, out)
}

// Send delivers an application payload over the established connection.
func (c *Client) Send(payload []byte) error {
	if c.conn == nil {
		return newHandshakeError("send before connection established")
	}
	return c.conn.SendPayload(payload)
}
