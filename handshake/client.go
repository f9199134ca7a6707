package handshake

import (
	"crypto/cipher"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/fxamacker/cbor/v2"

	"github.com/quiverio/quiver/token"
)

// ClientState enumerates the client-side handshake progression.
type ClientState int

const (
	StateIdle ClientState = iota
	StateSendingRequest
	StateSendingResponse
	StateConnected
	StateDenied
	// StateRequestTimedOut means no CHALLENGE arrived before the request
	// timeout, having exhausted resends.
	StateRequestTimedOut
	// StateResponseTimedOut means no KEEP_ALIVE confirmed the response
	// before the response timeout, having exhausted resends.
	StateResponseTimedOut
	// StateConnectionTimedOut means an established connection stopped
	// receiving anything before its connection timeout.
	StateConnectionTimedOut
)

// ClientConfig tunes the client-side handshake's resend cadence and
// per-stage timeouts.
type ClientConfig struct {
	ResendIntervalSecs    float64
	RequestTimeoutSecs    float64
	ResponseTimeoutSecs   float64
	ConnectionTimeoutSecs float64
}

// DefaultClientConfig returns the yojimbo-derived defaults: resend every
// 100ms, time out a stalled stage after 5 seconds.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ResendIntervalSecs:    0.1,
		RequestTimeoutSecs:    5,
		ResponseTimeoutSecs:   5,
		ConnectionTimeoutSecs: 5,
	}
}

// Client drives the four-step handshake from the connecting peer's side:
// send a connection request, receive a challenge, echo it back in a
// response, then wait for the server's keep-alive confirming the
// connection.
type Client struct {
	log   *log.Logger
	token *token.ConnectToken
	cfg   ClientConfig

	state             ClientState
	serverAddrIndex   int
	challengeSequence uint64
	challengeData     []byte

	protocolID uint64

	connectStartTime float64
	lastSendTime     float64
	lastRecvTime     float64

	sendAEAD cipher.AEAD // seals outgoing RESPONSE, keyed client->server
	recvAEAD cipher.AEAD // opens incoming CHALLENGE/KEEPALIVE/DENIED, keyed server->client
	sendSeq  uint64
}

// NewClient returns a Client that will attempt ct's server addresses in
// order.
func NewClient(protocolID uint64, ct *token.ConnectToken, cfg ClientConfig, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	sendAEAD, err := buildHandshakeAEAD(ct.ClientToServer[:])
	if err != nil {
		return nil, fmt.Errorf("handshake: build client->server AEAD: %w", err)
	}
	recvAEAD, err := buildHandshakeAEAD(ct.ServerToClient[:])
	if err != nil {
		return nil, fmt.Errorf("handshake: build server->client AEAD: %w", err)
	}
	return &Client{
		log:        logger,
		token:      ct,
		cfg:        cfg,
		protocolID: protocolID,
		state:      StateIdle,
		sendAEAD:   sendAEAD,
		recvAEAD:   recvAEAD,
	}, nil
}

// State returns the client's current handshake state.
func (c *Client) State() ClientState { return c.state }

// CurrentServerAddress returns the server address currently being
// attempted.
func (c *Client) CurrentServerAddress() (string, error) {
	if c.serverAddrIndex >= len(c.token.ServerAddresses) {
		return "", fmt.Errorf("handshake: no more server addresses to try")
	}
	return c.token.ServerAddresses[c.serverAddrIndex], nil
}

// NextServer advances to the next server address in the token, for use
// after a response timeout. It reports false once addresses are
// exhausted.
func (c *Client) NextServer() bool {
	c.serverAddrIndex++
	return c.serverAddrIndex < len(c.token.ServerAddresses)
}

// Start builds the initial connection request packet.
func (c *Client) Start(now float64) ([]byte, error) {
	c.state = StateSendingRequest
	c.connectStartTime = now
	c.lastSendTime = now
	req := &ConnectionRequestPacket{
		VersionInfo:     token.VersionInfo,
		ProtocolID:      c.protocolID,
		TokenExpireTime: c.token.ExpireTimestamp,
		TokenNonce:      c.token.Nonce,
		TokenData:       c.token.PrivateData,
	}
	return Encode(PacketConnectionRequest, req)
}

func (c *Client) sealOutgoing(plain []byte) []byte {
	c.sendSeq++
	return wrapEnvelope(c.sendAEAD, c.token.Nonce, c.sendSeq, plain)
}

// HandlePacket processes one datagram from the server, returning a
// reply to send (if any) and whether the connection is now established.
func (c *Client) HandlePacket(data []byte, now float64) (reply []byte, established bool, err error) {
	if len(data) == 0 {
		return nil, false, fmt.Errorf("handshake: empty packet")
	}

	var inner []byte
	if data[0] == envelopeMarker {
		inner, err = unwrapEnvelope(c.recvAEAD, c.token.Nonce, data)
		if err != nil {
			return nil, false, fmt.Errorf("handshake: envelope open failed: %w", err)
		}
	} else {
		inner = data
	}

	pt, body, err := Decode(inner)
	if err != nil {
		return nil, false, err
	}
	c.lastRecvTime = now

	switch pt {
	case PacketChallenge:
		var ch ChallengePacket
		if err := cbor.Unmarshal(body, &ch); err != nil {
			return nil, false, err
		}
		c.challengeSequence = ch.ChallengeSequence
		c.challengeData = ch.ChallengeData
		c.state = StateSendingResponse
		resp := &ResponsePacket{ChallengeSequence: ch.ChallengeSequence, ChallengeData: ch.ChallengeData}
		plain, err := Encode(PacketResponse, resp)
		if err != nil {
			return nil, false, err
		}
		c.lastSendTime = now
		return c.sealOutgoing(plain), false, nil

	case PacketKeepAlive:
		c.state = StateConnected
		return nil, true, nil

	case PacketConnectionDenied:
		var denied DeniedPacket
		_ = cbor.Unmarshal(body, &denied)
		c.state = StateDenied
		c.log.Warnf("connection denied: %s", denied.Reason)
		return nil, false, ErrConnectionDenied

	default:
		return nil, false, fmt.Errorf("handshake: unexpected packet type %d in state %d", pt, c.state)
	}
}

// NeedsResend reports whether the resend interval has elapsed since the
// last send in the current handshake stage.
func (c *Client) NeedsResend(now float64) bool {
	return now-c.lastSendTime >= c.cfg.ResendIntervalSecs
}

// CheckTimeout evaluates whether the current stage has exceeded its
// timeout, transitioning to the matching terminal state and reporting
// true if so.
func (c *Client) CheckTimeout(now float64) bool {
	switch c.state {
	case StateSendingRequest:
		if now-c.connectStartTime > c.cfg.RequestTimeoutSecs {
			c.state = StateRequestTimedOut
			return true
		}
	case StateSendingResponse:
		if now-c.lastRecvTime > c.cfg.ResponseTimeoutSecs {
			c.state = StateResponseTimedOut
			return true
		}
	case StateConnected:
		if now-c.lastRecvTime > c.cfg.ConnectionTimeoutSecs {
			c.state = StateConnectionTimedOut
			return true
		}
	}
	return false
}

// ResendRequest re-sends the connection request, used when the server
// has not replied within the resend interval.
func (c *Client) ResendRequest(now float64) ([]byte, error) {
	c.lastSendTime = now
	req := &ConnectionRequestPacket{
		VersionInfo:     token.VersionInfo,
		ProtocolID:      c.protocolID,
		TokenExpireTime: c.token.ExpireTimestamp,
		TokenNonce:      c.token.Nonce,
		TokenData:       c.token.PrivateData,
	}
	return Encode(PacketConnectionRequest, req)
}

// ResendResponse re-sends the cached response, used when the server has
// not confirmed the connection within the resend interval.
func (c *Client) ResendResponse(now float64) ([]byte, error) {
	c.lastSendTime = now
	resp := &ResponsePacket{ChallengeSequence: c.challengeSequence, ChallengeData: c.challengeData}
	plain, err := Encode(PacketResponse, resp)
	if err != nil {
		return nil, err
	}
	return c.sealOutgoing(plain), nil
}
