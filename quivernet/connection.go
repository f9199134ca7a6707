package quivernet

import (
	"crypto/cipher"
	"os"

	"github.com/charmbracelet/log"
	"github.com/gofrs/uuid"

	"github.com/quiverio/quiver/envelope"
	"github.com/quiverio/quiver/reliability"
	"github.com/quiverio/quiver/replay"
)

// SendFunc hands a raw datagram to the transport for delivery to a
// specific address.
type SendFunc func(address string, datagram []byte)

// DeliverFunc hands a reassembled, decrypted application payload up to
// the caller.
type DeliverFunc func(address string, payload []byte)

// Connection is one established peer's full reliable, encrypted session:
// a reliability endpoint for sequencing/fragmentation, an envelope AEAD
// for confidentiality/integrity, and a replay window guarding against
// duplicate delivery.
type Connection struct {
	ID      uuid.UUID
	Address string

	log *log.Logger

	sendAEAD cipher.AEAD
	recvAEAD cipher.AEAD
	replay   *replay.Window

	endpoint *reliability.Endpoint

	sequence uint64

	deliver DeliverFunc
	send    SendFunc
}

func newConnectionID() uuid.UUID {
	id, err := uuid.NewV4()
	if err != nil {
		// uuid.NewV4 only fails if the CSPRNG is broken; fall back to
		// the nil UUID rather than panicking mid-handshake.
		return uuid.UUID{}
	}
	return id
}

// NewConnection wires a reliability endpoint around sendKey/recvKey for
// address, delivering decrypted application payloads to deliver and
// handing outbound datagrams to send.
func NewConnection(address string, sendKey, recvKey []byte, cfg reliability.Config, logger *log.Logger, send SendFunc, deliver DeliverFunc) (*Connection, error) {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	sendAEAD, err := envelope.NewAEAD(sendKey)
	if err != nil {
		return nil, newCryptoError("build send AEAD: %w", err)
	}
	recvAEAD, err := envelope.NewAEAD(recvKey)
	if err != nil {
		return nil, newCryptoError("build recv AEAD: %w", err)
	}

	id := newConnectionID()
	c := &Connection{
		ID:       id,
		Address:  address,
		log:      logger.With("conn", id),
		sendAEAD: sendAEAD,
		recvAEAD: recvAEAD,
		replay:   replay.NewWindow(),
		deliver:  deliver,
		send:     send,
	}
	c.endpoint = reliability.New(cfg, logger, func(_ uint16, datagram []byte) {
		c.sequence++
		sealed := envelope.Seal(c.sendAEAD, c.sequence, nil, datagram)
		c.send(address, sealed)
	}, func(_ uint16, payload []byte) bool {
		c.deliver(address, payload)
		return true
	})
	return c, nil
}

// SendPayload fragments, frames, and seals an application payload for
// delivery over this connection.
func (c *Connection) SendPayload(payload []byte) error {
	_, err := c.endpoint.Send(payload)
	if err != nil {
		return newWireError("send: %w", err)
	}
	return nil
}

// HandleEnvelope opens a sealed datagram from the transport, checks it
// against the replay window, and forwards the decrypted reliability
// datagram into the endpoint.
func (c *Connection) HandleEnvelope(sealed []byte) error {
	seq, plaintext, err := envelope.Open(c.recvAEAD, nil, sealed)
	if err != nil {
		return newCryptoError("open envelope: %w", err)
	}
	if !c.replay.Check(seq) {
		c.log.Debugf("dropping replayed/duplicate sequence %d", seq)
		return nil
	}
	c.replay.Update(seq)
	if err := c.endpoint.Receive(plaintext); err != nil {
		return newWireError("receive: %w", err)
	}
	return nil
}

// Tick advances the connection's reliability clock.
func (c *Connection) Tick(now float64) { c.endpoint.Update(now) }

// Counters exposes the underlying reliability endpoint's counters.
func (c *Connection) Counters() reliability.Counters { return c.endpoint.Counters() }

// Endpoint exposes the underlying reliability endpoint, e.g. so a
// metrics collector can sample it directly.
func (c *Connection) Endpoint() *reliability.Endpoint { return c.endpoint }

// RTTMilliseconds exposes the underlying reliability endpoint's RTT
// estimate.
func (c *Connection) RTTMilliseconds() float64 { return c.endpoint.RTTMilliseconds() }
