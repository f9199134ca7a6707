package handshake

import "errors"

var (
	// ErrConnectionDenied is surfaced to the client when the server
	// rejects its request or response.
	ErrConnectionDenied = errors.New("handshake: connection denied")
	// ErrTokenExpired names a connect token whose expiry has already
	// passed. Server.HandlePacket does not return it; it answers such a
	// request with a CONNECTION_DENIED packet.
	ErrTokenExpired = errors.New("handshake: connect token expired")
	// ErrVersionMismatch names a request whose version info does not
	// match the server's. Server.HandlePacket does not return it; it
	// answers such a request with a CONNECTION_DENIED packet.
	ErrVersionMismatch = errors.New("handshake: protocol version mismatch")
	// ErrTokenReplayed names a connect token whose private section MAC
	// has already been consumed. Server.HandlePacket does not return it;
	// it answers such a request with a CONNECTION_DENIED packet.
	ErrTokenReplayed = errors.New("handshake: connect token replayed")
	// ErrUnknownClient names a packet from an address with no pending
	// mapping entry. Server.HandlePacket does not return it; that case
	// yields a separately formatted error.
	ErrUnknownClient = errors.New("handshake: no pending connection for address")
)
