package handshake

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fxamacker/cbor/v2"

	"github.com/quiverio/quiver/token"
)

// ServerConfig carries the long-lived keys and policy a Server needs.
type ServerConfig struct {
	ProtocolID uint64
	// ListenAddress is this server's own address as a client would name
	// it; a connect token's ServerAddresses whitelist must contain it.
	ListenAddress       string
	PrivateKey          [32]byte // shared with the token-minting backend
	ChallengeKey        [32]byte // server-local, rotated independently
	MappingCapacity     int
	MappingTimeoutSecs  float64
	ReplayTableCapacity int
	// MaxClients bounds the number of concurrently admitted addresses.
	// Zero means unbounded.
	MaxClients int
}

// OnConnectFunc is invoked once a client completes the handshake.
type OnConnectFunc func(clientID uint64, address string)

// Server drives the four-step handshake from the listening peer's side.
type Server struct {
	cfg              ServerConfig
	log              *log.Logger
	mapping          *MappingTable
	replay           *token.ReplayTable
	nextChallengeSeq uint64
	onConnect        OnConnectFunc
}

// NewServer returns a Server ready to process handshake packets.
func NewServer(cfg ServerConfig, logger *log.Logger, onConnect OnConnectFunc) *Server {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	return &Server{
		cfg:       cfg,
		log:       logger,
		mapping:   NewMappingTable(cfg.MappingCapacity),
		replay:    token.NewReplayTable(cfg.ReplayTableCapacity),
		onConnect: onConnect,
	}
}

// Mapping exposes the server's encryption-mapping table, e.g. so the
// connection layer can look up per-address keys once established.
func (s *Server) Mapping() *MappingTable { return s.mapping }

// Prune sweeps the mapping table for addresses that have timed out.
func (s *Server) Prune(now float64) { s.mapping.Prune(now) }

// HandlePacket dispatches an incoming handshake datagram from address.
// Every handshake packet except CONNECTION_REQUEST (and a denial sent
// before any key material can be derived from it) travels wrapped in
// the AEAD envelope, keyed by the connect token's send/receive keys.
func (s *Server) HandlePacket(address string, data []byte, now float64) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("handshake: empty packet")
	}

	if data[0] == envelopeMarker {
		entry, ok := s.mapping.Find(address)
		if !ok {
			return nil, fmt.Errorf("handshake: enveloped packet from unmapped address %s", address)
		}
		aead, err := buildHandshakeAEAD(entry.ClientToServerKey.Bytes())
		if err != nil {
			return nil, err
		}
		inner, err := unwrapEnvelope(aead, entry.Nonce, data)
		if err != nil {
			return nil, fmt.Errorf("handshake: envelope open failed: %w", err)
		}
		pt, body, err := Decode(inner)
		if err != nil {
			return nil, err
		}
		if pt != PacketResponse {
			return nil, nil
		}
		return s.handleResponse(address, entry, body, now)
	}

	pt, body, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if pt != PacketConnectionRequest {
		return nil, nil
	}
	return s.handleRequest(address, body, now)
}

// denyBare rejects a request before any key material is derivable from
// it (malformed, wrong version, expired, or a failed token open).
func (s *Server) denyBare(reason string) ([]byte, error) {
	return Encode(PacketConnectionDenied, &DeniedPacket{Reason: reason})
}

// denyWithKeys rejects a request once its token has been successfully
// opened, sealing the denial under the token's own keys. A fixed
// sequence number is safe here since the plaintext for a given reason is
// always identical on repeated identical inputs.
func (s *Server) denyWithKeys(sendKey [32]byte, nonce uint64, reason string) ([]byte, error) {
	plain, err := Encode(PacketConnectionDenied, &DeniedPacket{Reason: reason})
	if err != nil {
		return nil, err
	}
	aead, err := buildHandshakeAEAD(sendKey[:])
	if err != nil {
		return nil, err
	}
	return wrapEnvelope(aead, nonce, 1, plain), nil
}

// sealEnveloped seals a post-admission handshake packet under entry's
// send key, advancing its per-entry sequence counter.
func (s *Server) sealEnveloped(entry *Entry, plain []byte) ([]byte, error) {
	aead, err := buildHandshakeAEAD(entry.ServerToClientKey.Bytes())
	if err != nil {
		return nil, err
	}
	entry.HandshakeSendSeq++
	return wrapEnvelope(aead, entry.Nonce, entry.HandshakeSendSeq, plain), nil
}

func requestAdditionalData(req *ConnectionRequestPacket) []byte {
	ad := make([]byte, 0, 13+8+8)
	ad = append(ad, req.VersionInfo[:]...)
	for i := 0; i < 8; i++ {
		ad = append(ad, byte(req.ProtocolID>>(uint(i)*8)))
	}
	for i := 0; i < 8; i++ {
		ad = append(ad, byte(req.TokenExpireTime>>(uint(i)*8)))
	}
	return ad
}

func serverWhitelisted(listenAddress string, whitelist []string) bool {
	for _, addr := range whitelist {
		if addr == listenAddress {
			return true
		}
	}
	return false
}

func (s *Server) handleRequest(address string, body []byte, now float64) ([]byte, error) {
	var req ConnectionRequestPacket
	if err := cbor.Unmarshal(body, &req); err != nil {
		s.log.Debugf("malformed connection request from %s: %v", address, err)
		return s.denyBare("malformed request")
	}
	if req.VersionInfo != token.VersionInfo || req.ProtocolID != s.cfg.ProtocolID {
		return s.denyBare("version mismatch")
	}
	if time.Unix(req.TokenExpireTime, 0).Before(time.Unix(int64(now), 0)) {
		return s.denyBare("token expired")
	}

	priv, err := token.OpenPrivate(s.cfg.PrivateKey, req.TokenNonce, requestAdditionalData(&req), req.TokenData)
	if err != nil {
		s.log.Debugf("token authentication failed from %s: %v", address, err)
		return s.denyBare("invalid token")
	}

	if priv.ClientID == 0 {
		return s.denyWithKeys(priv.ServerToClient, req.TokenNonce, "invalid client id")
	}
	if !serverWhitelisted(s.cfg.ListenAddress, priv.ServerAddresses) {
		return s.denyWithKeys(priv.ServerToClient, req.TokenNonce, "server not authorized by token")
	}

	mac := macOf(req.TokenData)
	if !s.replay.CheckAndInsert(mac, address, time.Unix(int64(now), 0)) {
		s.log.Debugf("replayed connect token from %s", address)
		return s.denyWithKeys(priv.ServerToClient, req.TokenNonce, "token replayed")
	}

	if _, existed := s.mapping.Find(address); existed {
		s.log.Debugf("client slot reused for address %s", address)
	} else {
		if owner, ok := s.mapping.FindByClientID(priv.ClientID); ok && owner != address {
			s.log.Debugf("client id %d already bound to %s, rejecting %s", priv.ClientID, owner, address)
			return s.denyWithKeys(priv.ServerToClient, req.TokenNonce, "client id bound to another address")
		}
		if s.cfg.MaxClients > 0 && s.mapping.Len() >= s.cfg.MaxClients {
			s.log.Debugf("rejecting %s: server full", address)
			return s.denyWithKeys(priv.ServerToClient, req.TokenNonce, "server full")
		}
	}

	entry := s.mapping.Upsert(address, priv.ClientID, req.TokenNonce, priv.ClientToServer, priv.ServerToClient, now, s.cfg.MappingTimeoutSecs)

	s.nextChallengeSeq++
	seq := s.nextChallengeSeq
	sealed, err := token.SealChallenge(s.cfg.ChallengeKey, seq, &token.Challenge{
		ClientID:       priv.ClientID,
		ClientToServer: priv.ClientToServer,
		ServerToClient: priv.ServerToClient,
		UserData:       priv.UserData,
	})
	if err != nil {
		return nil, err
	}
	plain, err := Encode(PacketChallenge, &ChallengePacket{ChallengeSequence: seq, ChallengeData: sealed})
	if err != nil {
		return nil, err
	}
	return s.sealEnveloped(entry, plain)
}

func (s *Server) denyEstablished(entry *Entry, reason string) ([]byte, error) {
	plain, err := Encode(PacketConnectionDenied, &DeniedPacket{Reason: reason})
	if err != nil {
		return nil, err
	}
	return s.sealEnveloped(entry, plain)
}

func (s *Server) keepAlive(entry *Entry) ([]byte, error) {
	plain, err := Encode(PacketKeepAlive, &KeepAlivePacket{ClientIndex: uint32(entry.ClientID)})
	if err != nil {
		return nil, err
	}
	return s.sealEnveloped(entry, plain)
}

func (s *Server) handleResponse(address string, entry *Entry, body []byte, now float64) ([]byte, error) {
	var resp ResponsePacket
	if err := cbor.Unmarshal(body, &resp); err != nil {
		return s.denyEstablished(entry, "malformed response")
	}

	if entry.Established {
		// Duplicate response for an already-established connection:
		// idempotent, just re-confirm rather than re-deriving state.
		s.mapping.Touch(address, now)
		return s.keepAlive(entry)
	}

	ch, err := token.OpenChallenge(s.cfg.ChallengeKey, resp.ChallengeSequence, resp.ChallengeData)
	if err != nil {
		return s.denyEstablished(entry, "invalid challenge response")
	}
	if ch.ClientID != entry.ClientID {
		return s.denyEstablished(entry, "client id mismatch")
	}

	entry.Established = true
	s.mapping.Touch(address, now)
	if s.onConnect != nil {
		s.onConnect(ch.ClientID, address)
	}
	return s.keepAlive(entry)
}

func macOf(sealed []byte) [token.PrivateTau]byte {
	var mac [token.PrivateTau]byte
	if len(sealed) >= token.PrivateTau {
		copy(mac[:], sealed[len(sealed)-token.PrivateTau:])
	}
	return mac
}
