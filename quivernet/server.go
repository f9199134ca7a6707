package quivernet

import (
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/quiverio/quiver/handshake"
	"github.com/quiverio/quiver/reliability"
)

// ServerConfig bundles the handshake policy and reliability tuning a
// Server applies to every connection it accepts.
type ServerConfig struct {
	Handshake   handshake.ServerConfig
	Reliability reliability.Config
}

// Server is the top-level server façade: it fans incoming datagrams out
// to the handshake state machine until a connection is established,
// then to that address's Connection thereafter.
type Server struct {
	log  *log.Logger
	cfg  ServerConfig
	hs   *handshake.Server
	send SendFunc

	mu    sync.Mutex
	conns map[string]*Connection

	deliver DeliverFunc
}

// NewServer returns a Server ready to accept connections.
func NewServer(cfg ServerConfig, logger *log.Logger, send SendFunc, deliver DeliverFunc) *Server {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	s := &Server{
		log:     logger,
		cfg:     cfg,
		send:    send,
		conns:   make(map[string]*Connection),
		deliver: deliver,
	}
	s.hs = handshake.NewServer(cfg.Handshake, logger, s.onHandshakeConnect)
	return s
}

func (s *Server) onHandshakeConnect(clientID uint64, address string) {
	entry, ok := s.hs.Mapping().Find(address)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conns[address]; exists {
		return
	}
	// The server sends under the server->client key and decrypts
	// incoming packets under the client->server key — the reverse of
	// how the client itself uses the same two keys.
	conn, err := NewConnection(address, entry.ServerToClientKey.Bytes(), entry.ClientToServerKey.Bytes(), s.cfg.Reliability, s.log, s.send, s.deliver)
	if err != nil {
		s.log.Errorf("failed to establish connection for %s: %v", address, err)
		return
	}
	s.conns[address] = conn
	s.log.Infof("client %d connected from %s", clientID, address)
}

// HandlePacket processes one datagram from address: once a Connection
// exists for that address it takes priority over the handshake layer,
// since a live connection's envelope framing is indistinguishable from
// a raw handshake packet only by address routing, not by content.
func (s *Server) HandlePacket(address string, data []byte, now float64) error {
	s.mu.Lock()
	conn, ok := s.conns[address]
	s.mu.Unlock()
	if ok {
		return conn.HandleEnvelope(data)
	}

	reply, err := s.hs.HandlePacket(address, data, now)
	if err != nil {
		return newHandshakeError("handle packet: %w", err)
	}
	if len(reply) > 0 {
		s.send(address, reply)
	}
	return nil
}

// Tick advances every connection's reliability clock and sweeps timed
// out handshake mapping entries.
func (s *Server) Tick(now float64) {
	s.hs.Prune(now)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Tick(now)
	}
}

// Send delivers an application payload to address's established
// connection, if any.
func (s *Server) Send(address string, payload []byte) error {
	s.mu.Lock()
	conn, ok := s.conns[address]
	s.mu.Unlock()
	if !ok {
		return newHandshakeError("no established connection for %s", address)
	}
	return conn.SendPayload(payload)
}

// MappingForPersist exposes the underlying handshake encryption-mapping
// table so a persist.Store can checkpoint and restore it across restarts.
func (s *Server) MappingForPersist() *handshake.MappingTable { return s.hs.Mapping() }

// Connections returns the addresses of currently established
// connections.
func (s *Server) Connections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.conns))
	for addr := range s.conns {
		out = append(out, addr)
	}
	return out
}

// Connection returns the established Connection for address, if any.
func (s *Server) Connection(address string) (*Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[address]
	return conn, ok
}
