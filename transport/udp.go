// Package transport implements the non-blocking UDP collaborator the
// single-threaded core needs: a socket reader goroutine that never
// blocks the core, handing datagrams off through an unbounded channel,
// plus a network simulator for exercising loss/latency/jitter/duplicate
// scenarios without a real unreliable network.
package transport

import (
	"net"
	"os"

	"github.com/charmbracelet/log"
	channels "gopkg.in/eapache/channels.v1"

	"github.com/quiverio/quiver/internal/workerpool"
)

// Packet is one received datagram and its source address.
type Packet struct {
	Address string
	Data    []byte
}

// UDP wraps a net.PacketConn, reading datagrams on a dedicated goroutine
// and buffering them on an unbounded channel so a slow core tick never
// causes the OS socket buffer to back up and drop packets — mirrored on
// the non-blocking ingress queue the core's Tick loop drains each pass.
type UDP struct {
	workerpool.Worker

	conn    net.PacketConn
	log     *log.Logger
	inbound *channels.InfiniteChannel
}

// Listen opens a UDP socket on addr and starts its reader goroutine.
func Listen(addr string, logger *log.Logger) (*UDP, error) {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	u := &UDP{
		conn:    conn,
		log:     logger,
		inbound: channels.NewInfiniteChannel(),
	}
	u.Go(u.readLoop)
	return u, nil
}

func (u *UDP) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-u.HaltCh():
			return
		default:
		}
		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-u.HaltCh():
				return
			default:
				u.log.Debugf("udp read error: %v", err)
				continue
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		u.inbound.In() <- Packet{Address: addr.String(), Data: data}
	}
}

// Inbound returns the channel a core Tick loop should drain every pass.
func (u *UDP) Inbound() <-chan interface{} { return u.inbound.Out() }

// LocalAddr returns the socket's bound address.
func (u *UDP) LocalAddr() string { return u.conn.LocalAddr().String() }

// Send writes a datagram to addr. It never blocks the caller beyond the
// kernel's own non-blocking UDP write path.
func (u *UDP) Send(addr string, data []byte) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	_, err = u.conn.WriteTo(data, raddr)
	return err
}

// Close stops the reader goroutine and closes the socket.
func (u *UDP) Close() error {
	u.Halt()
	err := u.conn.Close()
	u.Wait()
	u.inbound.Close()
	return err
}
