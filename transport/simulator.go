package transport

import (
	"math/rand"
	"sync"
	"time"

	channels "gopkg.in/eapache/channels.v1"

	"github.com/quiverio/quiver/internal/workerpool"
)

// SimulatorConfig controls the synthetic impairments Simulator applies
// to every packet passed through it.
type SimulatorConfig struct {
	LatencyMilliseconds float64
	JitterMilliseconds  float64
	PacketLossPercent   float64
	DuplicatePercent    float64
}

type pendingPacket struct {
	deliverAt time.Time
	packet    Packet
}

// Simulator stands in for a real socket in tests: it delays, drops, and
// duplicates packets handed to it according to its Config, and exposes
// them on the same Inbound-shaped channel a UDP would.
type Simulator struct {
	workerpool.Worker

	cfg     SimulatorConfig
	rng     *rand.Rand
	inbound *channels.InfiniteChannel

	mu      sync.Mutex
	pending []pendingPacket
}

// NewSimulator returns a Simulator applying cfg to every Send call.
// seed makes the impairment sequence reproducible across test runs.
func NewSimulator(cfg SimulatorConfig, seed int64) *Simulator {
	s := &Simulator{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
		inbound: channels.NewInfiniteChannel(),
	}
	s.Go(s.pump)
	return s
}

// Send enqueues data as if sent to addr, subject to loss, duplication,
// latency and jitter.
func (s *Simulator) Send(addr string, data []byte) error {
	if s.cfg.PacketLossPercent > 0 && s.rng.Float64()*100 < s.cfg.PacketLossPercent {
		return nil
	}
	copies := 1
	if s.cfg.DuplicatePercent > 0 && s.rng.Float64()*100 < s.cfg.DuplicatePercent {
		copies = 2
	}
	for i := 0; i < copies; i++ {
		delay := s.cfg.LatencyMilliseconds
		if s.cfg.JitterMilliseconds > 0 {
			delay += (s.rng.Float64()*2 - 1) * s.cfg.JitterMilliseconds
		}
		if delay < 0 {
			delay = 0
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		s.mu.Lock()
		s.pending = append(s.pending, pendingPacket{
			deliverAt: time.Now().Add(time.Duration(delay * float64(time.Millisecond))),
			packet:    Packet{Address: addr, Data: cp},
		})
		s.mu.Unlock()
	}
	return nil
}

func (s *Simulator) pump() {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.HaltCh():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			remaining := s.pending[:0]
			for _, p := range s.pending {
				if !now.Before(p.deliverAt) {
					s.inbound.In() <- p.packet
				} else {
					remaining = append(remaining, p)
				}
			}
			s.pending = remaining
			s.mu.Unlock()
		}
	}
}

// Inbound returns the channel on which delayed packets eventually arrive.
func (s *Simulator) Inbound() <-chan interface{} { return s.inbound.Out() }

// Close stops the delivery pump.
func (s *Simulator) Close() error {
	s.Halt()
	s.Wait()
	s.inbound.Close()
	return nil
}
