// Package reliability implements the reliability endpoint: per-peer
// send/receive sequencing, fragmentation and reassembly, ack extraction,
// and RTT/packet-loss/bandwidth estimation. An Endpoint is single-
// threaded and does no I/O itself — Send hands finished datagrams to a
// caller-supplied transmit callback, and Receive hands reassembled
// application payloads to a caller-supplied processPayload callback.
package reliability

import (
	"os"

	"github.com/charmbracelet/log"

	"github.com/quiverio/quiver/bitio"
	"github.com/quiverio/quiver/seqbuf"
	"github.com/quiverio/quiver/wire"
)

// TransmitFunc hands a finished datagram (a fragment or a whole regular
// packet) to the transport layer. sequence identifies the logical
// packet the datagram belongs to, for caller-side logging/metrics.
type TransmitFunc func(sequence uint16, datagram []byte)

// ProcessPayloadFunc delivers a reassembled application payload to the
// caller. Returning false marks the packet invalid in the counters.
type ProcessPayloadFunc func(sequence uint16, payload []byte) bool

// Endpoint is one side of a reliable connection.
type Endpoint struct {
	cfg  Config
	log  *log.Logger
	time float64

	nextSequence uint16

	sent       *seqbuf.Buffer[SentRecord]
	received   *seqbuf.Buffer[ReceivedRecord]
	reassembly *seqbuf.Buffer[ReassemblyRecord]

	acks     []uint16
	acksHead int
	acksLen  int

	rttMs           float64
	rttInitialized  bool
	packetLossPct   float64
	sentBwKbps      float64
	receivedBwKbps  float64
	ackedBwKbps     float64

	counters Counters

	transmit       TransmitFunc
	processPayload ProcessPayloadFunc
}

// New returns an Endpoint ready to send and receive.
func New(cfg Config, logger *log.Logger, transmit TransmitFunc, processPayload ProcessPayloadFunc) *Endpoint {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	e := &Endpoint{
		cfg:            cfg,
		log:            logger,
		transmit:       transmit,
		processPayload: processPayload,
		acks:           make([]uint16, cfg.AckBufferSize),
	}
	e.sent = seqbuf.New[SentRecord](cfg.SentBufferSize, nil)
	e.received = seqbuf.New[ReceivedRecord](cfg.ReceivedBufferSize, nil)
	e.reassembly = seqbuf.New[ReassemblyRecord](cfg.ReassemblyBufferSize, cleanupReassembly)
	return e
}

// NextSequence returns the sequence number the next Send call will use.
func (e *Endpoint) NextSequence() uint16 { return e.nextSequence }

// Counters returns a snapshot of the endpoint's observable counters.
func (e *Endpoint) Counters() Counters { return e.counters }

// RTTMilliseconds returns the current smoothed round-trip time estimate.
func (e *Endpoint) RTTMilliseconds() float64 { return e.rttMs }

// PacketLossPercent returns the current smoothed packet loss estimate.
func (e *Endpoint) PacketLossPercent() float64 { return e.packetLossPct }

// SentBandwidthKbps returns the current smoothed send bandwidth estimate.
func (e *Endpoint) SentBandwidthKbps() float64 { return e.sentBwKbps }

// ReceivedBandwidthKbps returns the current smoothed receive bandwidth
// estimate.
func (e *Endpoint) ReceivedBandwidthKbps() float64 { return e.receivedBwKbps }

// AckedBandwidthKbps returns the current smoothed acked-bandwidth
// estimate.
func (e *Endpoint) AckedBandwidthKbps() float64 { return e.ackedBwKbps }

// Reset clears sequencing state (buffers, ack queue, send cursor) but
// deliberately keeps the RTT/loss/bandwidth EMAs: a fresh connection on
// the same network path inherits the last known conditions rather than
// re-priming from zero.
func (e *Endpoint) Reset() {
	e.sent.Reset()
	e.received.Reset()
	e.reassembly.Reset()
	e.nextSequence = 0
	e.acksHead = 0
	e.acksLen = 0
	e.counters = Counters{}
}

func (e *Endpoint) stageAck(sequence uint16) {
	if e.acksLen >= len(e.acks) {
		e.counters.AcksDropped++
		return
	}
	idx := (e.acksHead + e.acksLen) % len(e.acks)
	e.acks[idx] = sequence
	e.acksLen++
}

// Acks returns the sequence numbers newly confirmed delivered since the
// last ClearAcks call.
func (e *Endpoint) Acks() []uint16 {
	out := make([]uint16, e.acksLen)
	for i := 0; i < e.acksLen; i++ {
		out[i] = e.acks[(e.acksHead+i)%len(e.acks)]
	}
	return out
}

// ClearAcks empties the staged ack queue.
func (e *Endpoint) ClearAcks() {
	e.acksHead = 0
	e.acksLen = 0
}

func (e *Endpoint) packetHeaderFields() (ack uint16, ackBits uint32) {
	return e.received.Latest() - 1, e.received.GenerateAckBits()
}

// Send fragments payload as needed, hands each resulting datagram to the
// transmit callback, and records send-side bookkeeping for RTT and
// bandwidth estimation.
func (e *Endpoint) Send(payload []byte) (uint16, error) {
	if len(payload) > e.cfg.MaxPacketSize {
		e.counters.PacketsTooLargeToSend++
		return 0, ErrPacketTooLarge
	}
	sequence := e.nextSequence
	e.nextSequence++

	ack, ackBits := e.packetHeaderFields()

	var totalSize int
	if len(payload) <= e.cfg.FragmentThreshold {
		size, err := e.sendRegular(sequence, ack, ackBits, payload)
		if err != nil {
			return 0, err
		}
		totalSize = size
	} else {
		size, err := e.sendFragmented(sequence, ack, ackBits, payload)
		if err != nil {
			return 0, err
		}
		totalSize = size
	}

	rec, ok := e.sent.Insert(sequence)
	if ok {
		rec.TimeSent = e.time
		rec.Size = totalSize + e.cfg.IPUDPOverheadBytes
		rec.Acked = false
	}
	e.counters.PacketsSent++
	return sequence, nil
}

func (e *Endpoint) sendRegular(sequence, ack uint16, ackBits uint32, payload []byte) (int, error) {
	w := bitio.NewWriter(make([]byte, 0, wire.HeaderSize(sequence, ack, ackBits)+len(payload)))
	if err := wire.WriteHeader(w, sequence, ack, ackBits); err != nil {
		return 0, err
	}
	if err := w.WriteBytes(payload); err != nil {
		return 0, err
	}
	datagram := w.Bytes()
	e.transmit(sequence, datagram)
	return len(datagram), nil
}

func (e *Endpoint) sendFragmented(sequence, ack uint16, ackBits uint32, payload []byte) (int, error) {
	fragSize := e.cfg.FragmentSize
	numFragments := (len(payload) + fragSize - 1) / fragSize
	if numFragments == 0 {
		numFragments = 1
	}
	if numFragments > e.cfg.MaxFragments || numFragments > 256 {
		e.counters.PacketsTooLargeToSend++
		return 0, ErrTooManyFragments
	}

	total := 0
	for i := 0; i < numFragments; i++ {
		start := i * fragSize
		end := start + fragSize
		if end > len(payload) {
			end = len(payload)
		}
		fragPayload := payload[start:end]

		w := bitio.NewWriter(make([]byte, 0, wire.FragmentHeaderSize+wire.HeaderSize(sequence, ack, ackBits)+len(fragPayload)))
		if err := wire.WriteFragmentHeader(w, sequence, i, numFragments); err != nil {
			return 0, err
		}
		if i == 0 {
			if err := wire.WriteHeader(w, sequence, ack, ackBits); err != nil {
				return 0, err
			}
		}
		if err := w.WriteBytes(fragPayload); err != nil {
			return 0, err
		}
		datagram := w.Bytes()
		e.transmit(sequence, datagram)
		e.counters.FragmentsSent++
		total += len(datagram)
	}
	return total, nil
}

// Receive dispatches an incoming datagram to the regular or fragment
// path based on its low prefix bit.
func (e *Endpoint) Receive(data []byte) error {
	if len(data) < 1 {
		e.counters.PacketsInvalid++
		return ErrInvalidPacket
	}
	if data[0]&1 == 1 {
		return e.receiveFragment(data)
	}
	return e.receiveRegular(data)
}

func (e *Endpoint) receiveRegular(data []byte) error {
	r := bitio.NewReader(data)
	sequence, ack, ackBits, err := wire.ReadHeader(r)
	if err != nil {
		e.counters.PacketsInvalid++
		return err
	}

	if !e.received.TestInsert(sequence) {
		e.counters.PacketsStale++
		return ErrStalePacket
	}

	payload := data[r.BytesRead():]
	if e.processPayload != nil && !e.processPayload(sequence, payload) {
		e.counters.PacketsInvalid++
	}

	rec, inserted := e.received.Insert(sequence)
	if inserted {
		rec.TimeReceived = e.time
		rec.Size = len(data) + e.cfg.IPUDPOverheadBytes
	}
	e.reassembly.AdvanceTo(sequence + 1)
	e.counters.PacketsReceived++

	e.processAcks(ack, ackBits)
	return nil
}

func (e *Endpoint) processAcks(ack uint16, ackBits uint32) {
	for i := uint16(0); i < 32; i++ {
		if ackBits&(1<<i) == 0 {
			continue
		}
		ackedSeq := ack - i
		rec, ok := e.sent.Find(ackedSeq)
		if !ok || rec.Acked {
			continue
		}
		rec.Acked = true
		e.stageAck(ackedSeq)
		e.counters.PacketsAcked++

		sample := (e.time - rec.TimeSent) * 1000.0
		if !e.rttInitialized {
			e.rttMs = sample
			e.rttInitialized = true
		} else {
			e.rttMs += (sample - e.rttMs) * e.cfg.RTTAlpha
		}
	}
}

func (e *Endpoint) receiveFragment(data []byte) error {
	r := bitio.NewReader(data)
	sequence, fragmentID, totalFragments, err := wire.ReadFragmentHeader(r)
	if err != nil {
		e.counters.FragmentsInvalid++
		return err
	}
	if totalFragments > e.cfg.MaxFragments || totalFragments > 256 {
		e.counters.FragmentsInvalid++
		return ErrTooManyFragments
	}
	if fragmentID < 0 || fragmentID >= totalFragments {
		e.counters.FragmentsInvalid++
		return ErrInvalidPacket
	}

	headerBytes := r.BytesRead()
	fragPayload := data[headerBytes:]

	rec, existed := e.reassembly.Find(sequence)
	if !existed {
		if !e.reassembly.TestInsert(sequence) {
			e.counters.FragmentsInvalid++
			return ErrStalePacket
		}
		var ok bool
		rec, ok = e.reassembly.Insert(sequence)
		if !ok {
			e.counters.FragmentsInvalid++
			return ErrStalePacket
		}
		e.initReassembly(rec, sequence, totalFragments)
	} else if rec.TotalFragments != totalFragments {
		e.counters.FragmentsInvalid++
		return ErrInvalidPacket
	}

	if rec.FragmentReceived[fragmentID] {
		return nil // duplicate fragment, already accounted for
	}

	if fragmentID == 0 {
		hr := bitio.NewReader(fragPayload)
		if _, _, _, err := wire.ReadHeader(hr); err != nil {
			e.counters.FragmentsInvalid++
			return err
		}
		hdrLen := hr.BytesRead()
		rec.HeaderBytes = hdrLen
		copy(rec.Buffer[rec.HeaderReserve-hdrLen:rec.HeaderReserve], fragPayload[:hdrLen])
		fragPayload = fragPayload[hdrLen:]
	}
	if fragmentID != totalFragments-1 && len(fragPayload) != e.cfg.FragmentSize {
		e.counters.FragmentsInvalid++
		return ErrInvalidPacket
	}

	off := rec.HeaderReserve + fragmentID*e.cfg.FragmentSize
	copy(rec.Buffer[off:], fragPayload)
	rec.FragmentReceived[fragmentID] = true
	rec.ReceivedCount++
	if fragmentID == totalFragments-1 {
		rec.AssembledPayloadBytes = (totalFragments-1)*e.cfg.FragmentSize + len(fragPayload)
	}
	e.counters.FragmentsReceived++

	if rec.ReceivedCount == rec.TotalFragments {
		start := rec.HeaderReserve - rec.HeaderBytes
		end := rec.HeaderReserve + rec.AssembledPayloadBytes
		full := rec.Buffer[start:end]
		err := e.Receive(full)
		e.reassembly.Remove(sequence)
		return err
	}
	return nil
}

func (e *Endpoint) initReassembly(rec *ReassemblyRecord, sequence uint16, totalFragments int) {
	rec.Sequence = sequence
	rec.TotalFragments = totalFragments
	rec.ReceivedCount = 0
	rec.HeaderBytes = 0
	rec.AssembledPayloadBytes = 0
	for i := range rec.FragmentReceived {
		rec.FragmentReceived[i] = false
	}
	rec.HeaderReserve = wire.MaxHeaderBytes
	rec.Buffer = make([]byte, rec.HeaderReserve+totalFragments*e.cfg.FragmentSize)
}

func smoothedEMA(current, sample, alpha float64) float64 {
	if current-sample < 1e-5 && sample-current < 1e-5 {
		return sample
	}
	return current + (sample-current)*alpha
}

// Update advances the endpoint's clock and recomputes RTT/loss/bandwidth
// smoothing over the trailing half of the sequence buffers.
func (e *Endpoint) Update(now float64) {
	e.time = now

	windowSize := e.cfg.SentBufferSize / 2
	start := e.nextSequence - uint16(windowSize)

	var totalSent, lost int
	var sentBytes float64
	var minT, maxT float64
	first := true
	var ackedBytes float64
	var minAckedT, maxAckedT float64
	firstAcked := true

	for i := 0; i < windowSize; i++ {
		s := start + uint16(i)
		rec, ok := e.sent.Find(s)
		if !ok {
			continue
		}
		totalSent++
		sentBytes += float64(rec.Size)
		if first || rec.TimeSent < minT {
			minT = rec.TimeSent
		}
		if first || rec.TimeSent > maxT {
			maxT = rec.TimeSent
		}
		first = false
		if rec.Acked {
			ackedBytes += float64(rec.Size)
			if firstAcked || rec.TimeSent < minAckedT {
				minAckedT = rec.TimeSent
			}
			if firstAcked || rec.TimeSent > maxAckedT {
				maxAckedT = rec.TimeSent
			}
			firstAcked = false
		} else {
			lost++
		}
	}

	if totalSent > 0 {
		e.packetLossPct = smoothedEMA(e.packetLossPct, float64(lost)/float64(totalSent)*100.0, e.cfg.PacketLossAlpha)
	}
	if maxT > minT {
		e.sentBwKbps = smoothedEMA(e.sentBwKbps, sentBytes/(maxT-minT)*8.0/1000.0, e.cfg.BandwidthAlpha)
	}
	if maxAckedT > minAckedT {
		e.ackedBwKbps = smoothedEMA(e.ackedBwKbps, ackedBytes/(maxAckedT-minAckedT)*8.0/1000.0, e.cfg.BandwidthAlpha)
	}

	recvWindowSize := e.cfg.ReceivedBufferSize / 2
	recvStart := e.received.Latest() - uint16(recvWindowSize)
	var recvBytes float64
	var minR, maxR float64
	firstR := true
	for i := 0; i < recvWindowSize; i++ {
		s := recvStart + uint16(i)
		rec, ok := e.received.Find(s)
		if !ok {
			continue
		}
		recvBytes += float64(rec.Size)
		if firstR || rec.TimeReceived < minR {
			minR = rec.TimeReceived
		}
		if firstR || rec.TimeReceived > maxR {
			maxR = rec.TimeReceived
		}
		firstR = false
	}
	if maxR > minR {
		e.receivedBwKbps = smoothedEMA(e.receivedBwKbps, recvBytes/(maxR-minR)*8.0/1000.0, e.cfg.BandwidthAlpha)
	}
}
