package persist

import (
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/quiverio/quiver/handshake"
	"github.com/quiverio/quiver/token"
)

// wireMappingEntry is the CBOR-friendly projection of
// handshake.SnapshotEntry: fixed-size key arrays don't round-trip
// cleanly through cbor without explicit slice conversion.
type wireMappingEntry struct {
	Address           string `cbor:"1,keyasint"`
	ClientID          uint64 `cbor:"2,keyasint"`
	ClientToServerKey []byte `cbor:"3,keyasint"`
	ServerToClientKey []byte `cbor:"4,keyasint"`
	Established       bool   `cbor:"5,keyasint"`
	LastRecvTime      float64 `cbor:"6,keyasint"`
	TimeoutSecs       float64 `cbor:"7,keyasint"`
}

func encodeMappingEntry(e handshake.SnapshotEntry) ([]byte, error) {
	w := wireMappingEntry{
		Address:           e.Address,
		ClientID:          e.ClientID,
		ClientToServerKey: e.ClientToServerKey[:],
		ServerToClientKey: e.ServerToClientKey[:],
		Established:       e.Established,
		LastRecvTime:       e.LastRecvTime,
		TimeoutSecs:        e.TimeoutSecs,
	}
	return cbor.Marshal(w)
}

func decodeMappingEntry(data []byte) (handshake.SnapshotEntry, error) {
	var w wireMappingEntry
	if err := cbor.Unmarshal(data, &w); err != nil {
		return handshake.SnapshotEntry{}, err
	}
	e := handshake.SnapshotEntry{
		Address:      w.Address,
		ClientID:     w.ClientID,
		Established:  w.Established,
		LastRecvTime: w.LastRecvTime,
		TimeoutSecs:  w.TimeoutSecs,
	}
	copy(e.ClientToServerKey[:], w.ClientToServerKey)
	copy(e.ServerToClientKey[:], w.ServerToClientKey)
	return e, nil
}

type wireReplayEntry struct {
	MAC     []byte `cbor:"1,keyasint"`
	Seen    int64  `cbor:"2,keyasint"`
	Address string `cbor:"3,keyasint"`
}

func encodeReplayEntry(e token.SnapshotEntry) ([]byte, error) {
	w := wireReplayEntry{MAC: e.MAC[:], Seen: e.Seen.UnixNano(), Address: e.Address}
	return cbor.Marshal(w)
}

func decodeReplayEntry(data []byte) (token.SnapshotEntry, error) {
	var w wireReplayEntry
	if err := cbor.Unmarshal(data, &w); err != nil {
		return token.SnapshotEntry{}, err
	}
	e := token.SnapshotEntry{Seen: time.Unix(0, w.Seen), Address: w.Address}
	copy(e.MAC[:], w.MAC)
	return e, nil
}
