package token_test

import (
	"testing"
	"time"

	"github.com/quiverio/quiver/token"
	"github.com/stretchr/testify/require"
)

func testKey() [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = byte(i * 7)
	}
	return k
}

func TestSealOpenPrivateRoundTrip(t *testing.T) {
	priv := &token.Private{
		ClientID:        0xDEADBEEF,
		TimeoutSeconds:  10,
		ServerAddresses: []string{"127.0.0.1:40000"},
	}
	key := testKey()
	sealed, err := token.SealPrivate(key, 1, []byte("ad"), priv)
	require.NoError(t, err)

	got, err := token.OpenPrivate(key, 1, []byte("ad"), sealed)
	require.NoError(t, err)
	require.Equal(t, priv.ClientID, got.ClientID)
	require.Equal(t, priv.ServerAddresses, got.ServerAddresses)
}

func TestOpenPrivateRejectsTamperedData(t *testing.T) {
	priv := &token.Private{ClientID: 1}
	key := testKey()
	sealed, err := token.SealPrivate(key, 1, nil, priv)
	require.NoError(t, err)
	sealed[0] ^= 0xFF
	_, err = token.OpenPrivate(key, 1, nil, sealed)
	require.Error(t, err)
}

func TestConnectTokenEncodeDecodeRoundTrip(t *testing.T) {
	ct := &token.ConnectToken{
		VersionInfo:     token.VersionInfo,
		ProtocolID:      1,
		CreateTimestamp: time.Now().Unix(),
		ExpireTimestamp: time.Now().Add(time.Minute).Unix(),
		ServerAddresses: []string{"10.0.0.1:40000"},
	}
	data, err := token.Encode(ct)
	require.NoError(t, err)
	got, err := token.Decode(data)
	require.NoError(t, err)
	require.Equal(t, ct.ProtocolID, got.ProtocolID)
	require.Equal(t, ct.ServerAddresses, got.ServerAddresses)
}

func TestMatchmakerEnvelopeRoundTrip(t *testing.T) {
	ct := &token.ConnectToken{ProtocolID: 42, ServerAddresses: []string{"1.2.3.4:1000"}}
	encoded, err := token.Encode(ct)
	require.NoError(t, err)

	doc, err := token.EncodeMatchmakerResponse(encoded, ct.ServerAddresses, "req-1")
	require.NoError(t, err)

	decoded, resp, err := token.DecodeMatchmakerResponse(doc)
	require.NoError(t, err)
	require.Equal(t, ct.ProtocolID, decoded.ProtocolID)
	require.Equal(t, "req-1", resp.RequestID)
}

func TestChallengeSealOpenRoundTrip(t *testing.T) {
	key := testKey()
	c := &token.Challenge{ClientID: 9}
	sealed, err := token.SealChallenge(key, 1, c)
	require.NoError(t, err)
	got, err := token.OpenChallenge(key, 1, sealed)
	require.NoError(t, err)
	require.Equal(t, c.ClientID, got.ClientID)
}

func TestReplayTableRejectsCrossAddressDuplicate(t *testing.T) {
	rt := token.NewReplayTable(4)
	var mac [token.PrivateTau]byte
	mac[0] = 1
	now := time.Now()
	require.True(t, rt.CheckAndInsert(mac, "client:1", now))
	require.False(t, rt.CheckAndInsert(mac, "client:2", now))
}

func TestReplayTableAcceptsSameAddressResend(t *testing.T) {
	rt := token.NewReplayTable(4)
	var mac [token.PrivateTau]byte
	mac[0] = 1
	now := time.Now()
	require.True(t, rt.CheckAndInsert(mac, "client:1", now))
	// A client retransmitting its still-unacknowledged connect token from
	// the same address (e.g. the challenge was lost) must not be denied.
	require.True(t, rt.CheckAndInsert(mac, "client:1", now.Add(100*time.Millisecond)))
	require.Equal(t, 1, rt.Len())
}

func TestReplayTableEvictsLRU(t *testing.T) {
	rt := token.NewReplayTable(2)
	now := time.Now()
	var a, b, c [token.PrivateTau]byte
	a[0], b[0], c[0] = 1, 2, 3
	require.True(t, rt.CheckAndInsert(a, "addr:1", now))
	require.True(t, rt.CheckAndInsert(b, "addr:2", now))
	require.True(t, rt.CheckAndInsert(c, "addr:3", now)) // evicts a
	require.Equal(t, 2, rt.Len())
	require.True(t, rt.CheckAndInsert(a, "addr:1", now)) // a was evicted, so "new" again
}
