package token

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// MatchmakerResponse is the literal JSON document a matchmaking backend
// hands a client over HTTPS: a base64-wrapped connect token plus the
// plaintext fields a client needs before it can even open the token
// (which server to dial first). This is the one place in the module
// that speaks JSON/base64 rather than cbor — it is the external,
// human-debuggable handoff to a backend that was never part of the
// wire protocol itself.
type MatchmakerResponse struct {
	ConnectTokenBase64 string   `json:"connect_token"`
	ServerAddresses    []string `json:"server_addresses"`
	RequestID          string   `json:"request_id,omitempty"`
}

// EncodeMatchmakerResponse wraps an encoded connect token for HTTP
// delivery.
func EncodeMatchmakerResponse(encodedToken []byte, serverAddresses []string, requestID string) ([]byte, error) {
	resp := MatchmakerResponse{
		ConnectTokenBase64: base64.StdEncoding.EncodeToString(encodedToken),
		ServerAddresses:    serverAddresses,
		RequestID:          requestID,
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("token: encode matchmaker response: %w", err)
	}
	return out, nil
}

// DecodeMatchmakerResponse parses a matchmaker JSON document and decodes
// its embedded connect token.
func DecodeMatchmakerResponse(data []byte) (*ConnectToken, *MatchmakerResponse, error) {
	var resp MatchmakerResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, nil, fmt.Errorf("token: decode matchmaker response: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(resp.ConnectTokenBase64)
	if err != nil {
		return nil, nil, fmt.Errorf("token: decode connect token base64: %w", err)
	}
	ct, err := Decode(raw)
	if err != nil {
		return nil, nil, err
	}
	return ct, &resp, nil
}
