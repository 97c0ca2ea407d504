package streamer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	// FrameSize is the fixed payload size of streamed binary frames.
	FrameSize = 1 << 20

	// EOFMarker is the literal text frame ending a stream.
	EOFMarker = "EOF"
)

// ConnectionInfo is everything a client needs to find and authenticate
// against a streamer job: the port range it may have bound, the public
// IPs it may sit behind, and the shared secret.
type ConnectionInfo struct {
	Ports  [2]int   `json:"ports"`
	IPs    []string `json:"ips"`
	Secret string   `json:"secret"`
}

// EncodeToken packs the connection info into the opaque token handed to
// the user: base64url over compact JSON.
func EncodeToken(info ConnectionInfo) (string, error) {
	payload, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("failed to encode connection token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(payload), nil
}

// DecodeToken is the inverse of EncodeToken.
func DecodeToken(token string) (*ConnectionInfo, error) {
	payload, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("malformed connection token: %w", err)
	}
	var info ConnectionInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, fmt.Errorf("malformed connection token: %w", err)
	}
	return &info, nil
}
