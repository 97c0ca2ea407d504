package transfer

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/eth-cscs/firecrest/pkg/streamer"
)

// ErrStreamerNotConfigured means the streamer method was requested on a
// cluster without a streamer section.
var ErrStreamerNotConfigured = errors.New("the streamer transfer method is not configured on this cluster")

// streamerMode maps transfer direction onto the job-side server mode.
type streamerMode string

const (
	// streamerSend serves the file to the user (download).
	streamerSend streamerMode = "send"

	// streamerReceive accepts the user's stream into the file (upload).
	streamerReceive streamerMode = "receive"
)

func generateSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate streamer secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// streamerTransfer submits a job running the fc-streamer server and
// returns the connection token for the client side.
func (o *Orchestrator) streamerTransfer(ctx context.Context, filePath, username, accessToken, account string, mode streamerMode) (*Result, error) {
	cfg := o.cluster.Streamer
	if cfg == nil {
		return nil, ErrStreamerNotConfigured
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}
	token, err := streamer.EncodeToken(streamer.ConnectionInfo{
		Ports:  [2]int{cfg.PortRangeStart, cfg.PortRangeEnd},
		IPs:    cfg.PublicIPs,
		Secret: secret,
	})
	if err != nil {
		return nil, err
	}

	line := fmt.Sprintf(
		"fc-streamer serve --mode %s --file %s --port-start %d --port-end %d --secret %s --wait-timeout %d --max-size %d",
		mode, shQuote(filePath), cfg.PortRangeStart, cfg.PortRangeEnd,
		shQuote(secret), cfg.WaitTimeout, cfg.MaxSize)

	direction := "download"
	if mode == streamerReceive {
		direction = "upload"
	}
	staged, err := o.stageJob(username, "f7t_streamer_"+direction+"_job", account, func(directives string) (string, error) {
		return renderScript(line, directives)
	})
	if err != nil {
		return nil, err
	}
	job, err := o.submit(ctx, staged, username, accessToken, "streamer", direction)
	if err != nil {
		return nil, err
	}
	return &Result{
		TransferJob:        job,
		TransferDirectives: StreamerDirectives{TransferMethod: MethodStreamer, ConnectionToken: token},
	}, nil
}
