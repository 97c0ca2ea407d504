package transfer

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// spaceWords is the fixed word list wormhole codes draw from.
var spaceWords = []string{
	"asteroid", "aurora", "comet", "cosmos", "eclipse", "galaxy",
	"gravity", "horizon", "jupiter", "luna", "mercury", "meteor",
	"nebula", "neptune", "nova", "orbit", "photon", "plasma",
	"pulsar", "quasar", "rocket", "saturn", "solstice", "stardust",
	"supernova", "telescope", "titan", "uranus", "venus", "zenith",
}

// generateWormholeCode builds a "NN-word-word-word" code with a channel
// in 1..99, using the system CSPRNG.
func generateWormholeCode() (string, error) {
	channel, err := rand.Int(rand.Reader, big.NewInt(99))
	if err != nil {
		return "", fmt.Errorf("failed to generate wormhole code: %w", err)
	}

	words := make([]string, 3)
	for i := range words {
		index, err := rand.Int(rand.Reader, big.NewInt(int64(len(spaceWords))))
		if err != nil {
			return "", fmt.Errorf("failed to generate wormhole code: %w", err)
		}
		words[i] = spaceWords[index.Int64()]
	}
	return fmt.Sprintf("%d-%s", channel.Int64()+1, strings.Join(words, "-")), nil
}

// wormholeUpload runs the receiver inside the cluster; the user is the
// sender and supplied the code.
func (o *Orchestrator) wormholeUpload(ctx context.Context, targetPath, username, accessToken, account, code string) (*Result, error) {
	if code == "" {
		return nil, ErrCodeRequired
	}
	line := fmt.Sprintf("wormhole receive --accept-file --output-file %s %s",
		shQuote(targetPath), shQuote(code))

	staged, err := o.stageJob(username, "f7t_wormhole_upload_job", account, func(directives string) (string, error) {
		return renderScript(line, directives)
	})
	if err != nil {
		return nil, err
	}
	job, err := o.submit(ctx, staged, username, accessToken, "wormhole", "upload")
	if err != nil {
		return nil, err
	}
	return &Result{TransferJob: job}, nil
}

// wormholeDownload runs the sender inside the cluster under a
// gateway-generated code, which is returned to the user.
func (o *Orchestrator) wormholeDownload(ctx context.Context, sourcePath, username, accessToken, account string) (*Result, error) {
	code, err := generateWormholeCode()
	if err != nil {
		return nil, err
	}
	line := fmt.Sprintf("wormhole send --code %s %s", shQuote(code), shQuote(sourcePath))

	staged, err := o.stageJob(username, "f7t_wormhole_download_job", account, func(directives string) (string, error) {
		return renderScript(line, directives)
	})
	if err != nil {
		return nil, err
	}
	job, err := o.submit(ctx, staged, username, accessToken, "wormhole", "download")
	if err != nil {
		return nil, err
	}
	return &Result{
		TransferJob:        job,
		TransferDirectives: WormholeDirectives{TransferMethod: MethodWormhole, Code: code},
	}, nil
}
