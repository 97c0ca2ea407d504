package streamer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// dialAttemptTimeout bounds one probe of the IP x port grid; unreachable
// combinations fail fast so the scan finishes.
const dialAttemptTimeout = 3 * time.Second

// Connect scans the IP x port grid of the connection info until a
// streamer server accepts the secret.
func Connect(ctx context.Context, info *ConnectionInfo) (*websocket.Conn, error) {
	header := http.Header{"Authorization": []string{"Bearer " + info.Secret}}

	for _, ip := range info.IPs {
		for port := info.Ports[0]; port < info.Ports[1]; port++ {
			attemptCtx, cancel := context.WithTimeout(ctx, dialAttemptTimeout)
			url := fmt.Sprintf("ws://%s:%d/", ip, port)
			conn, _, err := websocket.DefaultDialer.DialContext(attemptCtx, url, header)
			cancel()
			if err == nil {
				return conn, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
	}
	return nil, errors.New("no streamer server reachable on the advertised endpoints")
}

// Send streams r to the server in fixed-size frames and terminates with
// the EOF marker.
func Send(conn *websocket.Conn, r io.Reader) error {
	buf := make([]byte, FrameSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if writeErr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); writeErr != nil {
				return fmt.Errorf("failed to write frame: %w", writeErr)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(EOFMarker))
}

// Receive drains the server's stream into w until the EOF marker.
func Receive(conn *websocket.Conn, w io.Writer) error {
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("stream interrupted: %w", err)
		}
		if messageType == websocket.TextMessage && string(payload) == EOFMarker {
			return nil
		}
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
}
