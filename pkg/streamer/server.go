package streamer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eth-cscs/firecrest/pkg/log"
)

// Mode selects the direction of a streamer server.
type Mode string

const (
	// ModeSend streams the file out to the connecting client.
	ModeSend Mode = "send"

	// ModeReceive writes the client's stream into the file.
	ModeReceive Mode = "receive"
)

// ErrWaitTimeout means no authorized peer connected in time.
var ErrWaitTimeout = errors.New("no peer connected before the wait timeout")

// ErrSizeExceeded means an inbound stream went past the configured cap.
var ErrSizeExceeded = errors.New("inbound stream exceeded the size cap")

// Server is the job-side half of the streamer: it binds the first free
// port in [PortStart, PortEnd), waits for one authorized WebSocket peer
// and moves the file, then exits.
type Server struct {
	Mode        Mode
	FilePath    string
	PortStart   int
	PortEnd     int
	Secret      string
	WaitTimeout time.Duration
	MaxSize     int64
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  FrameSize,
	WriteBufferSize: FrameSize,
	// the secret is the authentication; origins are meaningless here
	CheckOrigin: func(*http.Request) bool { return true },
}

// listen binds the first free port of the configured range.
func (s *Server) listen() (net.Listener, int, error) {
	for port := s.PortStart; port < s.PortEnd; port++ {
		listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
		if err == nil {
			return listener, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no free port in [%d, %d)", s.PortStart, s.PortEnd)
}

// Run serves exactly one transfer and returns its outcome.
func (s *Server) Run(ctx context.Context) error {
	listener, port, err := s.listen()
	if err != nil {
		return err
	}
	logger := log.WithComponent("streamer")
	logger.Info().Int("port", port).Str("mode", string(s.Mode)).Msg("listening")

	done := make(chan error, 1)
	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+s.Secret {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()

			switch s.Mode {
			case ModeSend:
				done <- s.sendFile(conn)
			case ModeReceive:
				done <- s.receiveFile(conn)
			default:
				done <- fmt.Errorf("unknown mode %q", s.Mode)
			}
		}),
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- err
		}
	}()
	defer server.Close()

	timeout := time.NewTimer(s.WaitTimeout)
	defer timeout.Stop()

	select {
	case err := <-done:
		return err
	case <-timeout.C:
		return ErrWaitTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) sendFile(conn *websocket.Conn) error {
	file, err := os.Open(s.FilePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer file.Close()

	buf := make([]byte, FrameSize)
	for {
		n, err := file.Read(buf)
		if n > 0 {
			if writeErr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); writeErr != nil {
				return fmt.Errorf("failed to write frame: %w", writeErr)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read source file: %w", err)
		}
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(EOFMarker))
}

func (s *Server) receiveFile(conn *websocket.Conn) error {
	file, err := os.Create(s.FilePath)
	if err != nil {
		return fmt.Errorf("failed to create target file: %w", err)
	}
	defer file.Close()

	var total int64
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("stream interrupted: %w", err)
		}
		if messageType == websocket.TextMessage && string(payload) == EOFMarker {
			return nil
		}
		total += int64(len(payload))
		if total > s.MaxSize {
			return ErrSizeExceeded
		}
		if _, err := file.Write(payload); err != nil {
			return fmt.Errorf("failed to write target file: %w", err)
		}
	}
}
