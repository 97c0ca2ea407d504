package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/eth-cscs/firecrest/pkg/auth"
	"github.com/eth-cscs/firecrest/pkg/fsops"
	"github.com/eth-cscs/firecrest/pkg/gateway"
	"github.com/eth-cscs/firecrest/pkg/health"
	"github.com/eth-cscs/firecrest/pkg/log"
	"github.com/eth-cscs/firecrest/pkg/scheduler"
	"github.com/eth-cscs/firecrest/pkg/sshpool"
)

// computeRequest is the shared preamble of the compute handlers.
type computeRequest struct {
	cluster  *gateway.Cluster
	identity *auth.Identity
}

func (s *Server) computeRequest(r *http.Request) (*computeRequest, error) {
	cluster, err := s.cluster(r)
	if err != nil {
		return nil, err
	}
	identity, err := s.identity(r)
	if err != nil {
		return nil, err
	}
	if err := gate(cluster, health.ServiceScheduler); err != nil {
		return nil, err
	}
	return &computeRequest{cluster: cluster, identity: identity}, nil
}

func jobIDPath(r *http.Request) (int, error) {
	jobID, err := strconv.Atoi(r.PathValue("jobId"))
	if err != nil {
		return 0, badRequestf("job id must be an integer")
	}
	return jobID, nil
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Job scheduler.JobDescription `json:"job"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	req, err := s.computeRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.resolveScriptPath(r, req, &body.Job); err != nil {
		writeError(w, err)
		return
	}

	jobID, err := req.cluster.Scheduler.SubmitJob(r.Context(), &body.Job, req.identity.Username, req.identity.AccessToken)
	if err != nil {
		writeError(w, err)
		return
	}
	log.WithComponent("api").Info().
		Str("cluster", req.cluster.Config.Name).
		Str("username", req.identity.Username).
		Int("job_id", jobID).
		Msg("job submitted")
	writeJSON(w, http.StatusCreated, map[string]int{"jobId": jobID})
}

// resolveScriptPath inlines a scriptPath submission for the REST backend,
// which has no way to read files on the cluster: the script is fetched
// over the user's SSH connection first. The CLI backends read the path
// themselves.
func (s *Server) resolveScriptPath(r *http.Request, req *computeRequest, job *scheduler.JobDescription) error {
	if job.ScriptPath == "" {
		return nil
	}
	if _, ok := req.cluster.Scheduler.(*scheduler.SlurmRestClient); !ok {
		return nil
	}
	raw, err := req.cluster.Runner.Run(r.Context(), req.identity.Username, req.identity.AccessToken,
		&fsops.Base64Download{Path: job.ScriptPath}, "")
	if err != nil {
		return fmt.Errorf("failed to read script at %s: %w", job.ScriptPath, err)
	}
	encoded, ok := raw.(string)
	if !ok {
		return fmt.Errorf("unexpected script download result type %T", raw)
	}
	script, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return fmt.Errorf("failed to decode script at %s: %w", job.ScriptPath, err)
	}
	job.Script = string(script)
	job.ScriptPath = ""
	return nil
}

func (s *Server) handleGetJobs(w http.ResponseWriter, r *http.Request) {
	req, err := s.computeRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	jobs, err := req.cluster.Scheduler.GetJobs(r.Context(), req.identity.Username, req.identity.AccessToken, boolQuery(r, "allusers"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := s.computeRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	jobs, err := req.cluster.Scheduler.GetJob(r.Context(), jobID, req.identity.Username, req.identity.AccessToken, boolQuery(r, "allusers"))
	if err != nil {
		writeError(w, err)
		return
	}
	if len(jobs) == 0 {
		writeError(w, fmt.Errorf("%w: %d", scheduler.ErrJobNotFound, jobID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleJobMetadata(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := s.computeRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	metadata, err := req.cluster.Scheduler.GetJobMetadata(r.Context(), jobID, req.identity.Username, req.identity.AccessToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": metadata})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := s.computeRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := req.cluster.Scheduler.CancelJob(r.Context(), jobID, req.identity.Username, req.identity.AccessToken); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	req, err := s.computeRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	nodes, err := req.cluster.Scheduler.Nodes(r.Context(), req.identity.Username, req.identity.AccessToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

func (s *Server) handlePartitions(w http.ResponseWriter, r *http.Request) {
	req, err := s.computeRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	partitions, err := req.cluster.Scheduler.Partitions(r.Context(), req.identity.Username, req.identity.AccessToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"partitions": partitions})
}

func (s *Server) handleReservations(w http.ResponseWriter, r *http.Request) {
	req, err := s.computeRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	reservations, err := req.cluster.Scheduler.Reservations(r.Context(), req.identity.Username, req.identity.AccessToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": reservations})
}

// attachKeepAlive is the cadence at which an attached session refreshes
// the SSH client's idle stamp and pings the WebSocket peer.
const attachKeepAlive = 5 * time.Second

var attachUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// bearer-token auth replaces origin checking
	CheckOrigin: func(*http.Request) bool { return true },
}

// attachIdentity resolves the caller for the attach endpoint. Browser
// WebSocket clients cannot set headers, so the token may also travel in
// the token query parameter.
func (s *Server) attachIdentity(r *http.Request) (*auth.Identity, error) {
	token, err := auth.BearerToken(r)
	if err != nil {
		token = r.URL.Query().Get("token")
		if token == "" {
			return nil, err
		}
	}
	return auth.IdentityFromToken(token, s.usernameClaim())
}

// handleAttach bridges an interactive process inside a running job to a
// WebSocket: stdout and stderr stream out as text frames, inbound frames
// feed stdin. The first pipe to finish tears the whole session down.
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	cluster, err := s.cluster(r)
	if err != nil {
		writeError(w, err)
		return
	}
	identity, err := s.attachIdentity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := gate(cluster, health.ServiceScheduler); err != nil {
		writeError(w, err)
		return
	}

	entrypoint := r.URL.Query().Get("entrypoint")
	if entrypoint == "" {
		entrypoint = "bash"
	}
	line, err := cluster.Scheduler.AttachCommand(jobID, entrypoint)
	if err != nil {
		writeError(w, err)
		return
	}

	ws, err := attachUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	err = cluster.Pool.WithClient(r.Context(), identity.Username, identity.AccessToken, func(client *sshpool.Client) error {
		return bridgeAttach(r, ws, client, line)
	})
	if err != nil {
		log.WithComponent("api").Warn().
			Str("cluster", cluster.Config.Name).
			Str("username", identity.Username).
			Int("job_id", jobID).
			Err(err).
			Msg("attach session failed")
	}
}

// bridgeAttach owns the SSH client for the lifetime of the attached
// session and runs the four pumps; the first to complete cancels the
// rest and closes the remote process.
func bridgeAttach(r *http.Request, ws *websocket.Conn, client *sshpool.Client, line string) error {
	interactive, err := client.StartInteractive(line)
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(r.Context())

	// gorilla allows one concurrent writer; stdout and stderr share it
	var writeMu sync.Mutex

	pump := func(pipe io.Reader) func() error {
		return func() error {
			buf := make([]byte, 4096)
			for {
				n, err := pipe.Read(buf)
				if n > 0 {
					writeMu.Lock()
					writeErr := ws.WriteMessage(websocket.TextMessage, buf[:n])
					writeMu.Unlock()
					if writeErr != nil {
						return writeErr
					}
				}
				if err != nil {
					return err
				}
			}
		}
	}
	group.Go(pump(interactive.Stdout))
	group.Go(pump(interactive.Stderr))

	group.Go(func() error {
		for {
			messageType, payload, err := ws.ReadMessage()
			if err != nil {
				return err
			}
			if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
				continue
			}
			if _, err := interactive.Stdin.Write(payload); err != nil {
				return err
			}
		}
	})

	group.Go(func() error {
		ticker := time.NewTicker(attachKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				client.ResetIdle()
				_ = ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	// the winner's cancellation unblocks the losers' reads
	go func() {
		<-ctx.Done()
		interactive.Close()
		ws.Close()
	}()

	err = group.Wait()
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}
