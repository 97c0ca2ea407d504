package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/eth-cscs/firecrest/pkg/auth"
	"github.com/eth-cscs/firecrest/pkg/fsops"
	"github.com/eth-cscs/firecrest/pkg/gateway"
	"github.com/eth-cscs/firecrest/pkg/health"
	"github.com/eth-cscs/firecrest/pkg/sshpool"
)

// opRequest is the shared preamble of every filesystem operation: the
// resolved cluster, the authenticated caller and a passed availability
// gate.
type opRequest struct {
	cluster  *gateway.Cluster
	identity *auth.Identity
}

func (s *Server) opRequest(r *http.Request) (*opRequest, error) {
	cluster, err := s.cluster(r)
	if err != nil {
		return nil, err
	}
	identity, err := s.identity(r)
	if err != nil {
		return nil, err
	}
	if err := gate(cluster, health.ServiceFilesystem); err != nil {
		return nil, err
	}
	return &opRequest{cluster: cluster, identity: identity}, nil
}

// run executes a filesystem command as the caller.
func (op *opRequest) run(r *http.Request, command sshpool.Command, stdin string) (any, error) {
	return op.cluster.Runner.Run(r.Context(), op.identity.Username, op.identity.AccessToken, command, stdin)
}

// runOp is the common tail of the read-style handlers: execute, wrap the
// parsed value under "output".
func (s *Server) runOp(w http.ResponseWriter, r *http.Request, status int, command sshpool.Command, stdin string) {
	op, err := s.opRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := op.run(r, command, stdin)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, map[string]any{"output": result})
}

// pathQuery returns the mandatory path query parameter.
func pathQuery(r *http.Request) (string, error) {
	path := r.URL.Query().Get("path")
	if path == "" {
		return "", badRequestf("path query parameter is required")
	}
	return path, nil
}

func boolQuery(r *http.Request, name string) bool {
	value, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return value
}

// intQuery parses an optional integer query parameter; absent means 0.
func intQuery(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badRequestf("%s must be an integer", name)
	}
	return value, nil
}

func (s *Server) handleLs(w http.ResponseWriter, r *http.Request) {
	path, err := pathQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.runOp(w, r, http.StatusOK, &fsops.Ls{
		Path:        path,
		ShowHidden:  boolQuery(r, "showHidden"),
		NumericUID:  boolQuery(r, "numericUid"),
		Recursive:   boolQuery(r, "recursive"),
		Dereference: boolQuery(r, "dereference"),
	}, "")
}

// contentRange validates the shared bytes/lines selection of head and
// tail: at most one of them, and a byte count within the ops limit.
func (s *Server) contentRange(r *http.Request) (bytes, lines int64, err error) {
	bytes, err = intQuery(r, "bytes")
	if err != nil {
		return 0, 0, err
	}
	lines, err = intQuery(r, "lines")
	if err != nil {
		return 0, 0, err
	}
	if bytes > 0 && lines > 0 {
		return 0, 0, badRequestf("bytes and lines cannot be used at the same time")
	}
	if max := s.gateway.MaxOpsFileSize(); bytes > max {
		return 0, 0, fmt.Errorf("%w: requested %d bytes, limit %d", errPayloadTooLarge, bytes, max)
	}
	return bytes, lines, nil
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	path, err := pathQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	bytes, lines, err := s.contentRange(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.runOp(w, r, http.StatusOK, &fsops.Head{
		Path:         path,
		Bytes:        bytes,
		Lines:        lines,
		SkipTrailing: boolQuery(r, "skipEnding"),
	}, "")
}

func (s *Server) handleTail(w http.ResponseWriter, r *http.Request) {
	path, err := pathQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	bytes, lines, err := s.contentRange(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.runOp(w, r, http.StatusOK, &fsops.Tail{
		Path:        path,
		Bytes:       bytes,
		Lines:       lines,
		SkipHeading: boolQuery(r, "skipBeginning"),
	}, "")
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	path, err := pathQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	size, err := intQuery(r, "size")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := intQuery(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}
	if offset < 0 {
		writeError(w, badRequestf("offset cannot be negative"))
		return
	}
	if max := s.gateway.MaxOpsFileSize(); size > max {
		writeError(w, fmt.Errorf("%w: requested %d bytes, limit %d", errPayloadTooLarge, size, max))
		return
	}

	op, err := s.opRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := op.run(r, fsops.NewView(path, size, offset, s.gateway.MaxOpsFileSize()), "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChecksum(w http.ResponseWriter, r *http.Request) {
	path, err := pathQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.runOp(w, r, http.StatusOK, &fsops.Checksum{Path: path}, "")
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	path, err := pathQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.runOp(w, r, http.StatusOK, &fsops.FileType{Path: path}, "")
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	path, err := pathQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.runOp(w, r, http.StatusOK, &fsops.Stat{
		Path:        path,
		Dereference: boolQuery(r, "dereference"),
	}, "")
}

// handleOpsDownload serves a small file inline, base64-encoded. The size
// is checked with stat first so an oversized file fails with 413 before
// any content moves.
func (s *Server) handleOpsDownload(w http.ResponseWriter, r *http.Request) {
	path, err := pathQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	op, err := s.opRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := op.run(r, &fsops.Stat{Path: path, Dereference: true}, "")
	if err != nil {
		writeError(w, err)
		return
	}
	statx, ok := result.(*fsops.Statx)
	if !ok {
		writeError(w, fmt.Errorf("unexpected stat result type %T", result))
		return
	}
	if max := s.gateway.MaxOpsFileSize(); statx.Size > max {
		writeError(w, fmt.Errorf("%w: file is %d bytes, limit %d", errPayloadTooLarge, statx.Size, max))
		return
	}

	content, err := op.run(r, &fsops.Base64Download{Path: path}, "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"output": content})
}

// handleOpsUpload writes the raw request body into the target path. The
// body is base64-encoded on the way through and decoded on the remote
// side, so binary content survives the shell pipe.
func (s *Server) handleOpsUpload(w http.ResponseWriter, r *http.Request) {
	path, err := pathQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	max := s.gateway.MaxOpsFileSize()
	if r.ContentLength > max {
		writeError(w, fmt.Errorf("%w: body is %d bytes, limit %d", errPayloadTooLarge, r.ContentLength, max))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, max+1))
	if err != nil {
		writeError(w, badRequestf("failed to read request body: %v", err))
		return
	}
	if int64(len(body)) > max {
		writeError(w, fmt.Errorf("%w: body exceeds %d bytes", errPayloadTooLarge, max))
		return
	}

	op, err := s.opRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stdin := base64.StdEncoding.EncodeToString(body)
	if _, err := op.run(r, &fsops.Base64Upload{Path: path}, stdin); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOpsRm(w http.ResponseWriter, r *http.Request) {
	path, err := pathQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	op, err := s.opRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := op.run(r, &fsops.Rm{Path: path}, ""); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody parses the JSON request body into target.
func decodeBody(r *http.Request, target any) error {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return badRequestf("invalid request body: %v", err)
	}
	return nil
}

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path   string `json:"path"`
		Parent bool   `json:"parent"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Path == "" {
		writeError(w, badRequestf("path is required"))
		return
	}
	s.runOp(w, r, http.StatusCreated, &fsops.Mkdir{Path: body.Path, Parent: body.Parent}, "")
}

func (s *Server) handleSymlink(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path     string `json:"path"`
		LinkPath string `json:"linkPath"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Path == "" || body.LinkPath == "" {
		writeError(w, badRequestf("path and linkPath are required"))
		return
	}
	s.runOp(w, r, http.StatusCreated, &fsops.Symlink{Path: body.Path, LinkPath: body.LinkPath}, "")
}

func (s *Server) handleChmod(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
		Mode string `json:"mode"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Path == "" || body.Mode == "" {
		writeError(w, badRequestf("path and mode are required"))
		return
	}
	s.runOp(w, r, http.StatusOK, &fsops.Chmod{Path: body.Path, Mode: body.Mode}, "")
}

func (s *Server) handleChown(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path  string `json:"path"`
		Owner string `json:"owner"`
		Group string `json:"group"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Path == "" || body.Owner == "" {
		writeError(w, badRequestf("path and owner are required"))
		return
	}
	s.runOp(w, r, http.StatusOK, &fsops.Chown{Path: body.Path, Owner: body.Owner, Group: body.Group}, "")
}

// archiveBody is shared by the ops and transfer archive endpoints.
type archiveBody struct {
	SourcePath   string            `json:"sourcePath"`
	TargetPath   string            `json:"targetPath"`
	MatchPattern string            `json:"matchPattern,omitempty"`
	Dereference  bool              `json:"dereference,omitempty"`
	Compression  fsops.Compression `json:"compression,omitempty"`
}

func (b *archiveBody) validate() error {
	if b.SourcePath == "" || b.TargetPath == "" {
		return badRequestf("sourcePath and targetPath are required")
	}
	if b.Compression != "" && !fsops.ValidCompression(b.Compression) {
		return fmt.Errorf("%w: %q", fsops.ErrUnsupportedCompression, b.Compression)
	}
	return nil
}

func (s *Server) handleOpsCompress(w http.ResponseWriter, r *http.Request) {
	var body archiveBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := body.validate(); err != nil {
		writeError(w, err)
		return
	}
	s.runOp(w, r, http.StatusCreated, &fsops.Compress{
		SourcePath:   body.SourcePath,
		TargetPath:   body.TargetPath,
		MatchPattern: body.MatchPattern,
		Dereference:  body.Dereference,
		Compression:  body.Compression,
	}, "")
}

func (s *Server) handleOpsExtract(w http.ResponseWriter, r *http.Request) {
	var body archiveBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := body.validate(); err != nil {
		writeError(w, err)
		return
	}
	s.runOp(w, r, http.StatusCreated, &fsops.Extract{
		SourcePath:  body.SourcePath,
		TargetPath:  body.TargetPath,
		Compression: body.Compression,
	}, "")
}
