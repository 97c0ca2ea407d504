package api

import (
	"net/http"

	"github.com/eth-cscs/firecrest/pkg/transfer"
)

// transferBody covers every transfer endpoint; each handler checks the
// fields it needs.
type transferBody struct {
	Path               string                     `json:"path,omitempty"`
	SourcePath         string                     `json:"sourcePath,omitempty"`
	TargetPath         string                     `json:"targetPath,omitempty"`
	MatchPattern       string                     `json:"matchPattern,omitempty"`
	Dereference        bool                       `json:"dereference,omitempty"`
	Account            string                     `json:"account,omitempty"`
	TransferDirectives transfer.RequestDirectives `json:"transferDirectives"`
}

// transferRequest reuses the compute preamble: transfers run as scheduler
// jobs, so the scheduler gate applies.
func (s *Server) transferRequest(w http.ResponseWriter, r *http.Request) (*computeRequest, *transferBody, bool) {
	var body transferBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return nil, nil, false
	}
	req, err := s.computeRequest(r)
	if err != nil {
		writeError(w, err)
		return nil, nil, false
	}
	return req, &body, true
}

func (s *Server) handleTransferUpload(w http.ResponseWriter, r *http.Request) {
	req, body, ok := s.transferRequest(w, r)
	if !ok {
		return
	}
	if body.Path == "" {
		writeError(w, badRequestf("path is required"))
		return
	}
	result, err := req.cluster.Transfer.Upload(r.Context(), body.Path,
		req.identity.Username, req.identity.AccessToken, body.Account, body.TransferDirectives)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleTransferDownload(w http.ResponseWriter, r *http.Request) {
	req, body, ok := s.transferRequest(w, r)
	if !ok {
		return
	}
	path := body.SourcePath
	if path == "" {
		path = body.Path
	}
	if path == "" {
		writeError(w, badRequestf("sourcePath is required"))
		return
	}
	result, err := req.cluster.Transfer.Download(r.Context(), path,
		req.identity.Username, req.identity.AccessToken, body.Account, body.TransferDirectives)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleTransferCp(w http.ResponseWriter, r *http.Request) {
	req, body, ok := s.transferRequest(w, r)
	if !ok {
		return
	}
	if body.SourcePath == "" || body.TargetPath == "" {
		writeError(w, badRequestf("sourcePath and targetPath are required"))
		return
	}
	result, err := req.cluster.Transfer.Copy(r.Context(), body.SourcePath, body.TargetPath,
		req.identity.Username, req.identity.AccessToken, body.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleTransferMv(w http.ResponseWriter, r *http.Request) {
	req, body, ok := s.transferRequest(w, r)
	if !ok {
		return
	}
	if body.SourcePath == "" || body.TargetPath == "" {
		writeError(w, badRequestf("sourcePath and targetPath are required"))
		return
	}
	result, err := req.cluster.Transfer.Move(r.Context(), body.SourcePath, body.TargetPath,
		req.identity.Username, req.identity.AccessToken, body.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleTransferRm(w http.ResponseWriter, r *http.Request) {
	req, body, ok := s.transferRequest(w, r)
	if !ok {
		return
	}
	if body.Path == "" {
		writeError(w, badRequestf("path is required"))
		return
	}
	result, err := req.cluster.Transfer.Remove(r.Context(), body.Path,
		req.identity.Username, req.identity.AccessToken, body.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleTransferCompress(w http.ResponseWriter, r *http.Request) {
	req, body, ok := s.transferRequest(w, r)
	if !ok {
		return
	}
	if body.SourcePath == "" || body.TargetPath == "" {
		writeError(w, badRequestf("sourcePath and targetPath are required"))
		return
	}
	result, err := req.cluster.Transfer.Compress(r.Context(), body.SourcePath, body.TargetPath,
		body.MatchPattern, req.identity.Username, req.identity.AccessToken, body.Account, body.Dereference)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleTransferExtract(w http.ResponseWriter, r *http.Request) {
	req, body, ok := s.transferRequest(w, r)
	if !ok {
		return
	}
	if body.SourcePath == "" || body.TargetPath == "" {
		writeError(w, badRequestf("sourcePath and targetPath are required"))
		return
	}
	result, err := req.cluster.Transfer.Extract(r.Context(), body.SourcePath, body.TargetPath,
		req.identity.Username, req.identity.AccessToken, body.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}
