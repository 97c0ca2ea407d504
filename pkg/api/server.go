package api

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eth-cscs/firecrest/pkg/auth"
	"github.com/eth-cscs/firecrest/pkg/gateway"
	"github.com/eth-cscs/firecrest/pkg/health"
	"github.com/eth-cscs/firecrest/pkg/log"
	"github.com/eth-cscs/firecrest/pkg/metrics"
)

// Server is the HTTP surface of the gateway. It resolves the {system}
// path segment to a cluster bundle, authenticates the caller, applies the
// availability gate and shapes backend results into JSON.
type Server struct {
	gateway *gateway.Gateway
	version string
}

// NewServer creates the API server on top of an assembled gateway.
func NewServer(g *gateway.Gateway, version string) *Server {
	return &Server{gateway: g, version: version}
}

// Handler builds the routing table. When apisRootPath is configured the
// whole surface is nested under it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status/systems", s.instrument(s.handleSystems))
	mux.HandleFunc("GET /status/systems/{system}", s.instrument(s.handleSystem))
	mux.HandleFunc("GET /status/liveness", s.instrument(s.handleLiveness))
	mux.HandleFunc("GET /status/userinfo", s.instrument(s.handleUserinfo))
	mux.Handle("GET /status/metrics", metrics.Handler())

	mux.HandleFunc("POST /compute/{system}/jobs", s.instrument(s.handleSubmitJob))
	mux.HandleFunc("GET /compute/{system}/jobs", s.instrument(s.handleGetJobs))
	mux.HandleFunc("GET /compute/{system}/jobs/{jobId}", s.instrument(s.handleGetJob))
	mux.HandleFunc("GET /compute/{system}/jobs/{jobId}/metadata", s.instrument(s.handleJobMetadata))
	mux.HandleFunc("DELETE /compute/{system}/jobs/{jobId}", s.instrument(s.handleCancelJob))
	mux.HandleFunc("GET /compute/{system}/jobs/{jobId}/attach", s.instrument(s.handleAttach))
	mux.HandleFunc("GET /compute/{system}/nodes", s.instrument(s.handleNodes))
	mux.HandleFunc("GET /compute/{system}/partitions", s.instrument(s.handlePartitions))
	mux.HandleFunc("GET /compute/{system}/reservations", s.instrument(s.handleReservations))

	mux.HandleFunc("GET /filesystem/{system}/ops/ls", s.instrument(s.handleLs))
	mux.HandleFunc("GET /filesystem/{system}/ops/head", s.instrument(s.handleHead))
	mux.HandleFunc("GET /filesystem/{system}/ops/tail", s.instrument(s.handleTail))
	mux.HandleFunc("GET /filesystem/{system}/ops/view", s.instrument(s.handleView))
	mux.HandleFunc("GET /filesystem/{system}/ops/checksum", s.instrument(s.handleChecksum))
	mux.HandleFunc("GET /filesystem/{system}/ops/file", s.instrument(s.handleFile))
	mux.HandleFunc("GET /filesystem/{system}/ops/stat", s.instrument(s.handleStat))
	mux.HandleFunc("GET /filesystem/{system}/ops/download", s.instrument(s.handleOpsDownload))
	mux.HandleFunc("POST /filesystem/{system}/ops/upload", s.instrument(s.handleOpsUpload))
	mux.HandleFunc("DELETE /filesystem/{system}/ops/rm", s.instrument(s.handleOpsRm))
	mux.HandleFunc("POST /filesystem/{system}/ops/mkdir", s.instrument(s.handleMkdir))
	mux.HandleFunc("POST /filesystem/{system}/ops/symlink", s.instrument(s.handleSymlink))
	mux.HandleFunc("PUT /filesystem/{system}/ops/chmod", s.instrument(s.handleChmod))
	mux.HandleFunc("PUT /filesystem/{system}/ops/chown", s.instrument(s.handleChown))
	mux.HandleFunc("POST /filesystem/{system}/ops/compress", s.instrument(s.handleOpsCompress))
	mux.HandleFunc("POST /filesystem/{system}/ops/extract", s.instrument(s.handleOpsExtract))

	mux.HandleFunc("POST /filesystem/{system}/transfer/upload", s.instrument(s.handleTransferUpload))
	mux.HandleFunc("POST /filesystem/{system}/transfer/download", s.instrument(s.handleTransferDownload))
	mux.HandleFunc("POST /filesystem/{system}/transfer/cp", s.instrument(s.handleTransferCp))
	mux.HandleFunc("POST /filesystem/{system}/transfer/mv", s.instrument(s.handleTransferMv))
	mux.HandleFunc("DELETE /filesystem/{system}/transfer/rm", s.instrument(s.handleTransferRm))
	mux.HandleFunc("POST /filesystem/{system}/transfer/compress", s.instrument(s.handleTransferCompress))
	mux.HandleFunc("POST /filesystem/{system}/transfer/extract", s.instrument(s.handleTransferExtract))

	root := strings.TrimSuffix(s.gateway.Settings().ApisRootPath, "/")
	if root == "" {
		return mux
	}
	outer := http.NewServeMux()
	outer.Handle(root+"/", http.StripPrefix(root, mux))
	return outer
}

// statusRecorder captures the status code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps the WebSocket upgrade working through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// instrument wraps a handler with request logging and the API metrics,
// labelled by the matched route pattern.
func (s *Server) instrument(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		handler(recorder, r)

		route := r.Pattern
		if route == "" {
			route = r.URL.Path
		}
		elapsed := time.Since(started)
		metrics.APIRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(recorder.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())
		log.WithComponent("api").Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("elapsed", elapsed).
			Msg("request")
	}
}

// identity authenticates the request from its bearer token.
func (s *Server) identity(r *http.Request) (*auth.Identity, error) {
	token, err := auth.BearerToken(r)
	if err != nil {
		return nil, err
	}
	return auth.IdentityFromToken(token, s.usernameClaim())
}

func (s *Server) usernameClaim() string {
	claim := s.gateway.Settings().Auth.Authentication.UsernameClaim
	if claim == "" {
		claim = "preferred_username"
	}
	return claim
}

// cluster resolves the {system} path segment.
func (s *Server) cluster(r *http.Request) (*gateway.Cluster, error) {
	name := r.PathValue("system")
	cluster, ok := s.gateway.Cluster(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownSystem, name)
	}
	return cluster, nil
}

// gate is the availability check run before dispatching to a backend:
// an unhealthy service fails the request with the cached probe message
// and no SSH or scheduler call is made.
func gate(cluster *gateway.Cluster, service health.ServiceType) error {
	healthy, message := cluster.Prober.Healthy(service)
	if healthy {
		return nil
	}
	return fmt.Errorf("%w: %s on %s: %s", errUnavailable, service, cluster.Config.Name, message)
}
