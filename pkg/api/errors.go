package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/eth-cscs/firecrest/pkg/auth"
	"github.com/eth-cscs/firecrest/pkg/credentials"
	"github.com/eth-cscs/firecrest/pkg/fsops"
	"github.com/eth-cscs/firecrest/pkg/log"
	"github.com/eth-cscs/firecrest/pkg/scheduler"
	"github.com/eth-cscs/firecrest/pkg/sshpool"
	"github.com/eth-cscs/firecrest/pkg/transfer"
)

var (
	// errBadRequest tags request-level constraint violations detected by
	// the handlers themselves, before any backend is touched.
	errBadRequest = errors.New("bad request")

	// errPayloadTooLarge means the requested or supplied content exceeds
	// the ops size limit; the caller must go through a transfer job.
	errPayloadTooLarge = errors.New("payload exceeds the ops size limit, use a transfer operation")

	// errUnknownSystem means the {system} path segment named no configured
	// cluster.
	errUnknownSystem = errors.New("unknown system")

	// errUnavailable carries the cached probe message of a failed
	// availability gate.
	errUnavailable = errors.New("service unavailable")
)

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Message string `json:"message"`
}

// statusFor classifies an error into the HTTP status it travels as.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrNoBearerToken),
		errors.Is(err, auth.ErrMalformedToken),
		errors.Is(err, auth.ErrClaimMissing),
		errors.Is(err, scheduler.ErrAuthClaimMissing),
		errors.Is(err, scheduler.ErrBackendUnauthorized),
		errors.Is(err, credentials.ErrTokenRejected):
		return http.StatusUnauthorized

	case errors.Is(err, fsops.ErrPermissionDenied),
		errors.Is(err, credentials.ErrUnknownUser):
		return http.StatusForbidden

	case errors.Is(err, errUnknownSystem),
		errors.Is(err, fsops.ErrNotFound),
		errors.Is(err, scheduler.ErrJobNotFound):
		return http.StatusNotFound

	case errors.Is(err, errPayloadTooLarge):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, errBadRequest),
		errors.Is(err, fsops.ErrInvalidArgument),
		errors.Is(err, fsops.ErrNotADirectory),
		errors.Is(err, fsops.ErrIsADirectory),
		errors.Is(err, fsops.ErrFileExists),
		errors.Is(err, scheduler.ErrInvalidJobDescription),
		errors.Is(err, transfer.ErrAccountRequired),
		errors.Is(err, transfer.ErrUnknownMethod),
		errors.Is(err, transfer.ErrFileSizeRequired),
		errors.Is(err, transfer.ErrCodeRequired),
		errors.Is(err, transfer.ErrNoWorkDir):
		return http.StatusBadRequest

	case errors.Is(err, scheduler.ErrNotImplemented),
		errors.Is(err, fsops.ErrUnsupportedCompression),
		errors.Is(err, transfer.ErrStorageNotConfigured),
		errors.Is(err, transfer.ErrStreamerNotConfigured):
		return http.StatusNotImplemented

	case errors.Is(err, sshpool.ErrConnection),
		errors.Is(err, sshpool.ErrTimeoutLimitExceeded),
		errors.Is(err, sshpool.ErrOutputLimitExceeded),
		errors.Is(err, fsops.ErrUtilityTimeout):
		return http.StatusBadGateway

	case errors.Is(err, errUnavailable),
		errors.Is(err, sshpool.ErrPoolCapacityExceeded),
		errors.Is(err, credentials.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	}

	var backendErr *scheduler.BackendError
	if errors.As(err, &backendErr) {
		return http.StatusBadGateway
	}
	var commandErr *fsops.CommandError
	if errors.As(err, &commandErr) {
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}

// writeError maps err and emits the JSON error body. 5xx responses are
// logged with the underlying cause.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.WithComponent("api").Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Message: err.Error()})
}

// writeJSON emits payload with the given status. Encoding failures at this
// point can only be programming errors; they are logged and the connection
// is left to die.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithComponent("api").Error().Err(err).Msg("failed to encode response")
	}
}

// badRequestf builds a 400 error with a formatted message.
func badRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}
