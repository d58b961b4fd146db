package daemon

import (
	"errors"
	"net/http"

	"github.com/opsgate/opsgate/internal/models"
	"github.com/opsgate/opsgate/internal/sshexec"
)

const apiErrorCodeVersion = "v1"

const (
	errCodeValidation       = apiErrorCodeVersion + "/change/validation"
	errCodeNotFound         = apiErrorCodeVersion + "/resource/not_found"
	errCodeAlreadyFinalized = apiErrorCodeVersion + "/change/already_finalized"
	errCodeExpired          = apiErrorCodeVersion + "/change/expired"
	errCodeRemoteCommand    = apiErrorCodeVersion + "/remote/command_failed"
	errCodeTransport        = apiErrorCodeVersion + "/remote/transport_failed"
	errCodeBadRequest       = apiErrorCodeVersion + "/validation/bad_request"
	errCodeMethodNotAllowed = apiErrorCodeVersion + "/validation/method_not_allowed"
	errCodeInternal         = apiErrorCodeVersion + "/internal/error"
)

// classifyError maps the domain error taxonomy onto an HTTP status and a
// stable machine-readable code, so the hosting agent can narrate the
// specific cause instead of a generic failure.
func classifyError(err error) (int, string) {
	var validation *models.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest, errCodeValidation
	}
	var notFound *models.NotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound, errCodeNotFound
	}
	var finalized *models.AlreadyFinalizedError
	if errors.As(err, &finalized) {
		return http.StatusConflict, errCodeAlreadyFinalized
	}
	var expired *models.ExpiredError
	if errors.As(err, &expired) {
		return http.StatusGone, errCodeExpired
	}
	var remoteErr *sshexec.RemoteCommandError
	if errors.As(err, &remoteErr) {
		return http.StatusBadGateway, errCodeRemoteCommand
	}
	var transport *sshexec.TransportError
	if errors.As(err, &transport) {
		return http.StatusBadGateway, errCodeTransport
	}
	return http.StatusInternalServerError, errCodeInternal
}
