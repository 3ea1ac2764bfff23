package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/slighter12/rojo-bridge-go/logger"
	"github.com/slighter12/rojo-bridge-go/rojo"
	"github.com/slighter12/rojo-bridge-go/session"
)

const (
	codeBadRequest       = "bad_request"
	codeProbeFailed      = "probe_failed"
	codeSessionNotFound  = "session_not_found"
	codeInstanceNotFound = "instance_not_found"
	codeNothingSelected  = "nothing_selected"
	codeRojoError        = "rojo_error"
	codeNotSupported     = "not_supported"
	codeUnknownAction    = "unknown_action"
	codeInternal         = "internal_error"
)

// notSupportedMessage is shown for edit commands the sync API lacks.
const notSupportedMessage = "Rojo's two-way sync API is incomplete."

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func fail(c echo.Context, status int, code, message string) error {
	return c.JSON(status, errorBody{Code: code, Message: message})
}

// failWith maps domain errors onto status codes.
func failWith(c echo.Context, err error) error {
	if verr, ok := errors.AsType[*session.ValidationError](err); ok {
		return fail(c, http.StatusBadRequest, verr.Code, verr.Message)
	}
	switch {
	case errors.Is(err, session.ErrProbeFailed):
		return fail(c, http.StatusBadGateway, codeProbeFailed, session.ErrProbeFailed.Error()+".")
	case errors.Is(err, session.ErrSessionNotFound):
		return fail(c, http.StatusNotFound, codeSessionNotFound, err.Error())
	case errors.Is(err, rojo.ErrInstanceNotFound):
		return fail(c, http.StatusNotFound, codeInstanceNotFound, err.Error())
	case errors.Is(err, rojo.ErrUnreachable),
		errors.Is(err, rojo.ErrBadStatus),
		errors.Is(err, rojo.ErrMalformedResponse),
		errors.Is(err, rojo.ErrNoInstanceList):
		return fail(c, http.StatusBadGateway, codeRojoError, err.Error())
	}
	logger.Error("Unhandled bridge error", "path", c.Path(), "error", err)
	return fail(c, http.StatusInternalServerError, codeInternal, "Internal error")
}
