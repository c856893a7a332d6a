package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/JulianFP/project-W-runner/internal/model"
)

// notRegistered is the detail the backend answers with once it dropped the
// runner session.
const notRegistered = "not currently registered"

// Error is returned for every response with a status code >= 400.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend responded with %d: %s", e.StatusCode, e.Message)
}

func newError(resp *http.Response) *Error {
	e := &Error{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		e.Message = "reading error body: " + err.Error()
		return e
	}
	e.Message = strings.TrimSpace(string(body))
	if !isJSON(resp.Header.Get("Content-Type")) {
		return e
	}
	var detail model.ErrorResponse
	if err := json.Unmarshal(body, &detail); err == nil && detail.Detail != "" {
		e.Message = detail.Detail
	}
	return e
}

// IsStatus reports whether err is a backend Error with the given status code.
func IsStatus(err error, code int) bool {
	var be *Error
	return errors.As(err, &be) && be.StatusCode == code
}

// IsConflict reports the "runner already online" answer to a registration.
func IsConflict(err error) bool {
	return IsStatus(err, http.StatusForbidden)
}

// IsNotRegistered reports whether the backend no longer knows this runner as
// online, either because the session expired or it was dropped.
func IsNotRegistered(err error) bool {
	var be *Error
	if !errors.As(err, &be) {
		return false
	}
	return strings.Contains(strings.ToLower(be.Message), notRegistered)
}

// IsProtocol reports errors caused by unexpected response formats.
func IsProtocol(err error) bool {
	return errors.Is(err, ErrNotJSON) || errors.Is(err, ErrMalformed)
}
