package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/mblakley/soccer-cam-go/log"
	"github.com/xeipuuv/gojsonschema"
)

type APIError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

func writeHttpError(w http.ResponseWriter, msg string, status int, err error) APIError {
	w.WriteHeader(status)

	var errorDetail string
	if err != nil {
		errorDetail = err.Error()
	}

	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg, "error_detail": errorDetail}); err != nil {
		log.LogNoRequestID("error writing HTTP error", "http_error_msg", msg, "error", err)
	}
	return APIError{msg, status, err}
}

// HTTP errors, for the internal /healthz and /debug/state surface.
func WriteHTTPUnauthorized(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusUnauthorized, err)
}

func WriteHTTPBadRequest(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusBadRequest, err)
}

func WriteHTTPNotFound(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusNotFound, err)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusInternalServerError, err)
}

func WriteHTTPBadBodySchema(where string, w http.ResponseWriter, errors []gojsonschema.ResultError) APIError {
	sb := strings.Builder{}
	sb.WriteString("Body validation error in ")
	sb.WriteString(where)
	sb.WriteString(" ")
	for i := 0; i < len(errors); i++ {
		sb.WriteString(errors[i].String())
		sb.WriteString(" ")
	}
	return writeHttpError(w, sb.String(), http.StatusBadRequest, nil)
}

// UnretriableError wraps errors that a worker's retry loop should not
// retry: bad input, permanent capability rejection, anything a backoff
// schedule can't fix.
type UnretriableError struct{ error }

func Unretriable(err error) error {
	return UnretriableError{backoff.Permanent(err)}
}

func (e UnretriableError) Unwrap() error {
	return e.error
}

// IsUnretriable returns whether err (or something it wraps) is an
// UnretriableError.
func IsUnretriable(err error) bool {
	return errors.As(err, &UnretriableError{})
}

// ObjectNotFoundError marks a missing fragment, group directory, or state
// file as unretriable: there's nothing a retry loop can do about a file
// the camera or filesystem no longer has.
type ObjectNotFoundError struct {
	msg   string
	cause error
}

func (e ObjectNotFoundError) Error() string {
	return e.msg
}

func (e ObjectNotFoundError) Unwrap() error {
	return e.cause
}

func NewObjectNotFoundError(msg string, cause error) error {
	if cause != nil {
		msg = fmt.Sprintf("ObjectNotFoundError: %s: %s", msg, cause)
	} else {
		msg = fmt.Sprintf("ObjectNotFoundError: %s", msg)
	}
	// every not found is unretriable
	return UnretriableError{ObjectNotFoundError{msg: msg, cause: cause}}
}

// IsObjectNotFound checks if the error is an ObjectNotFoundError.
func IsObjectNotFound(err error) bool {
	return errors.As(err, &ObjectNotFoundError{})
}

// CorruptStateError marks a state.json/queue_state.json/ntfy_service_state.json
// file that failed to parse. The auditor skips a group whose state.json
// fails to load on every pass; the file is left where it is.
type CorruptStateError struct {
	Path  string
	cause error
}

func (e CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt state file %s: %s", e.Path, e.cause)
}

func (e CorruptStateError) Unwrap() error {
	return e.cause
}

func NewCorruptStateError(path string, cause error) error {
	return Unretriable(CorruptStateError{Path: path, cause: cause})
}

// IsCorruptState checks if the error is a CorruptStateError.
func IsCorruptState(err error) bool {
	return errors.As(err, &CorruptStateError{})
}

// NtfyTimeoutError marks an NtfyTask that went unanswered past
// config.NtfyResponseTimeout. The NotifierQueue removes such a task
// rather than resend the same question indefinitely.
type NtfyTimeoutError struct {
	TaskID string
}

func (e NtfyTimeoutError) Error() string {
	return fmt.Sprintf("ntfy task %s timed out waiting for a response", e.TaskID)
}

func NewNtfyTimeoutError(taskID string) error {
	return NtfyTimeoutError{TaskID: taskID}
}

// IsNtfyTimeout checks if the error is an NtfyTimeoutError.
func IsNtfyTimeout(err error) bool {
	return errors.As(err, &NtfyTimeoutError{})
}

var (
	UnauthorisedError = errors.New("UnauthorisedError")
	InvalidJWT        = errors.New("InvalidJWTError")
)
