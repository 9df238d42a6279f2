package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// MessageAuthenticationFailed is the terminal authentication failure message
const MessageAuthenticationFailed = "Authentication failed"

// ErrSessionCleared is returned by a Renewer whose session was cleared while
// the renewal was in flight. There is nothing left to expire.
var ErrSessionCleared = errors.New("session cleared during renewal")

// ValidationError is a client-side rejection raised before any network call
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ConflictError is a 409 from the backend: a duplicate unique key or a
// duplicate active binding
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// AlreadyAssigned reports whether the conflict is a duplicate binding
func (e *ConflictError) AlreadyAssigned() bool {
	return strings.Contains(strings.ToLower(e.Message), "already assigned")
}

// AuthenticationError is a 401. On non-exempt endpoints it is only returned
// after the refresh-and-retry cycle failed, and the session is already gone.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Message == "" {
		return MessageAuthenticationFailed
	}
	return e.Message
}

// NetworkError means no response was received
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServerError covers 5xx and every status without a dedicated type
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error (%d)", e.Status)
	}
	return e.Message
}

// NotFoundError is a 404
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	if e.Message == "" {
		return "not found"
	}
	return e.Message
}

// ForbiddenError is a 403
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	if e.Message == "" {
		return "forbidden"
	}
	return e.Message
}

// IsAuthenticationFailure reports whether err is a definitive auth failure
func IsAuthenticationFailure(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}

// errorFromResponse maps a non-2xx response to the taxonomy
func errorFromResponse(status int, body []byte) error {
	message := parseMessage(body)

	switch status {
	case http.StatusUnauthorized:
		if message == "" {
			message = MessageAuthenticationFailed
		}
		return &AuthenticationError{Message: message}
	case http.StatusForbidden:
		return &ForbiddenError{Message: message}
	case http.StatusNotFound:
		return &NotFoundError{Message: message}
	case http.StatusConflict:
		if message == "" {
			message = "conflict"
		}
		return &ConflictError{Message: message}
	default:
		return &ServerError{Status: status, Message: message}
	}
}

// parseMessage reads {"message": ...}; the message may be a string or a
// list of strings
func parseMessage(body []byte) string {
	var envelope struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Message) == 0 {
		return ""
	}

	var single string
	if err := json.Unmarshal(envelope.Message, &single); err == nil {
		return single
	}
	var list []string
	if err := json.Unmarshal(envelope.Message, &list); err == nil {
		return strings.Join(list, "; ")
	}
	return ""
}

// User-facing fallbacks
const (
	msgAlreadyAssigned = "This assignment already exists."
	msgConflict        = "A record with the same key already exists."
	msgSessionExpired  = "Your session has expired. Please sign in again."
	msgNetwork         = "Unable to reach the server. Check your connection and try again."
	msgServer          = "Something went wrong. Please try again."
	msgNotFound        = "The requested record was not found."
	msgForbidden       = "You do not have permission to perform this action."
)

// UserMessage renders err for display
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		validationErr *ValidationError
		conflictErr   *ConflictError
		authErr       *AuthenticationError
		networkErr    *NetworkError
		serverErr     *ServerError
		notFoundErr   *NotFoundError
		forbiddenErr  *ForbiddenError
	)

	switch {
	case errors.As(err, &validationErr):
		return validationErr.Error()
	case errors.As(err, &conflictErr):
		if conflictErr.AlreadyAssigned() {
			return msgAlreadyAssigned
		}
		return orDefault(conflictErr.Message, msgConflict)
	case errors.As(err, &authErr):
		if authErr.Message == "" || authErr.Message == MessageAuthenticationFailed {
			return msgSessionExpired
		}
		return authErr.Message
	case errors.As(err, &networkErr):
		return msgNetwork
	case errors.As(err, &serverErr):
		return orDefault(serverErr.Message, msgServer)
	case errors.As(err, &notFoundErr):
		return orDefault(notFoundErr.Message, msgNotFound)
	case errors.As(err, &forbiddenErr):
		return orDefault(forbiddenErr.Message, msgForbidden)
	default:
		return err.Error()
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
