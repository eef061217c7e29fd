package treemeter

import "errors"

var (
	// ErrUserNotFound is returned by a UserStore when no user matches
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when a user id, api key or billing customer is already taken
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidUpdate is returned when an update would set a subscription on a user without a billing customer
	ErrInvalidUpdate = errors.New("invalid user update")

	// ErrBadRequest is the kind of request errors caused by the caller
	ErrBadRequest = errors.New("bad request")

	// ErrNotFound is the kind of request errors for unknown resources
	ErrNotFound = errors.New("not found")

	// ErrNotConfigured is returned when a Service is missing a collaborator
	ErrNotConfigured = errors.New("treemeter service not configured")

	// ErrStalledPagination is returned when a provider reports more pages but returns no data
	ErrStalledPagination = errors.New("usage summary pagination stalled")
)

// RequestError is an error whose message is meant for the client.
// errors.Is matches its Kind.
type RequestError struct {
	Kind    error
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

func (e *RequestError) Unwrap() error {
	return e.Kind
}

// BadRequest returns a RequestError of kind ErrBadRequest.
func BadRequest(msg string) error {
	return &RequestError{Kind: ErrBadRequest, Message: msg}
}

// NotFound returns a RequestError of kind ErrNotFound.
func NotFound(msg string) error {
	return &RequestError{Kind: ErrNotFound, Message: msg}
}
