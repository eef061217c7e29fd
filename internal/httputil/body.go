// Package httputil holds the HTTP plumbing shared by the API handler and the
// framework adapters: body limits, JSON responses, rate limiting and request logging.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// MaxBodyBytes is the request body limit of the webhook endpoint.
const MaxBodyBytes int64 = 256 << 10

var (
	// ErrPayloadTooLarge is returned when the request body exceeds the size limit
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrEmptyBody is returned for a request without a body
	ErrEmptyBody = errors.New("empty body")
)

// ReadBodyStrict reads the request body and rejects empty or oversized bodies.
func ReadBodyStrict(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer func() {
		if closeErr := r.Body.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("request body close failed")
		}
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w (max %d bytes)", ErrPayloadTooLarge, limit)
		}
		return nil, err
	}
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	return body, nil
}

// Message is the JSON body of every non-data response.
type Message struct {
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with proper headers
func WriteJSON(w http.ResponseWriter, code int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(data)
}

// WriteMessage writes {"message": msg} with the given status.
func WriteMessage(w http.ResponseWriter, code int, msg string) {
	if err := WriteJSON(w, code, Message{Message: msg}); err != nil {
		log.Debug().Err(err).Msg("response write failed")
	}
}
