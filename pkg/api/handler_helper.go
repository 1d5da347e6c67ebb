package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dd0wney/cluso-syncstore/pkg/api/middleware"
	"github.com/dd0wney/cluso-syncstore/pkg/couch"
	"github.com/dd0wney/cluso-syncstore/pkg/logging"
	"github.com/dd0wney/cluso-syncstore/pkg/syncstore"
)

// errBadRequest marks client mistakes found while decoding
var errBadRequest = errors.New("bad request")

// decodeJSON decodes the request body into v. Numbers stay json.Number so
// field values reach the store digit for digit.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	return nil
}

// statusFor maps a store error to the HTTP status a client should see
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, syncstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, syncstore.ErrReservedField),
		errors.Is(err, syncstore.ErrMissingRevision):
		return http.StatusBadRequest
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, couch.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondStoreError sends the mapped status. Server errors are logged in full
// but only named by operation to the client.
func (s *Server) respondStoreError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status := statusFor(err)
	if status < http.StatusInternalServerError {
		s.respondError(w, status, err.Error())
		return
	}
	s.logger.Error(operation+" failed",
		logging.Error(err),
		logging.String("request_id", middleware.GetRequestID(r)))
	s.respondError(w, status, operation+" failed")
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("error encoding JSON response", logging.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	}
	s.respondJSON(w, status, response)
}
