package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/abhisek/drillsim/internal/attempt"
)

// HTTPMessage is the body of every error response.
type HTTPMessage struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ReturnHTTPMessage writes a typed JSON message with the given status.
func ReturnHTTPMessage(w http.ResponseWriter, r *http.Request, httpStatus int, messageType string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	msg := HTTPMessage{
		Status:  strconv.Itoa(httpStatus),
		Message: message,
		Type:    messageType,
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(msg)
}

// ReturnJSON writes v as the JSON response body.
func ReturnJSON(w http.ResponseWriter, r *http.Request, httpStatus int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

// statusFor maps an attempt error kind to an HTTP status.
func statusFor(kind attempt.ErrorKind) int {
	switch kind {
	case attempt.KindInvalidState:
		return http.StatusConflict
	case attempt.KindValidation:
		return http.StatusUnprocessableEntity
	case attempt.KindIncompletePrerequisite:
		return http.StatusPreconditionFailed
	case attempt.KindNotFound:
		return http.StatusNotFound
	case attempt.KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) returnError(w http.ResponseWriter, r *http.Request, err error) {
	kind := attempt.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}

	typ := string(kind)
	if typ == "" {
		typ = "error"
	}
	msg := err.Error()
	var ae *attempt.Error
	if errors.As(err, &ae) && ae.Kind == attempt.KindPersistence {
		// Storage details stay in the log.
		msg = "attempt finished but could not be saved, retry later"
	}
	ReturnHTTPMessage(w, r, status, typ, msg)
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
