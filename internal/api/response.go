package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/banshee-data/hokuyo/internal/hokuyo"
	"github.com/banshee-data/hokuyo/internal/scip"
)

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		log.Printf("failed to encode json error response: %v", err)
	}
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode json response: %v", err)
	}
}

func writeJSONOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, data)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusBadRequest, msg)
}

// writeDriverError maps a driver failure onto an HTTP status.
//
//	invalid request          400
//	device refused (status)  502
//	receive timeout          504
//	transport failure        503
//	anything else            500
func writeDriverError(w http.ResponseWriter, err error) {
	var se *scip.StatusError
	var te *scip.TransportError
	switch {
	case errors.Is(err, hokuyo.ErrInvalidRequest):
		badRequest(w, err.Error())
	case errors.As(err, &se):
		writeJSONError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &te) && te.Timeout():
		writeJSONError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &te):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
