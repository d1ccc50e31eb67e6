// Package httpx writes coded JSON error responses.
package httpx

import (
	"encoding/json"
	"net/http"
)

// Code is an error code.
type Code int

const (
	// Codes for signaling.
	ErrMalformedOffer Code = iota + 10000
	ErrFailedToCreatePeer
	ErrNegotiation

	// Codes for connection administration.
	ErrConnectionNotFound
	ErrCloseConnection

	// Codes for common errors.
	ErrUnmarshalJSON
	ErrUpgradeWebSocket
)

// Errors maps error code to error message.
var Errors = map[Code]string{
	ErrMalformedOffer:     "Malformed session description offer",
	ErrFailedToCreatePeer: "Failed to create peer connection",
	ErrNegotiation:        "Failed to negotiate session",
	ErrConnectionNotFound: "Connection not found",
	ErrCloseConnection:    "Failed to close connection",
	ErrUnmarshalJSON:      "Could not unmarshal JSON data",
	ErrUpgradeWebSocket:   "Could not upgrade to WebSocket",
}

// Response is the body of an error response.
type Response struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Error replies with status and a JSON body carrying code and its message.
func Error(w http.ResponseWriter, code Code, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Code: code, Message: Errors[code]})
}
