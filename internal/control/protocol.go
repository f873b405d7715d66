// Package control implements the websocket control channel: the request
// envelope, the authenticated method dispatcher, chunked upload sessions,
// and a reconnecting client for callers on the other side of an unreliable
// link.
package control

import "encoding/json"

// Error codes carried in the response envelope.
const (
	// CodeNoToken means the caller sent no token while the server requires
	// one.
	CodeNoToken = 401

	// CodeBadToken means the presented token did not match.
	CodeBadToken = 403

	// CodeMethodFailed is the generic failure code for a method that ran
	// and returned an error.
	CodeMethodFailed = -1
)

// Request is the inbound envelope. Params is decoded per method.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Token  string          `json:"token,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// RPCError is the error half of a response envelope.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is the outbound envelope. Exactly one of Result and Error is
// set; Event frames reuse the same envelope with an empty ID.
type Response struct {
	ID     string    `json:"id"`
	Result any       `json:"result,omitempty"`
	Error  *RPCError `json:"error,omitempty"`

	// Event carries pushed domain events; unset on method responses.
	Event any `json:"event,omitempty"`
}

func resultResponse(id string, result any) Response {
	return Response{ID: id, Result: result}
}

func errorResponse(id string, code int, message string) Response {
	return Response{ID: id, Error: &RPCError{Code: code, Message: message}}
}
