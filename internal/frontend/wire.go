// Package frontend carries inspector commands and events over a WebSocket.
// The server side attaches one observer at a time to a session; the client
// side is what the CLI uses to talk to it.
package frontend

import (
	"encoding/json"
	"fmt"

	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
)

// Request is a command frame sent by the observer.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers the Request with the same ID. Exactly one of Result and
// Error is set.
type Response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *protocol.Error `json:"error,omitempty"`
}

// Event is a notification frame. It carries no ID.
type Event struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// frame is the union of everything the client may receive.
type frame struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *protocol.Error `json:"error,omitempty"`
}

func encodeEvent(ev protocol.Event) ([]byte, error) {
	params, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s params: %w", ev.Method(), err)
	}
	return json.Marshal(Event{Method: ev.Method(), Params: params})
}

func encodeResponse(id int64, result any, err error) []byte {
	resp := Response{ID: id}
	if err != nil {
		resp.Error = protocol.AsError(err)
	} else {
		data, merr := json.Marshal(result)
		if merr != nil {
			resp.Error = protocol.NewError(protocol.CodeInternalError, "failed to encode result: %v", merr)
		} else {
			resp.Result = data
		}
	}

	// Response only holds raw JSON and strings, so encoding cannot fail.
	out, _ := json.Marshal(resp)
	return out
}
