package rpcrelay

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// JSON-RPC 2.0 error codes used by the relay.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodDenied   = -32601
	CodeUpstream       = -32603
)

// Request is one JSON-RPC call as sent by browsers. jsonrpc and id are
// optional on the way in and filled before forwarding.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string  { return e.Message }
func (e *RPCError) ErrorCode() int { return e.Code }

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

var nullID = json.RawMessage("null")

// ErrorEnvelope renders a JSON-RPC shaped failure for id.
func ErrorEnvelope(id json.RawMessage, code int, message string) []byte {
	if len(bytes.TrimSpace(id)) == 0 {
		id = nullID
	}
	b, err := json.Marshal(Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}})
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return b
}

// parseBody accepts a single call or a batch and normalizes each entry.
func parseBody(body []byte) ([]Request, bool, *RPCError) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false, &RPCError{Code: CodeInvalidRequest, Message: "empty request"}
	}
	batch := trimmed[0] == '['
	var reqs []Request
	if batch {
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			return nil, true, &RPCError{Code: CodeParseError, Message: "parse error"}
		}
		if len(reqs) == 0 {
			return nil, true, &RPCError{Code: CodeInvalidRequest, Message: "empty batch"}
		}
	} else {
		var r Request
		if err := json.Unmarshal(trimmed, &r); err != nil {
			return nil, false, &RPCError{Code: CodeParseError, Message: "parse error"}
		}
		reqs = []Request{r}
	}
	for i := range reqs {
		reqs[i].Method = strings.TrimSpace(reqs[i].Method)
		if reqs[i].Method == "" {
			return nil, batch, &RPCError{Code: CodeInvalidRequest, Message: "method is required"}
		}
		reqs[i].JSONRPC = "2.0"
		if len(bytes.TrimSpace(reqs[i].ID)) == 0 {
			reqs[i].ID = json.RawMessage(strconv.Itoa(i + 1))
		}
		if len(bytes.TrimSpace(reqs[i].Params)) == 0 {
			reqs[i].Params = json.RawMessage("[]")
		}
	}
	return reqs, batch, nil
}
