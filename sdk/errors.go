package sdk

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when the node answers with a null result.
var ErrNotFound = errors.New("not found")

// RPCError is an explicit JSON-RPC error object returned by the node.
type RPCError struct {
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: rpc error %d: %s", e.Method, e.Code, e.Message)
}

type Class string

const (
	// ClassTransient errors say nothing about the transaction; retry next cycle.
	ClassTransient Class = "transient"
	// ClassAbsent means the node reported the transaction (or its receipt) as unknown.
	ClassAbsent Class = "absent"
	// ClassProtocol means the node rejected the query itself with an error code.
	ClassProtocol Class = "protocol"
)

// JSON-RPC codes that signal a busy or throttling node rather than a bad request.
var transientCodes = map[int]bool{
	-32005: true, // limit exceeded
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"rate limit",
	"too many requests",
	"temporarily unavailable",
	"connection reset",
	"connection refused",
}

// Classify maps a ChainClient error onto the reconciler's error taxonomy.
// Anything not recognised is transient.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}
	if errors.Is(err, ErrNotFound) {
		return ClassAbsent
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransient
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		if transientCodes[rpcErr.Code] || containsAny(strings.ToLower(rpcErr.Message), transientMessageTokens) {
			return ClassTransient
		}
		return ClassProtocol
	}
	// transport failures (net.Error, rpc.HTTPError) and malformed responses land here
	return ClassTransient
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
