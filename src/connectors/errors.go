package connectors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// RPCError is a JSON-RPC error object returned by the provider.
type RPCError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// RateLimited reports whether the provider rejected the call for quota
// reasons. -32005 is the de-facto "limit exceeded" code; several public
// endpoints answer HTTP 429 instead.
func (e *RPCError) RateLimited() bool {
	if e.Code == -32005 || e.HTTPStatus == 429 {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests")
}

// ErrUndecodableOrder marks a getOrder payload that does not ABI-decode.
// Readers drop such slots the same way they drop empty ones; only transport
// failures surface as fetch errors.
var ErrUndecodableOrder = errors.New("undecodable order payload")

// IsTimeout reports whether the error is a deadline or network timeout. The
// fetcher sends a timed-out aggregate straight to the per-order fallback
// instead of retrying it.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
