package mtproto

import (
	"context"
	"errors"
	"time"

	"github.com/gotd/td/tgerr"

	"linkrotor/internal/rotation"
)

// RPC error types that mean "this username belongs to someone else".
var nameTakenTypes = []string{
	"USERNAME_OCCUPIED",
	"USERNAME_PURCHASE_AVAILABLE",
}

// Classify maps the result of an update-username call to an Outcome.
func Classify(err error, candidate string) rotation.Outcome {
	if err == nil {
		return rotation.Success{Alias: candidate}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return rotation.Failure{Message: err.Error()}
	}
	rpcErr, ok := tgerr.As(err)
	if !ok {
		return rotation.Failure{Message: err.Error()}
	}
	switch {
	case rpcErr.IsOneOf(nameTakenTypes...):
		return rotation.NameTaken{}
	case rpcErr.IsOneOf("FLOOD_WAIT", "FLOOD_PREMIUM_WAIT"):
		return rotation.RateLimited{Wait: time.Duration(rpcErr.Argument) * time.Second}
	case rpcErr.IsType("USERNAME_NOT_MODIFIED"):
		return rotation.Success{Alias: candidate}
	default:
		return rotation.Failure{Message: rpcErr.Message}
	}
}
