package mtproto

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gotd/td/tgerr"

	"linkrotor/internal/rotation"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want rotation.Outcome
	}{
		{name: "ok", err: nil, want: rotation.Success{Alias: "news7x"}},
		{name: "occupied", err: tgerr.New(400, "USERNAME_OCCUPIED"), want: rotation.NameTaken{}},
		{name: "purchasable", err: tgerr.New(400, "USERNAME_PURCHASE_AVAILABLE"), want: rotation.NameTaken{}},
		{name: "wrapped occupied", err: fmt.Errorf("rpc: %w", tgerr.New(400, "USERNAME_OCCUPIED")), want: rotation.NameTaken{}},
		{name: "flood", err: tgerr.New(420, "FLOOD_WAIT_30"), want: rotation.RateLimited{Wait: 30 * time.Second}},
		{name: "premium flood", err: tgerr.New(420, "FLOOD_PREMIUM_WAIT_7"), want: rotation.RateLimited{Wait: 7 * time.Second}},
		{name: "not modified", err: tgerr.New(400, "USERNAME_NOT_MODIFIED"), want: rotation.Success{Alias: "news7x"}},
		{name: "admin required", err: tgerr.New(400, "CHAT_ADMIN_REQUIRED"), want: rotation.Failure{Message: "CHAT_ADMIN_REQUIRED"}},
		{name: "plain", err: errors.New("dial tcp: refused"), want: rotation.Failure{Message: "dial tcp: refused"}},
		{name: "cancelled", err: context.Canceled, want: rotation.Failure{Message: context.Canceled.Error()}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tt.err, "news7x"); got != tt.want {
				t.Fatalf("Classify(%v) = %#v, want %#v", tt.err, got, tt.want)
			}
		})
	}
}

func TestToMTProtoID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want int64
	}{
		{-1001234567890, 1234567890},
		{1234567890, 1234567890},
		{-12345, 12345},
	}
	for _, tt := range tests {
		if got := ToMTProtoID(tt.in); got != tt.want {
			t.Fatalf("ToMTProtoID(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestValidateSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if err := ValidateSession(ctx, ""); !errors.Is(err, ErrBadSession) {
		t.Fatalf("empty: %v", err)
	}
	if err := ValidateSession(ctx, "not a session!"); !errors.Is(err, ErrBadSession) {
		t.Fatalf("garbage: %v", err)
	}
	// base64 of a gotd JSON session file
	if err := ValidateSession(ctx, "eyJWZXJzaW9uIjoxLCJEYXRhIjp7fX0="); err != nil {
		t.Fatalf("json session: %v", err)
	}
}
