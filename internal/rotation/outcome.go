package rotation

import (
	"context"
	"time"
)

// Outcome is the result of a single alias change attempt.
// It is one of Success, NameTaken, RateLimited or Failure.
type Outcome interface {
	isOutcome()
}

// Success means the channel now carries Alias.
type Success struct{ Alias string }

// NameTaken means the candidate is owned by someone else; try another.
type NameTaken struct{}

// RateLimited means the server asked us to wait before any further attempt.
type RateLimited struct{ Wait time.Duration }

// Failure is everything else (missing rights, bad session, network).
type Failure struct{ Message string }

func (Success) isOutcome()     {}
func (NameTaken) isOutcome()   {}
func (RateLimited) isOutcome() {}
func (Failure) isOutcome()     {}

// AliasClient changes a channel's public alias on behalf of a user.
type AliasClient interface {
	SetAlias(ctx context.Context, credential string, channelID int64, candidate string) Outcome
}

// AliasClientFunc adapts a function to AliasClient.
type AliasClientFunc func(ctx context.Context, credential string, channelID int64, candidate string) Outcome

func (f AliasClientFunc) SetAlias(ctx context.Context, credential string, channelID int64, candidate string) Outcome {
	return f(ctx, credential, channelID, candidate)
}
