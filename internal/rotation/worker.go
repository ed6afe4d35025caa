package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"linkrotor/internal/eventbus"
	"linkrotor/internal/storage"
	logx "linkrotor/pkg/logx"
)

// run is the worker loop for one key. It returns only when ctx is cancelled.
func (s *Supervisor) run(ctx context.Context, h *handle) {
	defer s.release(h)
	log := s.log.With(
		logx.Int64("user_id", h.key.UserID),
		logx.Int64("channel_id", h.key.ChannelID),
		logx.String("run_id", h.runID),
	)

	for {
		alias, err := s.cycle(ctx, h, log)
		if ctx.Err() != nil {
			log.Info("rotation cancelled")
			return
		}
		if err != nil {
			log.Warn("rotation cycle failed", logx.Err(err))
			s.publish(eventbus.TypeCycleFailed, h, eventbus.RotationEvent{Error: err.Error()})
			s.announceFailure(ctx, h, err)
		} else {
			log.Info("alias changed", logx.String("alias", alias))
			s.publish(eventbus.TypeAliasChanged, h, eventbus.RotationEvent{Alias: alias})
			s.announceSuccess(ctx, h, alias)
		}
		if !s.sleep(ctx, h.interval) {
			log.Info("rotation cancelled")
			return
		}
	}
}

// cycle performs one rotation: it returns the new alias, or the error that
// ended the cycle. Name conflicts and flood waits are handled here.
func (s *Supervisor) cycle(ctx context.Context, h *handle, log logx.Logger) (string, error) {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		cred, ok, err := s.store.GetSession(ctx, h.key.UserID)
		if err != nil {
			return "", fmt.Errorf("load session: %w", err)
		}
		if !ok {
			return "", ErrNoCredential
		}

		candidate := h.baseName + s.suffix()
		out := s.client.SetAlias(ctx, cred, h.key.ChannelID, candidate)
		if err := ctx.Err(); err != nil {
			return "", err
		}

		switch o := out.(type) {
		case Success:
			alias := o.Alias
			if alias == "" {
				alias = candidate
			}
			at := s.clock.Now()
			if err := s.store.UpdateLastChanged(ctx, h.key.UserID, h.key.ChannelID, alias, at); err != nil {
				// the alias did change; a lost timestamp is not worth a failure notice
				log.Warn("persist last change failed", logx.String("alias", alias), logx.Err(err))
			}
			return alias, nil

		case NameTaken:
			attempts++
			log.Info("alias occupied", logx.String("candidate", candidate), logx.Int("attempt", attempts))
			s.publish(eventbus.TypeNameTaken, h, eventbus.RotationEvent{Alias: candidate})
			if attempts >= s.maxAttempts {
				return "", errNoAvailableName
			}

		case RateLimited:
			wait := o.Wait + s.pad
			log.Warn("rate limited; backing off", logx.Duration("server_wait", o.Wait), logx.Duration("sleep", wait))
			s.publish(eventbus.TypeRateLimited, h, eventbus.RotationEvent{Wait: o.Wait})
			if !s.sleep(ctx, wait) {
				return "", ctx.Err()
			}
			// the cycle starts over with a fresh credential and a full budget
			attempts = 0

		case Failure:
			return "", &FailureError{Message: o.Message}

		default:
			return "", fmt.Errorf("unexpected outcome %T", out)
		}
	}
}

// sleep waits d on the injected clock. It reports false if ctx ended first.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	t := s.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}

func (s *Supervisor) userLabel(ctx context.Context, userID int64) string {
	u, ok, err := s.store.GetUserInfo(ctx, userID)
	if err != nil || !ok {
		return ""
	}
	return u.Label()
}

func (s *Supervisor) announceSuccess(ctx context.Context, h *handle, alias string) {
	s.audit(ctx, h, "rotate", alias, nil)
	s.notify(ctx, successText(Notice{
		UserID:      h.key.UserID,
		ChannelID:   h.key.ChannelID,
		DisplayName: s.userLabel(ctx, h.key.UserID),
		Alias:       alias,
		Interval:    h.interval,
	}))
}

func (s *Supervisor) announceFailure(ctx context.Context, h *handle, cause error) {
	s.audit(ctx, h, "rotate", "", cause)
	s.notify(ctx, failureText(Notice{
		UserID:      h.key.UserID,
		ChannelID:   h.key.ChannelID,
		DisplayName: s.userLabel(ctx, h.key.UserID),
		Error:       reason(cause),
		Interval:    h.interval,
	}))
}

func (s *Supervisor) notify(ctx context.Context, text string) {
	target := s.notifyTarget()
	if s.notifier == nil || target.ChatID == 0 {
		return
	}
	err := s.notifier.Notify(ctx, notification(target, text))
	if err != nil {
		s.log.Debug("notify failed", logx.Err(err))
	}
}

func (s *Supervisor) audit(ctx context.Context, h *handle, action, alias string, cause error) {
	a, ok := s.store.(auditor)
	if !ok {
		return
	}
	e := storage.AuditEntry{
		At:      s.clock.Now(),
		ActorID: h.key.UserID,
		Action:  action,
		Target:  fmt.Sprintf("%d", h.key.ChannelID),
		OK:      cause == nil,
	}
	if alias != "" {
		e.MetaJSON = fmt.Sprintf(`{"alias":%q}`, alias)
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	if err := a.AppendAudit(ctx, e); err != nil {
		s.log.Debug("audit append failed", logx.Err(err))
	}
}

// reason renders a cycle error for operators.
func reason(err error) string {
	var fe *FailureError
	switch {
	case errors.Is(err, ErrNoCredential):
		return "User session not found. Please /login."
	case errors.Is(err, errNoAvailableName):
		return "No free name found; every candidate was taken."
	case errors.As(err, &fe):
		return fe.Message
	default:
		return err.Error()
	}
}
