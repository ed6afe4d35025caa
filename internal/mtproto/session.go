package mtproto

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gotd/td/session"
)

var ErrBadSession = errors.New("unrecognized session string")

// loadSession decodes a stored credential into an in-memory session store.
//
// Accepted forms:
//   - Telethon string session (starts with "1")
//   - Pyrogram string session
//   - base64 of gotd's JSON session file
func loadSession(ctx context.Context, credential string) (*session.StorageMemory, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrBadSession
	}
	st := new(session.StorageMemory)

	if strings.HasPrefix(credential, "1") {
		data, err := session.TelethonSession(credential)
		if err == nil {
			if err := (&session.Loader{Storage: st}).Save(ctx, data); err != nil {
				return nil, fmt.Errorf("store telethon session: %w", err)
			}
			return st, nil
		}
	}

	if data, err := pyrogramSession(credential); err == nil {
		if err := (&session.Loader{Storage: st}).Save(ctx, data); err != nil {
			return nil, fmt.Errorf("store pyrogram session: %w", err)
		}
		return st, nil
	}

	raw, err := base64.StdEncoding.DecodeString(credential)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(credential)
	}
	if err != nil || !json.Valid(raw) {
		return nil, ErrBadSession
	}
	if err := st.StoreSession(ctx, raw); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return st, nil
}

// ValidateSession reports whether credential has a recognized encoding.
// It does not contact Telegram.
func ValidateSession(ctx context.Context, credential string) error {
	_, err := loadSession(ctx, credential)
	return err
}
