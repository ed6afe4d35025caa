package mtproto

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/session"
)

// Pyrogram string session layouts, by decoded length:
//
//	271  >BI?256sQ?  dc, api_id, test_mode, auth_key, user_id, is_bot
//	267  >B?256sQ?   dc, test_mode, auth_key, user_id, is_bot
//	263  >B?256sI?   dc, test_mode, auth_key, user_id (32 bit), is_bot
const (
	pyrogramLen   = 271
	pyrogramOld64 = 267
	pyrogramOld32 = 263
	pyrogramMaxDC = 5
	authKeyLength = 256
)

var errNotPyrogram = errors.New("not a pyrogram session")

// pyrogramSession decodes a Pyrogram export_session_string() value.
func pyrogramSession(s string) (*session.Data, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, errNotPyrogram
	}
	var keyAt int
	switch len(raw) {
	case pyrogramLen:
		keyAt = 1 + 4 + 1
	case pyrogramOld64, pyrogramOld32:
		keyAt = 1 + 1
	default:
		return nil, errNotPyrogram
	}
	dc := int(raw[0])
	if dc < 1 || dc > pyrogramMaxDC {
		return nil, errNotPyrogram
	}
	var key crypto.Key
	copy(key[:], raw[keyAt:keyAt+authKeyLength])
	id := key.WithID().ID
	return &session.Data{
		DC:        dc,
		AuthKey:   key[:],
		AuthKeyID: id[:],
	}, nil
}
