package realtime

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
)

const cursorPrefix = "seq:"

// ErrBadCursor is returned for cursors this server did not mint.
var ErrBadCursor = errors.New("realtime: malformed cursor")

// EncodeCursor mints the opaque cursor for a message sequence number.
// Clients must treat the result as an opaque token.
func EncodeCursor(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(seq, 10)))
}

// DecodeCursor reverses EncodeCursor.
func DecodeCursor(cursor string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, ErrBadCursor
	}
	s, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return 0, ErrBadCursor
	}
	seq, err := strconv.ParseInt(s, 10, 64)
	if err != nil || seq < 0 {
		return 0, ErrBadCursor
	}
	return seq, nil
}
