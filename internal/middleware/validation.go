package middleware

import (
	"errors"
	"strconv"
	"unicode/utf8"
)

const (
	maxMessageRunes  = 4000
	maxIdentityBytes = 128
)

// ValidateMessageText validates chat text. Empty text is allowed; the chat
// endpoint answers it with a canned reply.
func ValidateMessageText(text string) error {
	if !utf8.ValidString(text) {
		return errors.New("message must be valid UTF-8")
	}
	if utf8.RuneCountInString(text) > maxMessageRunes {
		return errors.New("message exceeds maximum length")
	}
	return nil
}

// ValidateIdentity validates a token subject.
func ValidateIdentity(identity string) error {
	if len(identity) == 0 {
		return errors.New("identity cannot be empty")
	}
	if len(identity) > maxIdentityBytes {
		return errors.New("identity exceeds maximum length")
	}
	if !utf8.ValidString(identity) {
		return errors.New("identity must be valid UTF-8")
	}
	return nil
}

// ParseID parses a positive numeric path id.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}
