package utils

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lowc1012/bot-dispatch/pkg/dispatch"
)

// Extractor represents the way we will extract a rate limiting key from an update. This could be
// the sending user, the chat, or both; anything identifying who triggered the update without
// side effects.
type Extractor interface {
	Extract(u *dispatch.Update) (string, error)
}

// Field selects one part of an update used to build a key.
type Field int

const (
	UserID Field = iota
	ChatID
)

func (f Field) String() string {
	switch f {
	case UserID:
		return "user"
	case ChatID:
		return "chat"
	default:
		return "field(" + strconv.Itoa(int(f)) + ")"
	}
}

type updateFieldsExtractor struct {
	fields []Field
}

// NewUpdateFieldsExtractor creates an extractor joining the given fields of an update.
func NewUpdateFieldsExtractor(fields ...Field) Extractor {
	return &updateFieldsExtractor{fields: fields}
}

// NewEffectiveUserExtractor keys updates by the id of the user that triggered them.
func NewEffectiveUserExtractor() Extractor {
	return NewUpdateFieldsExtractor(UserID)
}

// Extract collects the configured fields and joins them to build the key that will be used for
// rate limiting. Updates missing one of the fields (channel posts have no user) are rejected.
func (e *updateFieldsExtractor) Extract(u *dispatch.Update) (string, error) {
	values := make([]string, 0, len(e.fields))

	for _, f := range e.fields {
		switch f {
		case UserID:
			user := u.EffectiveUser()
			if user == nil {
				return "", fmt.Errorf("the update has no %v", f)
			}
			values = append(values, strconv.FormatInt(user.ID, 10))
		case ChatID:
			chat := u.EffectiveChat()
			if chat == nil {
				return "", fmt.Errorf("the update has no %v", f)
			}
			values = append(values, strconv.FormatInt(chat.ID, 10))
		default:
			return "", fmt.Errorf("unsupported key field %v", f)
		}
	}

	if len(values) == 0 {
		return "", fmt.Errorf("no key fields configured")
	}
	return strings.Join(values, "-"), nil
}
