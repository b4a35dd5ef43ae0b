package dispatch

import (
	"regexp"
	"strings"
)

// Filter decides whether an update is of interest to a handler.
type Filter func(u *Update) bool

// And matches when both f and other match.
func (f Filter) And(other Filter) Filter {
	return func(u *Update) bool { return f(u) && other(u) }
}

// Or matches when either f or other matches.
func (f Filter) Or(other Filter) Filter {
	return func(u *Update) bool { return f(u) || other(u) }
}

// Not inverts f.
func Not(f Filter) Filter {
	return func(u *Update) bool { return !f(u) }
}

// All matches every update.
func All(*Update) bool { return true }

// EditedMessage matches updates carrying an edited message.
func EditedMessage(u *Update) bool {
	return u != nil && u.EditedMessage != nil
}

// messageOf returns the new or edited message of u. Unlike EffectiveMessage it
// ignores the message a callback query was attached to.
func messageOf(u *Update) *Message {
	switch {
	case u == nil:
		return nil
	case u.Message != nil:
		return u.Message
	}
	return u.EditedMessage
}

// Text matches messages with text that is not a command.
func Text(u *Update) bool {
	m := messageOf(u)
	return m != nil && m.Text != "" && !strings.HasPrefix(m.Text, "/")
}

// Command matches messages whose text starts with a slash.
func Command(u *Update) bool {
	m := messageOf(u)
	return m != nil && strings.HasPrefix(m.Text, "/")
}

// Regex matches messages whose text matches pattern.
func Regex(pattern string) Filter {
	re := regexp.MustCompile(pattern)
	return func(u *Update) bool {
		m := messageOf(u)
		return m != nil && re.MatchString(m.Text)
	}
}

// ChatType matches updates from chats of one of the given types.
func ChatType(types ...string) Filter {
	return func(u *Update) bool {
		c := u.EffectiveChat()
		if c == nil {
			return false
		}
		for _, t := range types {
			if c.Type == t {
				return true
			}
		}
		return false
	}
}
