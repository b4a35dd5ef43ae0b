package dispatch

import (
	"context"
	"regexp"
	"strings"
)

// Context is handed to every callback.
type Context struct {
	context.Context
	Update *Update
	// Args holds the whitespace separated words following a command.
	Args []string
	// Matches holds the submatches of a pattern based handler.
	Matches []string
}

// HandlerFunc is the callback signature shared by every handler kind.
type HandlerFunc func(c *Context) error

// Handler routes a matching update to its callback.
type Handler interface {
	// CheckUpdate reports whether the handler wants u. The returned context
	// is passed to HandleUpdate.
	CheckUpdate(ctx context.Context, u *Update) (*Context, bool)
	HandleUpdate(c *Context) error
	// Async reports whether the callback may run off the dispatch goroutine.
	Async() bool
	Name() string
}

type baseHandler struct {
	name     string
	callback HandlerFunc
	async    bool
}

func (h *baseHandler) HandleUpdate(c *Context) error { return h.callback(c) }
func (h *baseHandler) Async() bool                   { return h.async }
func (h *baseHandler) Name() string                  { return h.name }

// CommandHandler matches messages starting with /command or /command@bot.
type CommandHandler struct {
	baseHandler
	commands map[string]struct{}
	filter   Filter
}

func NewCommandHandler(name string, commands []string, callback HandlerFunc, filter Filter, async bool) *CommandHandler {
	set := make(map[string]struct{}, len(commands))
	for _, c := range commands {
		set[strings.ToLower(strings.TrimPrefix(c, "/"))] = struct{}{}
	}
	if filter == nil {
		filter = All
	}
	return &CommandHandler{
		baseHandler: baseHandler{name: name, callback: callback, async: async},
		commands:    set,
		filter:      filter,
	}
}

func (h *CommandHandler) CheckUpdate(ctx context.Context, u *Update) (*Context, bool) {
	m := messageOf(u)
	if m == nil || !strings.HasPrefix(m.Text, "/") {
		return nil, false
	}
	fields := strings.Fields(m.Text)
	if len(fields) == 0 {
		return nil, false
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	if _, ok := h.commands[strings.ToLower(cmd)]; !ok {
		return nil, false
	}
	if !h.filter(u) {
		return nil, false
	}
	return &Context{Context: ctx, Update: u, Args: fields[1:]}, true
}

// MessageHandler matches messages accepted by its filter.
type MessageHandler struct {
	baseHandler
	filter Filter
}

func NewMessageHandler(name string, filter Filter, callback HandlerFunc, async bool) *MessageHandler {
	if filter == nil {
		filter = All
	}
	return &MessageHandler{
		baseHandler: baseHandler{name: name, callback: callback, async: async},
		filter:      filter,
	}
}

func (h *MessageHandler) CheckUpdate(ctx context.Context, u *Update) (*Context, bool) {
	if u == nil || (u.Message == nil && u.EditedMessage == nil) {
		return nil, false
	}
	if !h.filter(u) {
		return nil, false
	}
	return &Context{Context: ctx, Update: u}, true
}

// CallbackQueryHandler matches callback queries whose data matches pattern.
// A nil pattern matches every callback query.
type CallbackQueryHandler struct {
	baseHandler
	pattern *regexp.Regexp
}

func NewCallbackQueryHandler(name string, pattern *regexp.Regexp, callback HandlerFunc, async bool) *CallbackQueryHandler {
	return &CallbackQueryHandler{
		baseHandler: baseHandler{name: name, callback: callback, async: async},
		pattern:     pattern,
	}
}

func (h *CallbackQueryHandler) CheckUpdate(ctx context.Context, u *Update) (*Context, bool) {
	if u == nil || u.CallbackQuery == nil {
		return nil, false
	}
	c := &Context{Context: ctx, Update: u}
	if h.pattern == nil {
		return c, true
	}
	m := h.pattern.FindStringSubmatch(u.CallbackQuery.Data)
	if m == nil {
		return nil, false
	}
	c.Matches = m
	return c, true
}

// InlineQueryHandler matches inline queries by pattern and originating chat type.
type InlineQueryHandler struct {
	baseHandler
	pattern   *regexp.Regexp
	chatTypes []string
}

func NewInlineQueryHandler(name string, pattern *regexp.Regexp, chatTypes []string, callback HandlerFunc, async bool) *InlineQueryHandler {
	return &InlineQueryHandler{
		baseHandler: baseHandler{name: name, callback: callback, async: async},
		pattern:     pattern,
		chatTypes:   chatTypes,
	}
}

func (h *InlineQueryHandler) CheckUpdate(ctx context.Context, u *Update) (*Context, bool) {
	if u == nil || u.InlineQuery == nil {
		return nil, false
	}
	if len(h.chatTypes) > 0 && !contains(h.chatTypes, u.InlineQuery.ChatType) {
		return nil, false
	}
	c := &Context{Context: ctx, Update: u}
	if h.pattern == nil {
		return c, true
	}
	m := h.pattern.FindStringSubmatch(u.InlineQuery.Query)
	if m == nil {
		return nil, false
	}
	c.Matches = m
	return c, true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
