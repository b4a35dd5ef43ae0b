// Package decorators registers callbacks into a dispatch registry with the
// defaults the bot uses everywhere: edited messages are ignored, commands run
// in group 40, plain message handlers in group 60, and callbacks run async
// unless told otherwise. A callback can be wrapped with a per-user rate limit
// at registration time.
package decorators

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lowc1012/bot-dispatch/internal/log"
	"github.com/lowc1012/bot-dispatch/pkg/dispatch"
	"github.com/lowc1012/bot-dispatch/pkg/ratelimiter"
	"go.uber.org/zap"
)

// Default dispatch groups.
const (
	CommandGroup       = 40
	MessageGroup       = 60
	CallbackQueryGroup = 0
	InlineQueryGroup   = 0
)

type options struct {
	name      string
	filter    dispatch.Filter
	group     *int
	async     bool
	rateLimit *ratelimiter.Config
	chatTypes []string
}

type Option func(*options)

// WithName names the callback in logs, defaults to the command or pattern.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithFilter narrows which updates reach the callback.
func WithFilter(f dispatch.Filter) Option {
	return func(o *options) { o.filter = f }
}

// WithGroup overrides the dispatch group.
func WithGroup(group int) Option {
	return func(o *options) { o.group = &group }
}

// WithSync runs the callback on the dispatch goroutine.
func WithSync() Option {
	return func(o *options) { o.async = false }
}

// WithRateLimit drops updates from users over the limiter's budget before
// they reach the callback. cfg.Name defaults to the handler name.
func WithRateLimit(cfg ratelimiter.Config) Option {
	return func(o *options) { o.rateLimit = &cfg }
}

// WithChatTypes restricts inline queries to the given originating chat types.
func WithChatTypes(types ...string) Option {
	return func(o *options) { o.chatTypes = types }
}

func buildOptions(defaultName string, defaultGroup int, opts []Option) options {
	o := options{name: defaultName, async: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.group == nil {
		o.group = &defaultGroup
	}
	return o
}

// Registrar registers callbacks into a dispatch registry.
type Registrar struct {
	registry dispatch.Registry
}

func NewRegistrar(registry dispatch.Registry) *Registrar {
	return &Registrar{registry: registry}
}

func (o *options) wrap(fn dispatch.HandlerFunc) (dispatch.HandlerFunc, error) {
	if fn == nil {
		return nil, errors.New("callback is required")
	}
	if o.rateLimit == nil {
		return fn, nil
	}
	cfg := *o.rateLimit
	if cfg.Name == "" {
		cfg.Name = o.name
	}
	return ratelimiter.NewRateLimitedHandler(fn, &cfg)
}

func withoutEdits(f dispatch.Filter) dispatch.Filter {
	if f == nil {
		return dispatch.Not(dispatch.EditedMessage)
	}
	return f.And(dispatch.Not(dispatch.EditedMessage))
}

// Command registers fn for the given commands. It returns fn unchanged so
// registration can sit next to the callback definition.
func (r *Registrar) Command(commands []string, fn dispatch.HandlerFunc, opts ...Option) (dispatch.HandlerFunc, error) {
	if len(commands) == 0 {
		return nil, errors.New("at least one command is required")
	}
	o := buildOptions(commands[0], CommandGroup, opts)
	cb, err := o.wrap(fn)
	if err != nil {
		return nil, fmt.Errorf("register command %s: %w", o.name, err)
	}

	h := dispatch.NewCommandHandler(o.name, commands, cb, withoutEdits(o.filter), o.async)
	if err := r.registry.AddHandler(h, *o.group); err != nil {
		return nil, fmt.Errorf("register command %s: %w", o.name, err)
	}
	log.Logger().Debug(fmt.Sprintf("Loaded handler %s", strings.Join(commands, ",")),
		zap.String("kind", "command"),
		zap.String("handler", o.name),
		zap.Int("group", *o.group),
		zap.Bool("rate_limited", o.rateLimit != nil))
	return fn, nil
}

// Message registers fn for every non edited message accepted by the filter.
func (r *Registrar) Message(fn dispatch.HandlerFunc, opts ...Option) (dispatch.HandlerFunc, error) {
	o := buildOptions("message", MessageGroup, opts)
	cb, err := o.wrap(fn)
	if err != nil {
		return nil, fmt.Errorf("register message handler %s: %w", o.name, err)
	}

	h := dispatch.NewMessageHandler(o.name, withoutEdits(o.filter), cb, o.async)
	if err := r.registry.AddHandler(h, *o.group); err != nil {
		return nil, fmt.Errorf("register message handler %s: %w", o.name, err)
	}
	log.Logger().Debug(fmt.Sprintf("Loaded message filter for %s", o.name),
		zap.String("kind", "message"),
		zap.String("handler", o.name),
		zap.Int("group", *o.group),
		zap.Bool("rate_limited", o.rateLimit != nil))
	return fn, nil
}

// CallbackQuery registers fn for callback queries whose data matches pattern.
// An empty pattern matches every callback query.
func (r *Registrar) CallbackQuery(pattern string, fn dispatch.HandlerFunc, opts ...Option) (dispatch.HandlerFunc, error) {
	o := buildOptions(nameOr(pattern, "callbackquery"), CallbackQueryGroup, opts)
	re, err := compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("register callback query %s: %w", o.name, err)
	}
	cb, err := o.wrap(fn)
	if err != nil {
		return nil, fmt.Errorf("register callback query %s: %w", o.name, err)
	}

	h := dispatch.NewCallbackQueryHandler(o.name, re, cb, o.async)
	if err := r.registry.AddHandler(h, *o.group); err != nil {
		return nil, fmt.Errorf("register callback query %s: %w", o.name, err)
	}
	log.Logger().Debug(fmt.Sprintf("Loaded callbackquery handler with pattern %q", pattern),
		zap.String("kind", "callbackquery"),
		zap.String("handler", o.name),
		zap.Int("group", *o.group))
	return fn, nil
}

// InlineQuery registers fn for inline queries whose text matches pattern.
func (r *Registrar) InlineQuery(pattern string, fn dispatch.HandlerFunc, opts ...Option) (dispatch.HandlerFunc, error) {
	o := buildOptions(nameOr(pattern, "inlinequery"), InlineQueryGroup, opts)
	re, err := compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("register inline query %s: %w", o.name, err)
	}
	cb, err := o.wrap(fn)
	if err != nil {
		return nil, fmt.Errorf("register inline query %s: %w", o.name, err)
	}

	h := dispatch.NewInlineQueryHandler(o.name, re, o.chatTypes, cb, o.async)
	if err := r.registry.AddHandler(h, *o.group); err != nil {
		return nil, fmt.Errorf("register inline query %s: %w", o.name, err)
	}
	log.Logger().Debug(fmt.Sprintf("Loaded inlinequery handler with pattern %q", pattern),
		zap.String("kind", "inlinequery"),
		zap.String("handler", o.name),
		zap.Int("group", *o.group),
		zap.Strings("chat_types", o.chatTypes))
	return fn, nil
}

func compile(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(pattern)
}

func nameOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
