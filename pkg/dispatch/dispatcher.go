package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lowc1012/bot-dispatch/internal/log"
	"go.uber.org/zap"
)

// ErrNilHandler is returned when registering a nil handler.
var ErrNilHandler = errors.New("handler must not be nil")

// Registry accepts handlers into dispatch groups.
type Registry interface {
	AddHandler(h Handler, group int) error
}

// ensure that Dispatcher satisfies an interface Registry
var _ Registry = &Dispatcher{}

// Dispatcher routes updates to registered handlers. Groups are visited in
// ascending order and inside a group only the first matching handler runs.
type Dispatcher struct {
	mu     sync.RWMutex
	groups map[int][]Handler
	order  []int

	wg      sync.WaitGroup
	errMu   sync.Mutex
	onError func(handler string, err error)
}

type Option func(*Dispatcher)

// WithOnError sets a callback invoked for every failed or panicking handler.
// Calls are serialized, so fn needs no locking of its own even when async
// handlers fail at the same time.
func WithOnError(fn func(handler string, err error)) Option {
	return func(d *Dispatcher) {
		d.onError = fn
	}
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		groups: make(map[int][]Handler),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) AddHandler(h Handler, group int) error {
	if h == nil {
		return ErrNilHandler
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.groups[group]; !ok {
		d.order = append(d.order, group)
		sort.Ints(d.order)
	}
	d.groups[group] = append(d.groups[group], h)
	return nil
}

// RemoveHandler drops h from group and reports whether it was registered.
func (d *Dispatcher) RemoveHandler(h Handler, group int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	handlers := d.groups[group]
	for i, registered := range handlers {
		if registered != h {
			continue
		}
		handlers = append(handlers[:i], handlers[i+1:]...)
		if len(handlers) == 0 {
			delete(d.groups, group)
			for j, g := range d.order {
				if g == group {
					d.order = append(d.order[:j], d.order[j+1:]...)
					break
				}
			}
		} else {
			d.groups[group] = handlers
		}
		return true
	}
	return false
}

type match struct {
	handler Handler
	ctx     *Context
}

// ProcessUpdate runs the matching handler of every group for u and returns
// how many handlers were started. Async handlers are still running when it
// returns; use Wait to block until they finish.
func (d *Dispatcher) ProcessUpdate(ctx context.Context, u *Update) int {
	if u == nil {
		return 0
	}

	d.mu.RLock()
	var matches []match
	for _, g := range d.order {
		for _, h := range d.groups[g] {
			if c, ok := h.CheckUpdate(ctx, u); ok {
				matches = append(matches, match{handler: h, ctx: c})
				break
			}
		}
	}
	d.mu.RUnlock()

	for _, m := range matches {
		if m.handler.Async() {
			d.wg.Add(1)
			go func(m match) {
				defer d.wg.Done()
				d.run(m.handler, m.ctx)
			}(m)
			continue
		}
		d.run(m.handler, m.ctx)
	}

	if len(matches) == 0 {
		log.Logger().Debug("No handler matched update", zap.Int64("update_id", u.ID))
	}
	return len(matches)
}

func (d *Dispatcher) run(h Handler, c *Context) {
	defer func() {
		if r := recover(); r != nil {
			d.fail(h, c, fmt.Errorf("handler panicked: %v", r))
		}
	}()

	if err := h.HandleUpdate(c); err != nil {
		d.fail(h, c, err)
	}
}

func (d *Dispatcher) fail(h Handler, c *Context, err error) {
	log.Logger().Error("Handler failed",
		zap.String("handler", h.Name()),
		zap.Int64("update_id", c.Update.ID),
		zap.Error(err))
	if d.onError != nil {
		d.errMu.Lock()
		defer d.errMu.Unlock()
		d.onError(h.Name(), err)
	}
}

// Wait blocks until every async handler started so far has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
