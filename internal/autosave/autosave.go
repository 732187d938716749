// Package autosave debounces form edits into progress checkpoints.
//
// A Coordinator belongs to one form instance. Edits are applied to its
// in-memory state at once; the store sees at most one save per quiet
// period, always carrying the latest state, and saves never overlap.
package autosave

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/smartform/internal/form"
	"github.com/dukerupert/smartform/internal/model"
)

const (
	DefaultDelay       = 500 * time.Millisecond
	defaultSaveTimeout = 10 * time.Second
)

var (
	ErrAlreadyMounted = errors.New("autosave: already mounted")
	ErrNotMounted     = errors.New("autosave: not mounted")
	ErrClosed         = errors.New("autosave: closed")
)

// Store persists the current user's draft.
type Store interface {
	SaveProgress(ctx context.Context, step int, data form.Data) error
	// LoadProgress returns nil when the user has no draft.
	LoadProgress(ctx context.Context) (*model.FormProgress, error)
}

// Status describes the most recent save.
type Status struct {
	Saving    bool
	Dirty     bool
	LastSaved time.Time
	Err       error
}

type Coordinator struct {
	store       Store
	delay       time.Duration
	saveTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu        sync.Mutex
	mounted   bool
	closed    bool
	step      int
	data      form.Data
	version   uint64
	saved     uint64
	timer     *time.Timer
	saving    bool
	lastSaved time.Time
	lastErr   error

	saveMu sync.Mutex
}

type Option func(*Coordinator)

func WithDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.delay = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func New(store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:       store,
		delay:       DefaultDelay,
		saveTimeout: defaultSaveTimeout,
		logger:      slog.Default(),
		now:         time.Now,
		step:        1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mount loads the stored draft, if any. It may be called once.
func (c *Coordinator) Mount(ctx context.Context) error {
	c.mu.Lock()
	if c.mounted {
		c.mu.Unlock()
		return ErrAlreadyMounted
	}
	c.mounted = true
	c.mu.Unlock()

	p, err := c.store.LoadProgress(ctx)
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if form.ValidStep(p.CurrentStep) {
		c.step = p.CurrentStep
	}
	c.data = p.FormData.Clone()
	return nil
}

// Update applies fn to the draft and schedules a save.
func (c *Coordinator) Update(fn func(d *form.Data)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	fn(&c.data)
	c.touch()
	return nil
}

// SetStep records the step the user is on and schedules a save.
func (c *Coordinator) SetStep(n int) error {
	if !form.ValidStep(n) {
		return errors.New("autosave: step out of range")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	if c.step == n {
		return nil
	}
	c.step = n
	c.touch()
	return nil
}

// Snapshot returns a copy of the current step and draft.
func (c *Coordinator) Snapshot() (int, form.Data) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step, c.data.Clone()
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Saving:    c.saving,
		Dirty:     c.version != c.saved,
		LastSaved: c.lastSaved,
		Err:       c.lastErr,
	}
}

// Flush cancels any pending timer and saves now if there are unsaved edits.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	c.stopTimer()
	c.mu.Unlock()
	return c.save(ctx)
}

// Close stops the coordinator. Unsaved edits get one final save attempt.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopTimer()
	c.mu.Unlock()
	return c.save(ctx)
}

// Reset discards the local draft without saving, for use after the form
// has been submitted.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimer()
	c.step = 1
	c.data = form.Data{}
	c.version++
	c.saved = c.version
	c.lastErr = nil
}

func (c *Coordinator) usable() error {
	if c.closed {
		return ErrClosed
	}
	if !c.mounted {
		return ErrNotMounted
	}
	return nil
}

// touch marks the draft dirty and restarts the quiet period. c.mu is held.
func (c *Coordinator) touch() {
	c.version++
	c.stopTimer()
	c.timer = time.AfterFunc(c.delay, c.fire)
}

func (c *Coordinator) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), c.saveTimeout)
	defer cancel()
	if err := c.save(ctx); err != nil {
		c.logger.Warn("autosave failed", "error", err)
	}
}

func (c *Coordinator) save(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	if c.version == c.saved {
		c.mu.Unlock()
		return nil
	}
	step, data, v := c.step, c.data.Clone(), c.version
	c.saving = true
	c.mu.Unlock()

	err := c.store.SaveProgress(ctx, step, data)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.saving = false
	if err != nil {
		c.lastErr = err
		return err
	}
	if v > c.saved {
		c.saved = v
	}
	c.lastErr = nil
	c.lastSaved = c.now()
	return nil
}
