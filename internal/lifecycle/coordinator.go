// Package lifecycle coordinates model load state and the execution mode.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/recall/internal/db/sqlite"
	"github.com/thebtf/recall/internal/engine"
	"github.com/thebtf/recall/pkg/models"
)

// ModePrefKey is the durable preference key holding the execution mode.
const ModePrefKey = "execution_mode"

// ErrModelLoadFailed wraps the underlying engine error when a load
// transitions to the error state. Match with errors.Is.
var ErrModelLoadFailed = errors.New("model load failed")

// EventType discriminates coordinator events.
type EventType string

const (
	EventModelStatus EventType = "model_status"
	EventModeChanged EventType = "mode_changed"
)

// Event is a coordinator state change pushed to subscribers.
type Event struct {
	Type   EventType          `json:"type"`
	Kind   models.ModelKind   `json:"kind,omitempty"`
	Mode   models.Mode        `json:"mode,omitempty"`
	Status models.ModelStatus `json:"status,omitempty"`
}

// Listener receives coordinator events. Callbacks run on coordinator
// goroutines and must not block.
type Listener func(Event)

// modelState is the per-model side of the coordinator.
type modelState struct {
	status      models.ModelStatus
	inflight    chan struct{} // closed when the current load settles
	loadErr     error
	unloading   chan struct{} // closed when the current unload settles
	unloadErr   error
	progressFns map[int]engine.LoadProgressFunc
	nextFnID    int
}

// Coordinator owns load/unload transitions for the managed models and
// the persisted cloud/local mode preference. It is the sole owner of
// those transitions: engines are never loaded or unloaded directly.
type Coordinator struct {
	loaders   map[models.ModelKind]engine.Loader
	prefs     *sqlite.PrefStore
	mu        sync.Mutex
	states    map[models.ModelKind]*modelState
	listeners []Listener
}

// NewCoordinator creates a coordinator managing the given loaders.
// prefs persists the execution mode across sessions.
func NewCoordinator(loaders map[models.ModelKind]engine.Loader, prefs *sqlite.PrefStore) *Coordinator {
	states := make(map[models.ModelKind]*modelState, len(loaders))
	for kind := range loaders {
		states[kind] = &modelState{
			status:      models.ModelStatus{State: models.ModelIdle},
			progressFns: make(map[int]engine.LoadProgressFunc),
		}
	}
	return &Coordinator{
		loaders: loaders,
		prefs:   prefs,
		states:  states,
	}
}

// Subscribe registers a listener for coordinator events.
func (c *Coordinator) Subscribe(fn Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// emit delivers ev to all listeners. Called without c.mu held.
func (c *Coordinator) emit(ev Event) {
	c.mu.Lock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// Status returns a snapshot of the model's lifecycle state.
func (c *Coordinator) Status(kind models.ModelKind) (models.ModelStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[kind]
	if !ok {
		return models.ModelStatus{}, fmt.Errorf("unknown model kind %q", kind)
	}
	return st.status, nil
}

// Load brings the model to ready, forwarding progress to onProgress.
//
// A load already in flight is joined, never restarted: the underlying
// engine load runs exactly once and every waiter observes the same
// outcome. A caller whose ctx expires stops receiving progress, but the
// underlying load continues and the state machine settles to ready or
// error when it does.
func (c *Coordinator) Load(ctx context.Context, kind models.ModelKind, onProgress engine.LoadProgressFunc) error {
	c.mu.Lock()
	st, ok := c.states[kind]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown model kind %q", kind)
	}

	switch st.status.State {
	case models.ModelReady:
		c.mu.Unlock()
		return nil

	case models.ModelLoading:
		// Join the in-flight load.
		fnID := c.addProgressFn(st, onProgress)
		inflight := st.inflight
		c.mu.Unlock()
		defer c.removeProgressFn(kind, fnID)
		return c.wait(ctx, kind, inflight)

	default: // idle or error: start a fresh load
		st.status = models.ModelStatus{State: models.ModelLoading, Progress: 0}
		st.loadErr = nil
		st.inflight = make(chan struct{})
		fnID := c.addProgressFn(st, onProgress)
		inflight := st.inflight
		c.mu.Unlock()

		c.emit(Event{Type: EventModelStatus, Kind: kind, Status: models.ModelStatus{State: models.ModelLoading}})
		go c.runLoad(kind)

		defer c.removeProgressFn(kind, fnID)
		return c.wait(ctx, kind, inflight)
	}
}

// runLoad drives the underlying engine load to completion. It runs
// detached from any caller context so an abandoned caller never leaves
// the state machine stuck in loading.
func (c *Coordinator) runLoad(kind models.ModelKind) {
	loader := c.loaders[kind]

	err := loader.Load(context.Background(), func(pct int) {
		c.reportProgress(kind, pct)
	})

	c.mu.Lock()
	st := c.states[kind]
	if err != nil {
		st.status = models.ModelStatus{State: models.ModelError, Progress: 0, Error: err.Error()}
		st.loadErr = fmt.Errorf("%w: %v", ErrModelLoadFailed, err)
	} else {
		st.status = models.ModelStatus{State: models.ModelReady, Progress: 100}
		st.loadErr = nil
	}
	status := st.status
	close(st.inflight)
	st.inflight = nil
	st.progressFns = make(map[int]engine.LoadProgressFunc)
	c.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("Model load failed")
	} else {
		log.Info().Str("kind", string(kind)).Msg("Model ready")
	}
	c.emit(Event{Type: EventModelStatus, Kind: kind, Status: status})
}

// wait blocks until the load settles or ctx expires.
func (c *Coordinator) wait(ctx context.Context, kind models.ModelKind, inflight chan struct{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-inflight:
		c.mu.Lock()
		err := c.states[kind].loadErr
		c.mu.Unlock()
		return err
	}
}

// reportProgress clamps progress monotonically and fans it out.
func (c *Coordinator) reportProgress(kind models.ModelKind, pct int) {
	c.mu.Lock()
	st := c.states[kind]
	if st.status.State != models.ModelLoading {
		c.mu.Unlock()
		return
	}
	if pct < st.status.Progress {
		pct = st.status.Progress
	}
	if pct > 100 {
		pct = 100
	}
	st.status.Progress = pct
	fns := make([]engine.LoadProgressFunc, 0, len(st.progressFns))
	for _, fn := range st.progressFns {
		fns = append(fns, fn)
	}
	status := st.status
	c.mu.Unlock()

	for _, fn := range fns {
		fn(pct)
	}
	c.emit(Event{Type: EventModelStatus, Kind: kind, Status: status})
}

func (c *Coordinator) addProgressFn(st *modelState, fn engine.LoadProgressFunc) int {
	if fn == nil {
		return -1
	}
	st.nextFnID++
	id := st.nextFnID
	st.progressFns[id] = fn
	return id
}

func (c *Coordinator) removeProgressFn(kind models.ModelKind, id int) {
	if id < 0 {
		return
	}
	c.mu.Lock()
	if st, ok := c.states[kind]; ok {
		delete(st.progressFns, id)
	}
	c.mu.Unlock()
}

// Unload releases the model and returns it to idle. Unloading an idle
// model is a no-op. Unloading a loading model is rejected: the load must
// settle first. An unload already in flight is joined, never restarted:
// the engine unload runs exactly once and every waiter observes the
// same outcome.
func (c *Coordinator) Unload(ctx context.Context, kind models.ModelKind) error {
	c.mu.Lock()
	st, ok := c.states[kind]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown model kind %q", kind)
	}
	if st.unloading != nil {
		// Join the in-flight unload.
		done := st.unloading
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			c.mu.Lock()
			err := st.unloadErr
			c.mu.Unlock()
			return err
		}
	}
	switch st.status.State {
	case models.ModelIdle:
		c.mu.Unlock()
		return nil
	case models.ModelLoading:
		c.mu.Unlock()
		return fmt.Errorf("model %q is loading; wait for the load to settle", kind)
	}
	done := make(chan struct{})
	st.unloading = done
	c.mu.Unlock()

	err := c.loaders[kind].Unload(ctx)

	c.mu.Lock()
	if err != nil {
		st.unloadErr = fmt.Errorf("unload %q: %w", kind, err)
	} else {
		st.status = models.ModelStatus{State: models.ModelIdle, Progress: 0}
		st.loadErr = nil
		st.unloadErr = nil
	}
	status := st.status
	unloadErr := st.unloadErr
	st.unloading = nil
	close(done)
	c.mu.Unlock()

	if unloadErr != nil {
		return unloadErr
	}
	log.Info().Str("kind", string(kind)).Msg("Model unloaded")
	c.emit(Event{Type: EventModelStatus, Kind: kind, Status: status})
	return nil
}

// Mode returns the persisted execution mode, defaulting to cloud.
func (c *Coordinator) Mode(ctx context.Context) (models.Mode, error) {
	value, err := c.prefs.Get(ctx, ModePrefKey, string(models.ModeCloud))
	if err != nil {
		return "", fmt.Errorf("read mode preference: %w", err)
	}
	mode := models.Mode(value)
	if !mode.Valid() {
		return models.ModeCloud, nil
	}
	return mode, nil
}

// SetMode persists the execution mode. Switching modes never triggers a
// model load by itself; loads happen lazily on first use.
func (c *Coordinator) SetMode(ctx context.Context, mode models.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid mode %q", mode)
	}
	if err := c.prefs.Set(ctx, ModePrefKey, string(mode)); err != nil {
		return fmt.Errorf("persist mode preference: %w", err)
	}
	log.Info().Str("mode", string(mode)).Msg("Execution mode changed")
	c.emit(Event{Type: EventModeChanged, Mode: mode})
	return nil
}
