// Package dispatch matches raw key events against scan-code entries and
// publishes the bound notifications.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"hotkeyd/internal/input"
	"hotkeyd/internal/keymap"
	"hotkeyd/internal/workerutil"
)

// State is the loop lifecycle state.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "RUNNING"
	}
	return "STOPPED"
}

// ErrAlreadyRunning is returned by Start on a running loop.
var ErrAlreadyRunning = errors.New("dispatch loop is already running")

// Publisher delivers a notification identifier. Must not block.
type Publisher interface {
	Publish(id string)
}

// Options tunes a Loop.
type Options struct {
	// Debug logs every event read, matched or not.
	Debug bool
}

// Loop is the single worker pulling events from an input.Source.
type Loop struct {
	src   input.Source
	pub   Publisher
	index map[keymap.Direction]map[int][]string
	debug bool

	mu    sync.Mutex
	state State
	done  chan struct{}
	err   error
}

// New builds a stopped loop over the scan-code entries of table. Combo
// entries in table are ignored.
func New(src input.Source, pub Publisher, table keymap.KeyMapping, opts Options) *Loop {
	done := make(chan struct{})
	close(done)
	return &Loop{
		src:   src,
		pub:   pub,
		index: buildIndex(table),
		debug: opts.Debug,
		done:  done,
	}
}

func buildIndex(table keymap.KeyMapping) map[keymap.Direction]map[int][]string {
	index := make(map[keymap.Direction]map[int][]string, len(keymap.Directions))
	for _, dir := range keymap.Directions {
		entries := table.Get(dir)
		byCode := map[int][]string{}
		for _, id := range entries.IDs() {
			if code, ok := entries[id].Code(); ok {
				byCode[code] = append(byCode[code], id)
			}
		}
		index[dir] = byCode
	}
	return index
}

// Start moves the loop to RUNNING and spawns the worker. Cancelling ctx
// has the same effect as Stop. Start fails while a previous worker is
// still blocked in a read.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateRunning {
		return ErrAlreadyRunning
	}
	select {
	case <-l.done:
	default:
		return ErrAlreadyRunning
	}
	l.state = StateRunning
	l.err = nil
	done := make(chan struct{})
	l.done = done

	stopOnCancel := context.AfterFunc(ctx, l.Stop)

	var once sync.Once
	finish := func(err error) {
		once.Do(func() {
			stopOnCancel()
			l.mu.Lock()
			l.state = StateStopped
			l.err = err
			l.mu.Unlock()
			close(done)
		})
	}

	var wg sync.WaitGroup
	workerutil.RunWithPanicRecovery(ctx, "dispatch-loop", &wg, func(context.Context) {
		l.run(finish)
	}, workerutil.RecoveryOptions{
		OnFatal: func(worker string, maxRetries int) {
			finish(fmt.Errorf("%s gave up after %d panics", worker, maxRetries))
		},
	})
	// A panic that lands after ctx is cancelled ends the recovery loop
	// without OnFatal.
	go func() {
		wg.Wait()
		finish(nil)
	}()
	slog.Debug("[DEBUG-DISPATCH] loop started", "scanCodes", l.scanCodeCount())
	return nil
}

func (l *Loop) scanCodeCount() int {
	n := 0
	for _, byCode := range l.index {
		n += len(byCode)
	}
	return n
}

func (l *Loop) run(finish func(error)) {
	for {
		if l.State() != StateRunning {
			finish(nil)
			return
		}
		ev, err := l.src.NextEvent()
		if l.State() != StateRunning {
			slog.Debug("[DEBUG-DISPATCH] loop stopped, discarding read", "error", err)
			finish(nil)
			return
		}
		if err != nil {
			slog.Error("[DEBUG-DISPATCH] input source failed, stopping loop", "error", err)
			finish(err)
			return
		}
		l.dispatch(ev)
	}
}

func (l *Loop) dispatch(ev input.RawKeyEvent) {
	dir := keymap.Down
	if ev.Phase == input.PhaseReleased {
		dir = keymap.Up
	}
	ids := l.index[dir][ev.Code]

	if l.debug {
		slog.Info("[DEBUG-DISPATCH] key event",
			"code", ev.Code,
			"phase", ev.Phase,
			"device", ev.Device,
			"matches", ids,
		)
	}

	for _, id := range ids {
		l.pub.Publish(id)
	}
}

// Stop moves the loop to STOPPED. The worker exits after its current read
// returns. Safe from any goroutine and safe to repeat.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateRunning {
		l.state = StateStopped
		slog.Debug("[DEBUG-DISPATCH] stop requested")
	}
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Done is closed when the worker has exited. Closed before the first Start.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Err returns the source error that ended the last run, if any.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}
