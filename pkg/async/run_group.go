package async

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/tryfix/log"
)

// Fn is a long running process of a RunGroup. It must return once Opts.Stopping() is closed.
type Fn func(*Opts) error

type Opts struct {
	stopping  <-chan struct{}
	readyOnce sync.Once
	ready     chan struct{}
}

// Stopping is closed when the group starts shutting down.
func (opts *Opts) Stopping() <-chan struct{} {
	return opts.stopping
}

// Ready marks the process as started (eg: consumer subscribed, http listener bound).
func (opts *Opts) Ready() {
	opts.readyOnce.Do(func() {
		close(opts.ready)
	})
}

var ErrInterrupted = errors.New(`interrupted`)

// RunGroup runs processes side by side. The first process to fail or return stops every other one.
type RunGroup struct {
	fns      []Fn
	readyWg  sync.WaitGroup
	stopping chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	err      error
	logger   log.Logger
}

func NewRunGroup(logger log.Logger, fns ...Fn) *RunGroup {
	tg := &RunGroup{
		stopping: make(chan struct{}),
		stopped:  make(chan struct{}),
		logger:   logger.NewLog(log.Prefixed(`RunGroup`)),
	}

	for _, fn := range fns {
		tg.Add(fn)
	}

	return tg
}

// Add registers a process. Processes cannot be added once Run was called.
func (tg *RunGroup) Add(fn Fn) *RunGroup {
	tg.readyWg.Add(1)
	tg.fns = append(tg.fns, fn)
	return tg
}

// Run starts every process and blocks until all of them returned. It returns the first error.
func (tg *RunGroup) Run() error {
	wg := new(sync.WaitGroup)
	wg.Add(len(tg.fns))

	for _, fn := range tg.fns {
		opts := &Opts{
			stopping: tg.stopping,
			ready:    make(chan struct{}),
		}

		go func() {
			<-opts.ready
			tg.readyWg.Done()
		}()

		go func(fn Fn) {
			defer wg.Done()
			// a returning process is ready anyway, Ready() must not block forever
			defer opts.Ready()

			err := tg.run(fn, opts)
			tg.stop(err)
		}(fn)
	}

	wg.Wait()
	close(tg.stopped)

	return tg.Err()
}

func (tg *RunGroup) run(fn Fn, opts *Opts) (err error) {
	defer RecoverPanic(tg.logger, func(recovered error) {
		err = recovered
	})

	return fn(opts)
}

func (tg *RunGroup) stop(err error) {
	if err != nil {
		tg.mu.Lock()
		if tg.err == nil {
			tg.err = err
		}
		tg.mu.Unlock()
	}

	tg.stopOnce.Do(func() {
		if err != nil {
			tg.logger.Error(fmt.Sprintf(`Processes stopping due to %s`, err))
		} else {
			tg.logger.Info(`Processes stopping...`)
		}

		close(tg.stopping)
	})
}

func (tg *RunGroup) Err() error {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return tg.err
}

// Ready blocks until every process called Opts.Ready or returned. It returns ErrInterrupted when the
// group was stopped without an error before becoming ready.
func (tg *RunGroup) Ready() error {
	tg.readyWg.Wait()

	if err := tg.Err(); err != nil {
		return err
	}

	select {
	case <-tg.stopping:
		return ErrInterrupted
	default:
		return nil
	}
}

// Stop signals every process to stop and waits for Run to return.
func (tg *RunGroup) Stop() {
	tg.stop(nil)
	<-tg.stopped
	tg.logger.Info(`Processes stopped`)
}

// StopOnSignal stops the group when one of the signals arrives.
func (tg *RunGroup) StopOnSignal(sig ...os.Signal) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, sig...)

	go func() {
		defer signal.Stop(sigs)

		select {
		case s := <-sigs:
			tg.logger.Info(fmt.Sprintf(`Received %s`, s))
			tg.Stop()
		case <-tg.stopped:
		}
	}()
}
