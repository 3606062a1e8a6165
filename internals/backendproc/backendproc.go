package backendproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Oudwins/somedaex/internals/conf"
	"github.com/Oudwins/somedaex/internals/timeouts"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

var (
	// ErrRegistryClosed is returned by Start after StopAll.
	ErrRegistryClosed = errors.New("backend registry is closed")
	ErrEmptyCommand   = errors.New("backend command is empty")
	ErrUnknownProcess = errors.New("unknown backend process")
)

// ExitError reports a backend that terminated while it was still wanted.
type ExitError struct {
	ID  string
	Err error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("backend %s exited", e.ID)
	}
	return fmt.Sprintf("backend %s exited: %v", e.ID, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Spec describes one backend child process.
type Spec struct {
	Name   string
	Dir    string
	Argv   []string
	Stdout io.Writer
	Stderr io.Writer
}

// SpecFromConfig builds the launch spec for the configured backend.
func SpecFromConfig(cfg conf.BackendConfig) Spec {
	return Spec{
		Name: "backend",
		Dir:  cfg.Dir,
		Argv: cfg.Argv(),
	}
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Process struct {
	ID        string
	Name      string
	StartedAt time.Time

	cmd      *exec.Cmd
	done     chan struct{}
	err      error
	stopping atomic.Bool
}

func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the wait error. Only meaningful after Done is closed.
func (p *Process) Err() error {
	<-p.done
	return p.err
}

type ExitFunc func(p *Process, err error)

type Registry struct {
	mu        sync.Mutex
	processes map[string]*Process
	closed    bool
	logger    *slog.Logger
	onExit    ExitFunc
	grace     time.Duration
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithExitCallback is called when a process exits without Stop being asked
// for it.
func WithExitCallback(fn ExitFunc) Option {
	return func(r *Registry) {
		r.onExit = fn
	}
}

// WithGracePeriod bounds how long Stop waits after an interrupt before it
// kills the process.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.grace = d
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		processes: make(map[string]*Process),
		logger:    slog.New(slog.DiscardHandler),
		grace:     timeouts.SecondShort,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start spawns spec and tracks it. Stdio defaults to the parent's.
func (r *Registry) Start(spec Spec) (*Process, error) {
	if len(spec.Argv) == 0 || spec.Argv[0] == "" {
		return nil, ErrEmptyCommand
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Stdout = spec.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = spec.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	proc := &Process{
		ID:   uuid.NewString(),
		Name: spec.Name,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Argv[0], err)
	}
	proc.StartedAt = time.Now()
	r.processes[proc.ID] = proc
	r.logger.Info("backend started", slog.String("id", proc.ID), slog.String("name", proc.Name), slog.Int("pid", proc.PID()))

	go r.wait(proc)
	return proc, nil
}

func (r *Registry) wait(proc *Process) {
	proc.err = proc.cmd.Wait()
	close(proc.done)

	r.mu.Lock()
	delete(r.processes, proc.ID)
	r.mu.Unlock()

	if proc.stopping.Load() {
		r.logger.Debug("backend stopped", slog.String("id", proc.ID))
		return
	}
	r.logger.Error("backend exited unexpectedly", slog.String("id", proc.ID), slog.Any("error", proc.err))
	if r.onExit != nil {
		r.onExit(proc, &ExitError{ID: proc.ID, Err: proc.err})
	}
}

func (r *Registry) Get(id string) (*Process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	proc, ok := r.processes[id]
	return proc, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.processes)
}

// Stop interrupts the process and kills it if it outlives the grace period.
func (r *Registry) Stop(id string) error {
	proc, ok := r.Get(id)
	if !ok {
		return ErrUnknownProcess
	}
	r.stop(proc)
	return nil
}

func (r *Registry) stop(proc *Process) {
	proc.stopping.Store(true)
	if proc.cmd.Process == nil {
		return
	}
	_ = proc.cmd.Process.Signal(os.Interrupt)
	select {
	case <-proc.done:
	case <-time.After(r.grace):
		_ = proc.cmd.Process.Kill()
		<-proc.done
	}
}

// StopAll stops every tracked process and refuses further starts.
func (r *Registry) StopAll() {
	r.mu.Lock()
	r.closed = true
	procs := make([]*Process, 0, len(r.processes))
	for _, proc := range r.processes {
		procs = append(procs, proc)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, proc := range procs {
		wg.Add(1)
		go func(p *Process) {
			defer wg.Done()
			r.stop(p)
		}(proc)
	}
	wg.Wait()
}

// WaitReady polls pinger until it answers, the process exits, or timeout
// elapses.
func WaitReady(ctx context.Context, proc *Process, pinger Pinger, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = timeouts.SecondLong
	}
	b := retry.NewExponential(100 * time.Millisecond)
	b = retry.WithCappedDuration(time.Second, b)
	b = retry.WithMaxDuration(timeout, b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		select {
		case <-proc.Done():
			return &ExitError{ID: proc.ID, Err: proc.err}
		default:
		}
		probeCtx, cancel := context.WithTimeout(ctx, timeouts.Probe)
		defer cancel()
		if err := pinger.Ping(probeCtx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// EnsureRunning returns nil when pinger already answers. Otherwise it starts
// spec through r and waits for it to come up. The returned process is nil
// when an existing backend was reused.
func EnsureRunning(ctx context.Context, r *Registry, pinger Pinger, spec Spec, timeout time.Duration) (*Process, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeouts.Probe)
	err := pinger.Ping(probeCtx)
	cancel()
	if err == nil {
		return nil, nil
	}

	proc, err := r.Start(spec)
	if err != nil {
		return nil, err
	}
	if err := WaitReady(ctx, proc, pinger, timeout); err != nil {
		_ = r.Stop(proc.ID)
		return nil, fmt.Errorf("backend did not become ready: %w", err)
	}
	return proc, nil
}
