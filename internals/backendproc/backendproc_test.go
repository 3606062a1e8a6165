package backendproc

import (
	"context"
	"errors"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Oudwins/somedaex/internals/conf"
)

type fakePinger struct {
	calls   atomic.Int32
	readyAt int32
}

func (f *fakePinger) Ping(ctx context.Context) error {
	n := f.calls.Add(1)
	if f.readyAt > 0 && n >= f.readyAt {
		return nil
	}
	return errors.New("connection refused")
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestStartAndStopAll(t *testing.T) {
	requireShell(t)

	exited := make(chan error, 1)
	registry := NewRegistry(
		WithGracePeriod(500*time.Millisecond),
		WithExitCallback(func(p *Process, err error) { exited <- err }),
	)

	proc, err := registry.Start(Spec{Name: "sleeper", Argv: []string{"sh", "-c", "sleep 30"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if proc.ID == "" || proc.PID() == 0 {
		t.Fatalf("expected id and pid, got %q %d", proc.ID, proc.PID())
	}
	if registry.Len() != 1 {
		t.Fatalf("expected 1 process, got %d", registry.Len())
	}

	registry.StopAll()

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not stop")
	}
	select {
	case err := <-exited:
		t.Fatalf("expected no exit callback for a requested stop, got %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	if _, err := registry.Start(Spec{Argv: []string{"sh", "-c", "true"}}); !errors.Is(err, ErrRegistryClosed) {
		t.Fatalf("expected ErrRegistryClosed, got %v", err)
	}
}

func TestUnexpectedExitIsReported(t *testing.T) {
	requireShell(t)

	exited := make(chan error, 1)
	registry := NewRegistry(WithExitCallback(func(p *Process, err error) { exited <- err }))
	defer registry.StopAll()

	proc, err := registry.Start(Spec{Argv: []string{"sh", "-c", "exit 3"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case err := <-exited:
		var exitErr *ExitError
		if !errors.As(err, &exitErr) {
			t.Fatalf("expected *ExitError, got %T", err)
		}
		if exitErr.ID != proc.ID {
			t.Fatalf("expected id %s, got %s", proc.ID, exitErr.ID)
		}
		var cmdErr *exec.ExitError
		if !errors.As(err, &cmdErr) || cmdErr.ExitCode() != 3 {
			t.Fatalf("expected exit code 3, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback not called")
	}
}

func TestStartRejectsEmptyCommand(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Start(Spec{}); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
}

func TestStartMissingBinary(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Start(Spec{Argv: []string{"/nonexistent/somedaex-backend"}})
	if err == nil {
		t.Fatal("expected spawn error")
	}
	if registry.Len() != 0 {
		t.Fatalf("expected no tracked process, got %d", registry.Len())
	}
}

func TestStopUnknown(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Stop("nope"); !errors.Is(err, ErrUnknownProcess) {
		t.Fatalf("expected ErrUnknownProcess, got %v", err)
	}
}

func TestWaitReadyPollsUntilAnswer(t *testing.T) {
	requireShell(t)

	registry := NewRegistry(WithGracePeriod(500 * time.Millisecond))
	defer registry.StopAll()

	proc, err := registry.Start(Spec{Argv: []string{"sh", "-c", "sleep 30"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	pinger := &fakePinger{readyAt: 3}
	if err := WaitReady(context.Background(), proc, pinger, 5*time.Second); err != nil {
		t.Fatalf("expected ready, got %v", err)
	}
	if got := pinger.calls.Load(); got != 3 {
		t.Fatalf("expected 3 pings, got %d", got)
	}
}

func TestWaitReadyStopsWhenProcessExits(t *testing.T) {
	requireShell(t)

	registry := NewRegistry()
	defer registry.StopAll()

	proc, err := registry.Start(Spec{Argv: []string{"sh", "-c", "exit 1"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-proc.Done()

	err = WaitReady(context.Background(), proc, &fakePinger{}, 5*time.Second)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %v", err)
	}
}

func TestEnsureRunningReusesLiveBackend(t *testing.T) {
	registry := NewRegistry()
	pinger := &fakePinger{readyAt: 1}

	proc, err := EnsureRunning(context.Background(), registry, pinger, Spec{Argv: []string{"/nonexistent"}}, time.Second)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if proc != nil {
		t.Fatalf("expected no process to be started, got %s", proc.ID)
	}
}

func TestSpecFromConfig(t *testing.T) {
	spec := SpecFromConfig(conf.BackendConfig{Dir: "/srv/backend", Command: "python main.py", Port: 9000})
	want := []string{"python", "main.py", "-l", "9000"}
	if len(spec.Argv) != len(want) {
		t.Fatalf("expected %v, got %v", want, spec.Argv)
	}
	for i := range want {
		if spec.Argv[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, spec.Argv)
		}
	}
	if spec.Dir != "/srv/backend" {
		t.Fatalf("expected dir /srv/backend, got %s", spec.Dir)
	}
}
