// Package launcher starts a tabserve server process, waits for it to become
// ready and stops it again.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"tabserve/client"
	"tabserve/internal/logging"
)

const (
	DefaultBinary        = "tabserve"
	DefaultAddress       = "127.0.0.1:8001"
	DefaultPollInterval  = time.Second
	DefaultMaxAttempts   = 60
	DefaultShutdownGrace = 10 * time.Second
)

var (
	// ErrStartupCrash: the process exited before it became ready.
	ErrStartupCrash = errors.New("StartupFailedCrash")
	// ErrStartupTimeout: the process stayed unready for every poll attempt.
	ErrStartupTimeout = errors.New("StartupFailedTimeout")
)

// StartupError reports why Start gave up. Kind is ErrStartupCrash or
// ErrStartupTimeout; ExitCode is only meaningful for a crash.
type StartupError struct {
	Kind     error
	ExitCode int
	Attempts int
	Err      error // last readiness probe error, if any
}

func (e *StartupError) Error() string {
	if errors.Is(e.Kind, ErrStartupCrash) {
		return fmt.Sprintf("%v: server exited with code %d after %d readiness attempts", e.Kind, e.ExitCode, e.Attempts)
	}
	if e.Err != nil {
		return fmt.Sprintf("%v: server not ready after %d attempts: %v", e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%v: server not ready after %d attempts", e.Kind, e.Attempts)
}

func (e *StartupError) Is(target error) bool { return target == e.Kind }

func (e *StartupError) Unwrap() error { return e.Err }

type Options struct {
	Binary        string   // defaults to DefaultBinary looked up on PATH
	Args          []string // placed before the repository and listen flags
	Repository    string
	Address       string
	PollInterval  time.Duration
	MaxAttempts   int
	ShutdownGrace time.Duration
	Stdout        io.Writer
	Stderr        io.Writer
	Env           []string // nil inherits the caller's environment
}

func (o *Options) applyDefaults() {
	if o.Binary == "" {
		o.Binary = DefaultBinary
	}
	if o.Address == "" {
		o.Address = DefaultAddress
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = DefaultShutdownGrace
	}
}

// Server is a running server process together with a client connected to
// it. Both are released by Stop.
type Server struct {
	cmd    *exec.Cmd
	client *client.Client
	addr   string
	grace  time.Duration

	done     chan struct{} // closed once the process has exited
	exitCode int
	waitErr  error

	stopOnce sync.Once
	stopErr  error
}

// Start launches the server and polls IsServerReady every PollInterval, at
// most MaxAttempts times. Probe failures count as not ready yet. If the
// process exits first Start returns a crash StartupError at once; if the
// attempts run out it stops the process and returns a timeout.
func Start(ctx context.Context, opts Options) (*Server, error) {
	if opts.Repository == "" {
		return nil, errors.New("launcher: repository is required")
	}
	opts.applyDefaults()
	log := logging.Component("launcher")

	args := append(append([]string(nil), opts.Args...),
		"--model-repository", opts.Repository, "--listen", opts.Address)
	cmd := exec.Command(opts.Binary, args...)
	cmd.Stdout, cmd.Stderr, cmd.Env = opts.Stdout, opts.Stderr, opts.Env
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launcher: start %s: %w", opts.Binary, err)
	}
	s := &Server{cmd: cmd, addr: opts.Address, grace: opts.ShutdownGrace, done: make(chan struct{})}
	go s.wait()
	log.Info("server started", "pid", cmd.Process.Pid, "addr", opts.Address, "repository", opts.Repository)

	c, err := client.Dial(opts.Address)
	if err != nil {
		_ = s.Stop()
		return nil, err
	}
	s.client = c

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if s.exited() {
			return nil, s.crashed(attempt - 1)
		}
		tick := time.NewTimer(opts.PollInterval)
		pctx, cancel := context.WithTimeout(ctx, opts.PollInterval)
		ready, err := c.IsServerReady(pctx)
		cancel()
		if err == nil && ready {
			tick.Stop()
			log.Info("server ready", "pid", cmd.Process.Pid, "attempts", attempt)
			return s, nil
		}
		lastErr = err
		select {
		case <-s.done:
			tick.Stop()
			return nil, s.crashed(attempt)
		case <-ctx.Done():
			tick.Stop()
			_ = s.Stop()
			return nil, ctx.Err()
		case <-tick.C:
		}
	}
	if s.exited() {
		return nil, s.crashed(opts.MaxAttempts)
	}
	_ = s.Stop()
	log.Error("server not ready in time", "pid", cmd.Process.Pid, "attempts", opts.MaxAttempts)
	return nil, &StartupError{Kind: ErrStartupTimeout, Attempts: opts.MaxAttempts, Err: lastErr}
}

func (s *Server) wait() {
	s.waitErr = s.cmd.Wait()
	s.exitCode = s.cmd.ProcessState.ExitCode()
	close(s.done)
}

func (s *Server) exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Server) crashed(attempts int) error {
	_ = s.Stop()
	logging.Component("launcher").Error("server exited during startup",
		"pid", s.cmd.Process.Pid, "exit_code", s.exitCode, "attempts", attempts)
	return &StartupError{Kind: ErrStartupCrash, ExitCode: s.exitCode, Attempts: attempts, Err: s.waitErr}
}

// Client is connected to the server for as long as it runs.
func (s *Server) Client() *client.Client { return s.client }

func (s *Server) Addr() string { return s.addr }

func (s *Server) Pid() int { return s.cmd.Process.Pid }

// Done is closed when the process exits.
func (s *Server) Done() <-chan struct{} { return s.done }

// ExitCode is valid after Done is closed; -1 means killed by a signal.
func (s *Server) ExitCode() int {
	<-s.done
	return s.exitCode
}

// Stop closes the client and interrupts the process, exactly once however
// often it is called. A process still running after the shutdown grace is
// killed. Stop waits for the process to exit.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		if s.client != nil {
			_ = s.client.Close()
		}
		if s.exited() {
			return
		}
		if err := s.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.stopErr = fmt.Errorf("launcher: interrupt: %w", err)
		}
		select {
		case <-s.done:
		case <-time.After(s.grace):
			_ = s.cmd.Process.Kill()
			<-s.done
			s.stopErr = fmt.Errorf("launcher: server did not exit within %v, killed", s.grace)
		}
		if s.stopErr == nil && s.exitCode != 0 {
			s.stopErr = fmt.Errorf("launcher: server exited with code %d", s.exitCode)
		}
	})
	return s.stopErr
}

// Run starts a server, hands it to fn and stops it when fn returns,
// whatever the outcome.
func Run(ctx context.Context, opts Options, fn func(context.Context, *Server) error) (err error) {
	s, err := Start(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Stop())
	}()
	return fn(ctx, s)
}
