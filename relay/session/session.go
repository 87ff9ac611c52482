package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const readChunkSize = 4096

// ErrSpawn is returned when the REPL process cannot be started.
var ErrSpawn = errors.New("spawning REPL process")

// State is the lifecycle state of a session.
type State int

const (
	Running State = iota
	Exited
)

func (s State) String() string {
	if s == Exited {
		return "exited"
	}
	return "running"
}

type Config struct {
	Log *zap.SugaredLogger

	// Command and Args are the full REPL invocation.
	Command string
	Args    []string

	// Prompt is the marker the REPL prints when it is ready for input.
	Prompt string
	// MaxBuffered caps output held between prompts. Defaults to DefaultMaxBuffered.
	MaxBuffered int

	Commands []string
}

// Result describes how the REPL process ended.
// Any exit counts as completion; the exit code is informational.
type Result struct {
	ExitCode int
	Duration time.Duration
	// Err is set if waiting on the process failed for a reason other than a non-zero exit.
	Err error
}

// Session is one REPL process driven through a command list.
type Session struct {
	ID string

	log     *zap.SugaredLogger
	cmd     *exec.Cmd
	matcher *promptMatcher
	seq     *sequencer

	stdout *os.File

	startTime time.Time

	mut    sync.Mutex
	state  State
	result Result

	done chan struct{}
	wg   sync.WaitGroup
}

// Start spawns the REPL process and begins driving it.
// The returned session runs until the process exits; use Wait to observe that.
func Start(cfg Config) (*Session, error) {
	if len(cfg.Commands) == 0 {
		return nil, errors.New("no commands")
	}
	matcher, err := newPromptMatcher(cfg.Prompt, cfg.MaxBuffered)
	if err != nil {
		return nil, err
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	id := uuid.NewString()
	log = log.With("SessionID", id)

	// stdout and stderr must be *os.File (nil stderr is the null device) so cmd.Wait
	// returns when the REPL exits rather than when its pipes reach EOF
	cmd := exec.Command(cfg.Command, cfg.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: opening stdin: %s", ErrSpawn, err)
	}
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: opening stdout: %s", ErrSpawn, err)
	}
	cmd.Stdout = stdoutW

	s := &Session{
		ID:      id,
		log:     log,
		cmd:     cmd,
		matcher: matcher,
		seq:     newSequencer(log.Named("sequencer"), stdin, cfg.Commands),
		stdout:  stdout,
		done:    make(chan struct{}),
	}

	s.startTime = time.Now()
	err = cmd.Start()
	stdoutW.Close()
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("%w: %s", ErrSpawn, err)
	}
	log.Debugw("REPL process started", "PID", cmd.Process.Pid, "Command", cfg.Command)

	s.wg.Add(1)
	go s.readStdout()
	go s.waitForExit()

	return s, nil
}

// readStdout feeds stdout into the prompt matcher and advances the sequencer on every prompt.
func (s *Session) readStdout() {
	defer s.wg.Done()
	buf := make([]byte, readChunkSize)
	for {
		n, err := s.stdout.Read(buf)
		if n > 0 && s.matcher.Feed(buf[:n]) {
			step, stepErr := s.seq.Next()
			s.log.Debugw("prompt seen", "Step", step, "Remaining", s.seq.Remaining())
			if stepErr != nil {
				s.log.Debugf("error advancing sequence: %s", stepErr)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.log.Debugf("stdout reader got error: %s", err)
			}
			return
		}
	}
}

// waitForExit waits for the process to end and marks the session exited.
// Output still buffered in the stdout pipe at that point is dropped.
func (s *Session) waitForExit() {
	err := s.cmd.Wait()
	s.seq.Stop()
	s.stdout.Close()
	s.wg.Wait()

	res := Result{
		ExitCode: s.cmd.ProcessState.ExitCode(),
		Duration: time.Since(s.startTime),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			res.Err = err
		}
	}

	s.mut.Lock()
	s.state = Exited
	s.result = res
	s.mut.Unlock()

	s.log.Debugw("REPL process exited", "ExitCode", res.ExitCode, "Duration", res.Duration, "Error", res.Err)
	close(s.done)
}

// Done is closed once the process has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) State() State {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.state
}

// Wait blocks until the process exits or ctx is done. It does not kill the process when ctx is done.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		s.mut.Lock()
		defer s.mut.Unlock()
		return s.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Kill kills the REPL process if it is still running.
func (s *Session) Kill() {
	select {
	case <-s.done:
		return
	default:
	}
	// the sequencer is stopped by waitForExit; stopping it here could block behind a stalled stdin write
	if err := s.cmd.Process.Kill(); err != nil {
		s.log.Debugf("error killing REPL process: %s", err)
	}
}
