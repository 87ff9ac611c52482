package session

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	waitKeyword = "wait"
	exitCommand = "exit"

	maxWaitMS = int64(math.MaxInt64 / time.Millisecond)
)

// Step is the outcome of advancing the sequencer on a prompt.
type Step int

const (
	// StepSent means a command was written to the REPL.
	StepSent Step = iota
	// StepPending means a pause is in progress and a newline will be written when it elapses.
	StepPending
	// StepTerminating means the command list is exhausted, exit was written and stdin closed.
	StepTerminating
)

func (s Step) String() string {
	switch s {
	case StepSent:
		return "sent"
	case StepPending:
		return "pending"
	case StepTerminating:
		return "terminating"
	default:
		return fmt.Sprintf("Step(%d)", int(s))
	}
}

type stopper interface {
	Stop() bool
}

// sequencer feeds commands to the REPL's stdin one prompt at a time.
// Each command is consumed exactly once, in order.
type sequencer struct {
	log   *zap.SugaredLogger
	stdin io.WriteCloser

	afterFunc func(d time.Duration, f func()) stopper

	mu          sync.Mutex
	commands    []string
	timer       stopper
	waiting     bool
	terminating bool
	stopped     bool
}

func newSequencer(log *zap.SugaredLogger, stdin io.WriteCloser, commands []string) *sequencer {
	return &sequencer{
		log:      log,
		stdin:    stdin,
		commands: append([]string(nil), commands...),
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// parseWait returns the pause duration if cmd is a pause directive like "wait 500".
func parseWait(cmd string) (time.Duration, bool) {
	fields := strings.Fields(cmd)
	if len(fields) != 2 || fields[0] != waitKeyword {
		return 0, false
	}
	ms, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || ms < 0 || ms > maxWaitMS {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// Next advances the sequence in response to a prompt.
func (s *sequencer) Next() (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminating || s.stopped {
		return StepTerminating, nil
	}
	if s.waiting {
		s.log.Debug("prompt seen during pause, ignoring")
		return StepPending, nil
	}

	if len(s.commands) == 0 {
		s.terminating = true
		s.log.Debug("command list exhausted, exiting REPL")
		err := s.write(exitCommand + "\n")
		closeErr := s.stdin.Close()
		if err != nil {
			return StepTerminating, err
		}
		if closeErr != nil {
			return StepTerminating, fmt.Errorf("closing stdin: %w", closeErr)
		}
		return StepTerminating, nil
	}

	cmd := s.commands[0]
	s.commands = s.commands[1:]

	if d, ok := parseWait(cmd); ok {
		s.log.Debugf("pausing for %s", d)
		s.waiting = true
		s.timer = s.afterFunc(d, s.resume)
		return StepPending, nil
	}

	s.log.Debugw("sending command", "Command", cmd)
	return StepSent, s.write(cmd + "\n")
}

// resume ends a pause by sending a bare newline, which makes the REPL print its prompt again.
func (s *sequencer) resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.waiting = false
	s.timer = nil
	if s.stopped {
		return
	}
	if err := s.write("\n"); err != nil {
		s.log.Debugf("error writing newline after pause: %s", err)
	}
}

// Stop cancels any pending pause. Further calls to Next do nothing.
func (s *sequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Remaining returns the number of commands not yet consumed.
func (s *sequencer) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commands)
}

func (s *sequencer) write(line string) error {
	_, err := io.WriteString(s.stdin, line)
	if err != nil {
		return fmt.Errorf("writing to REPL stdin: %w", err)
	}
	return nil
}
