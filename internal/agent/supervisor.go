package agent

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/clrke/claude-web/internal/errors"
	"github.com/clrke/claude-web/internal/logging"
)

// maxStderrCapture bounds how much stderr is retained for failure causes.
const maxStderrCapture = 8 * 1024

// Result is the structured outcome of one stage run.
type Result struct {
	// StageComplete reports whether the stream carried a successful
	// stage-complete signal.
	StageComplete bool
	// Handle is the conversation handle discovered in the stream, empty
	// if the process never announced one. The first announcement wins.
	Handle string
	// Summary is the final result payload on success.
	Summary string
	// FailureCause describes the failure when StageComplete is false.
	FailureCause string
	// ExitCode is the process exit code, -1 when the process did not
	// run to completion.
	ExitCode int
}

// Supervisor owns the lifecycle of the external process for one invocation
// at a time: spawn, stream stdout through the parser, enforce the stage
// timeout, and collect a Result. It holds no cross-run state and is safe
// to share.
type Supervisor struct {
	parser  Parser
	timeout time.Duration
	logger  *logging.Logger
}

// NewSupervisor creates a Supervisor. A zero timeout disables the deadline.
func NewSupervisor(parser Parser, timeout time.Duration, logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Supervisor{
		parser:  parser,
		timeout: timeout,
		logger:  logger,
	}
}

// Run executes the invocation and blocks until the process exits or the
// deadline expires. The Result is non-nil whenever the process was spawned,
// including on failure, so a discovered conversation handle is never lost.
// The error classifies the failure: a ProcessError for abnormal exit or
// timeout, nil on success.
func (s *Supervisor) Run(ctx context.Context, inv Invocation) (*Result, error) {
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, inv.Command, inv.Args...)
	cmd.Dir = inv.Dir

	// The agent CLI spawns its own subprocesses, and a grandchild
	// inheriting the stdout pipe would keep it open past the deadline.
	// Run the whole tree in one process group and kill the group on
	// cancellation so the pipe actually closes.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.NewProcessError(inv.Stage, err)
	}
	var stderr limitedBuffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.NewProcessError(inv.Stage, err)
	}
	s.logger.Debug("agent process started",
		"stage", inv.Stage, "command", inv.Command, "dir", inv.Dir)

	result := &Result{ExitCode: -1}
	var fatal string
	s.consume(stdout, inv.Stage, result, &fatal)

	waitErr := cmd.Wait()
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.FailureCause = "stage deadline exceeded"
		return result, errors.NewProcessError(inv.Stage, runCtx.Err()).WithTimeout(s.timeout)
	}
	if fatal != "" {
		result.FailureCause = fatal
		return result, errors.NewProcessError(inv.Stage, errors.New(fatal)).WithExitCode(result.ExitCode)
	}
	if waitErr != nil {
		result.FailureCause = firstLine(stderr.String())
		if result.FailureCause == "" {
			result.FailureCause = waitErr.Error()
		}
		return result, errors.NewProcessError(inv.Stage, waitErr).WithExitCode(result.ExitCode)
	}
	if !result.StageComplete {
		result.FailureCause = "process exited without a stage-complete signal"
		return result, errors.NewProcessError(inv.Stage, errors.New(result.FailureCause)).WithExitCode(result.ExitCode)
	}

	s.logger.Debug("agent process finished", "stage", inv.Stage, "handle", result.Handle)
	return result, nil
}

// consume drains stdout line by line, folding recognized events into the
// result. The handle is captured at most once.
func (s *Supervisor) consume(stdout io.Reader, stage int, result *Result, fatal *string) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		for _, event := range s.parser.Parse(scanner.Text()) {
			switch event.Kind {
			case EventHandleDiscovered:
				if result.Handle == "" {
					result.Handle = event.Handle
					s.logger.Debug("conversation handle discovered",
						"stage", stage, "handle", event.Handle)
				}
			case EventStageComplete:
				result.StageComplete = true
				result.Summary = event.Summary
			case EventFatalError:
				if *fatal == "" {
					*fatal = event.Message
				}
			}
		}
	}
	if err := scanner.Err(); err != nil && *fatal == "" {
		*fatal = "reading process output: " + err.Error()
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// limitedBuffer keeps the head of what is written to it and drops the rest.
type limitedBuffer struct {
	buf bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if remaining := maxStderrCapture - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
