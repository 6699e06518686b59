package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"
)

const (
	// terminationGrace is how long a terminated process gets to exit
	// before it is killed outright.
	terminationGrace = 5 * time.Second

	maxLineBytes = 1024 * 1024
)

// Executor runs one CLI subprocess at a time with stdout and stderr
// merged into a single line stream.
type Executor struct {
	maxLogLines int
	logger      *slog.Logger

	mu     sync.Mutex
	active *exec.Cmd
}

func New(maxLogLines int, logger *slog.Logger) *Executor {
	return &Executor{maxLogLines: maxLogLines, logger: logger}
}

// Run spawns argv with env merged over the parent environment and
// streams merged stdout/stderr line by line. Each line is sanitised to
// valid UTF-8, buffered up to the log cap (oldest dropped) and pushed
// onto lines before the next read. The channel is closed when the
// stream ends, whatever the outcome; the caller must keep draining it
// until then. Run returns the buffered lines and the process exit
// code; a nonzero exit is reported through the code, not the error.
// When ctx is cancelled the process is terminated, given
// terminationGrace to exit, then killed.
func (e *Executor) Run(ctx context.Context, argv []string, env map[string]string, lines chan<- string) ([]string, int, error) {
	if lines != nil {
		defer close(lines)
	}
	if len(argv) == 0 {
		return nil, -1, errors.New("empty command")
	}

	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		return nil, -1, fmt.Errorf("create output pipe: %w", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = writeEnd
	cmd.Stderr = writeEnd
	cmd.Env = mergeEnv(env)
	// The CLI forks helpers; a dedicated process group lets Terminate
	// reach the whole tree, not just the direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		readEnd.Close()
		writeEnd.Close()
		return nil, -1, errors.New("a process is already running")
	}
	if err := cmd.Start(); err != nil {
		e.mu.Unlock()
		readEnd.Close()
		writeEnd.Close()
		return nil, -1, fmt.Errorf("start %s: %w", argv[0], err)
	}
	e.active = cmd
	e.mu.Unlock()

	// The child holds its own copy of the write end; closing ours makes
	// the read side hit EOF when the process exits.
	writeEnd.Close()
	defer readEnd.Close()

	waitDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			e.logger.Warn("run cancelled, terminating process", "command", argv[0])
			e.Terminate()
			select {
			case <-waitDone:
			case <-time.After(terminationGrace):
				e.kill()
			}
		case <-waitDone:
		}
	}()

	captured := newLineRing(e.maxLogLines)
	scanner := bufio.NewScanner(readEnd)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := sanitizeLine(scanner.Text())
		captured.push(line)
		if lines != nil {
			lines <- line
		}
	}
	if scanErr := scanner.Err(); scanErr != nil {
		e.logger.Warn("output stream ended early", "command", argv[0], "error", scanErr)
	}

	waitErr := cmd.Wait()
	close(waitDone)

	e.mu.Lock()
	e.active = nil
	e.mu.Unlock()

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return captured.snapshot(), -1, fmt.Errorf("wait for %s: %w", argv[0], waitErr)
		}
	}

	if ctx.Err() != nil {
		return captured.snapshot(), exitCode, ctx.Err()
	}
	return captured.snapshot(), exitCode, nil
}

// Terminate sends SIGTERM to the live process group. It is safe to
// call at any time, including when nothing is running or the process
// has already exited.
func (e *Executor) Terminate() {
	e.mu.Lock()
	cmd := e.active
	e.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			e.logger.Warn("process already terminated")
			return
		}
		e.logger.Error("failed to terminate process", "error", err)
		return
	}
	e.logger.Info("process terminated")
}

func (e *Executor) kill() {
	e.mu.Lock()
	cmd := e.active
	e.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		e.logger.Error("failed to kill process", "error", err)
	}
}

// sanitizeLine mirrors a lossy UTF-8 decode: invalid bytes become the
// replacement rune and trailing whitespace is dropped.
func sanitizeLine(line string) string {
	if !utf8.ValidString(line) {
		line = strings.ToValidUTF8(line, string(utf8.RuneError))
	}
	return strings.TrimRight(line, " \t\r\n")
}

// mergeEnv lays overrides over the parent environment, overrides
// winning on conflict.
func mergeEnv(overrides map[string]string) []string {
	environ := os.Environ()
	merged := make([]string, 0, len(environ)+len(overrides))
	for _, kv := range environ {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		merged = append(merged, kv)
	}

	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		merged = append(merged, key+"="+overrides[key])
	}
	return merged
}
