package ffmpeg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrAlreadyStarted is returned when a Command is started twice.
var ErrAlreadyStarted = errors.New("command already started")

// maxStderrLines is how many trailing stderr lines are kept in memory.
const maxStderrLines = 100

// Command represents an ffmpeg or ffplay invocation.
type Command struct {
	Binary   string
	Args     []string
	Input    string
	Output   string
	LogLevel string

	// Process control
	cmd     *exec.Cmd
	started time.Time
	mu      sync.RWMutex

	monitor *ProcessMonitor

	stderrLogPath string
	stderrLines   []string
	stderrMu      sync.RWMutex
}

// CommandBuilder builds commands with a fluent API.
type CommandBuilder struct {
	binary        string
	globalArgs    []string
	inputArgs     []string
	input         string
	outputArgs    []string
	output        string
	logLevel      string
	overwrite     bool
	stderrLogPath string
}

// NewCommandBuilder creates a new command builder for the given binary.
func NewCommandBuilder(binaryPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   binaryPath,
		logLevel: "error",
	}
}

// LogLevel sets the log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the startup banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// RawVideoInput declares a headerless raw video input of the given pixel
// format, size and rate. sizeFlag and pixFmtFlag differ between ffmpeg
// (-s:v, -pix_fmt) and ffplay (-video_size, -pixel_format).
func (b *CommandBuilder) RawVideoInput(pixFmtFlag, pixFmt, sizeFlag string, width, height int, frameRate float64) *CommandBuilder {
	b.inputArgs = append(b.inputArgs,
		"-f", "rawvideo",
		pixFmtFlag, pixFmt,
		sizeFlag, fmt.Sprintf("%dx%d", width, height),
		"-framerate", formatRate(frameRate),
	)
	return b
}

// Input sets the input source.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// InputArgs adds arbitrary input arguments.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// NoAudio disables audio streams.
func (b *CommandBuilder) NoAudio() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-an")
	return b
}

// PixelFormat sets the output pixel format.
func (b *CommandBuilder) PixelFormat(pixFmt string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-pix_fmt", pixFmt)
	return b
}

// MovFlags sets MP4/MOV muxer flags.
func (b *CommandBuilder) MovFlags(flags string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-movflags", flags)
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// StderrLogPath sets a file path that receives the process stderr.
func (b *CommandBuilder) StderrLogPath(path string) *CommandBuilder {
	b.stderrLogPath = path
	return b
}

// Output sets the output destination. ffplay has no output.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// parseOptionsString splits an options string respecting quotes.
func parseOptionsString(s string) []string {
	var result []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)
	escaped := false

	for _, r := range s {
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}

		if r == '\\' {
			escaped = true
			continue
		}

		if r == '"' || r == '\'' {
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
			default:
				current.WriteRune(r)
			}
			continue
		}

		if r == ' ' && !inQuote {
			if current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
			continue
		}

		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// Build builds the command. Argument order is: log level, global args,
// -y, input args, -i input, output args, output.
func (b *CommandBuilder) Build() *Command {
	var args []string

	args = append(args, "-loglevel", b.logLevel)
	args = append(args, b.globalArgs...)

	if b.overwrite {
		args = append(args, "-y")
	}

	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)

	args = append(args, b.outputArgs...)

	if b.output != "" {
		args = append(args, b.output)
	}

	return &Command{
		Binary:        b.binary,
		Args:          args,
		Input:         b.input,
		Output:        b.output,
		LogLevel:      b.logLevel,
		stderrLogPath: b.stderrLogPath,
		stderrLines:   make([]string, 0, maxStderrLines),
	}
}

// formatRate renders a frame rate without a trailing ".0" for whole values.
func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', -1, 64)
}

// String returns the command line as text. Arguments with spaces are quoted.
func (c *Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Binary)
	for _, a := range c.Args {
		if strings.ContainsAny(a, " \t") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// StartWithStdin launches the process with a pipe to its standard input.
//
// The process is not bound to a context; it runs until the returned pipe is
// closed. Standard output is discarded and stderr is captured.
func (c *Command) StartWithStdin() (*StdinPipe, error) {
	c.mu.Lock()
	if c.cmd != nil {
		c.mu.Unlock()
		return nil, ErrAlreadyStarted
	}

	cmd := exec.Command(c.Binary, c.Args...) //nolint:gosec // binary and args come from configuration
	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("getting stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("getting stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("starting %s: %w", c.Binary, err)
	}

	c.cmd = cmd
	c.started = time.Now()
	c.monitor = NewProcessMonitor(cmd.Process.Pid)
	c.monitor.Start()
	stderrLogPath := c.stderrLogPath
	c.mu.Unlock()

	stderrDone := make(chan struct{})
	go c.captureStderr(stderr, stderrLogPath, stderrDone)

	return &StdinPipe{
		cmd:        c,
		stdin:      stdin,
		counter:    NewCountingWriter(stdin, c.monitor),
		stderrDone: stderrDone,
	}, nil
}

// Wait waits for the command to complete.
func (c *Command) Wait() error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()

	if cmd == nil {
		return fmt.Errorf("command not started")
	}

	return cmd.Wait()
}

// PID returns the process id, or 0 when not started.
func (c *Command) PID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Duration returns how long the command has been running.
func (c *Command) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.started.IsZero() {
		return 0
	}

	return time.Since(c.started)
}

// captureStderr reads the process stderr, keeps the most recent lines in
// memory and optionally appends everything to a log file.
func (c *Command) captureStderr(stderr io.ReadCloser, logPath string, done chan struct{}) {
	defer close(done)

	var logFile *os.File
	if logPath != "" {
		var err error
		logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open stderr log file %s: %v\n", logPath, err)
		} else {
			defer logFile.Close()
			fmt.Fprintf(logFile, "\n=== %s started at %s ===\n", c.Binary, time.Now().Format(time.RFC3339))
			fmt.Fprintf(logFile, "Command: %s\n\n", c.String())
		}
	}

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()

		c.stderrMu.Lock()
		if len(c.stderrLines) >= maxStderrLines {
			c.stderrLines = c.stderrLines[1:]
		}
		c.stderrLines = append(c.stderrLines, line)
		c.stderrMu.Unlock()

		if logFile != nil {
			fmt.Fprintln(logFile, line)
		}
	}

	if logFile != nil {
		fmt.Fprintf(logFile, "\n=== %s ended at %s ===\n", c.Binary, time.Now().Format(time.RFC3339))
	}
}

// StderrLines returns the most recent stderr lines.
func (c *Command) StderrLines() []string {
	c.stderrMu.RLock()
	defer c.stderrMu.RUnlock()

	result := make([]string, len(c.stderrLines))
	copy(result, c.stderrLines)
	return result
}

// ProcessStats returns resource usage of the running process.
func (c *Command) ProcessStats() *ProcessStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.monitor == nil {
		return nil
	}
	stats := c.monitor.Stats()
	return &stats
}

func (c *Command) stopMonitor() {
	c.mu.RLock()
	monitor := c.monitor
	c.mu.RUnlock()

	if monitor != nil {
		monitor.Stop()
	}
}

// StdinPipe is the write end of a running process's standard input.
type StdinPipe struct {
	cmd        *Command
	stdin      io.WriteCloser
	counter    *CountingWriter
	stderrDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Write writes p to the process. Short writes are reported, not retried.
func (p *StdinPipe) Write(b []byte) (int, error) {
	return p.counter.Write(b)
}

// PID returns the process id.
func (p *StdinPipe) PID() int {
	return p.cmd.PID()
}

// ProcessStats returns resource usage of the process behind the pipe.
func (p *StdinPipe) ProcessStats() *ProcessStats {
	return p.cmd.ProcessStats()
}

// StderrLines returns the most recent stderr lines of the process.
func (p *StdinPipe) StderrLines() []string {
	return p.cmd.StderrLines()
}

// Command returns the command behind the pipe.
func (p *StdinPipe) Command() *Command {
	return p.cmd
}

// Close closes standard input and waits for the process to exit. The exit
// status is returned for logging; it does not indicate lost frames.
func (p *StdinPipe) Close() error {
	p.closeOnce.Do(func() {
		closeErr := p.stdin.Close()
		<-p.stderrDone
		waitErr := p.cmd.Wait()
		p.cmd.stopMonitor()

		if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			p.closeErr = fmt.Errorf("closing stdin: %w", closeErr)
			return
		}
		if waitErr != nil {
			p.closeErr = fmt.Errorf("waiting for %s: %w", p.cmd.Binary, waitErr)
		}
	})
	return p.closeErr
}
