package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// stderrLines is how many trailing stderr lines a Command keeps.
const stderrLines = 100

// waitDelay bounds how long Wait keeps reading stderr after the process
// has exited, in case a descendant still holds the pipe.
const waitDelay = 5 * time.Second

// Command represents an FFmpeg command to execute.
type Command struct {
	Binary  string
	Args    []string
	Input   string
	Outputs []string

	mu  sync.RWMutex
	cmd *exec.Cmd

	stderr *lineBuffer
}

type output struct {
	path string
	args []string
}

// CommandBuilder builds FFmpeg commands with a fluent API.
// A command has one input and any number of outputs, each with its own
// encoder arguments.
type CommandBuilder struct {
	binary        string
	globalArgs    []string
	input         string
	filterComplex string
	outputs       []output
	overwrite     bool
}

// NewCommandBuilder creates a new FFmpeg command builder.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{binary: ffmpegPath}
}

// HideBanner hides the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// NoStdin stops FFmpeg from reading interactive commands from stdin.
func (b *CommandBuilder) NoStdin() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-nostdin")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Input sets the input file.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// FilterComplex sets the -filter_complex graph.
func (b *CommandBuilder) FilterComplex(graph string) *CommandBuilder {
	b.filterComplex = graph
	return b
}

// Output adds an output file written with args (codec, bitrate, -map...).
func (b *CommandBuilder) Output(path string, args ...string) *CommandBuilder {
	b.outputs = append(b.outputs, output{path: path, args: args})
	return b
}

// Build builds the command.
func (b *CommandBuilder) Build() *Command {
	// Errors only, so the stderr tail carries the failure and not progress.
	args := []string{"-loglevel", "error"}
	args = append(args, b.globalArgs...)

	if b.overwrite {
		args = append(args, "-y")
	}

	args = append(args, "-i", b.input)

	if b.filterComplex != "" {
		args = append(args, "-filter_complex", b.filterComplex)
	}

	outputs := make([]string, 0, len(b.outputs))
	for _, o := range b.outputs {
		args = append(args, o.args...)
		args = append(args, o.path)
		outputs = append(outputs, o.path)
	}

	return &Command{
		Binary:  b.binary,
		Args:    args,
		Input:   b.input,
		Outputs: outputs,
		stderr:  newLineBuffer(stderrLines),
	}
}

// String returns the command as a string.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Run executes the command bounded by ctx and waits for completion.
func (c *Command) Run(ctx context.Context) error {
	c.mu.Lock()
	c.cmd = exec.CommandContext(ctx, c.Binary, c.Args...)
	c.cmd.Stderr = c.stderr
	c.cmd.WaitDelay = waitDelay
	c.mu.Unlock()

	return c.cmd.Run()
}

// Start starts the command without waiting. The process is not tied to a
// context; stopping it is the caller's job.
func (c *Command) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return errors.New("command already started")
	}
	c.cmd = exec.Command(c.Binary, c.Args...)
	c.cmd.Stderr = c.stderr
	c.cmd.WaitDelay = waitDelay

	return c.cmd.Start()
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

// Kill terminates the FFmpeg process with SIGKILL.
func (c *Command) Kill() error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	return cmd.Process.Kill()
}

// PID returns the process id, or 0 before Start.
func (c *Command) PID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// StderrTail returns up to n trailing stderr lines joined by newlines.
func (c *Command) StderrTail(n int) string {
	lines := c.stderr.Lines()
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// lineBuffer is an io.Writer that keeps the last max complete lines.
type lineBuffer struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial []byte
}

func newLineBuffer(maxLines int) *lineBuffer {
	return &lineBuffer{max: maxLines, lines: make([]string, 0, maxLines)}
}

func (b *lineBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := append(b.partial, p...)
	for {
		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(data[:i])); line != "" {
			b.push(line)
		}
		data = data[i+1:]
	}
	b.partial = append(b.partial[:0], data...)
	return len(p), nil
}

func (b *lineBuffer) push(line string) {
	if len(b.lines) >= b.max {
		b.lines = b.lines[1:]
	}
	b.lines = append(b.lines, line)
}

// Lines returns the buffered lines plus any unterminated trailing line.
func (b *lineBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.lines), len(b.lines)+1)
	copy(out, b.lines)
	if tail := strings.TrimSpace(string(b.partial)); tail != "" {
		out = append(out, tail)
	}
	return out
}
