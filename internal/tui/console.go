package tui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/vburojevic/roborec/internal/domain"
	"github.com/vburojevic/roborec/internal/session"
)

// Console is the line-oriented surface and prompter used when stdout is not
// a terminal. Typing "stop" (or "q") ends the recording; prompts read one
// line each.
type Console struct {
	in  io.Reader
	out io.Writer

	startOnce sync.Once
	writeMu   sync.Mutex

	mu       sync.Mutex
	open     bool
	listener session.Listener
	waiter   chan string
	eof      bool
}

// NewConsole creates a console reading in and writing out.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: in, out: out}
}

func (c *Console) start() {
	c.startOnce.Do(func() { go c.readLoop() })
}

func (c *Console) readLoop() {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		c.dispatch(strings.TrimSpace(scanner.Text()))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.eof = true
	if c.waiter != nil {
		close(c.waiter)
		c.waiter = nil
	}
}

func (c *Console) dispatch(line string) {
	c.mu.Lock()
	if w := c.waiter; w != nil {
		// w holds one line, so the handoff never blocks under the lock.
		c.waiter = nil
		w <- line
		c.mu.Unlock()
		return
	}
	if !c.open || !isStop(line) {
		c.mu.Unlock()
		return
	}
	c.open = false
	l := c.listener
	c.mu.Unlock()

	c.printf("Recording stopped.\n")
	l.OnClose()
}

func isStop(line string) bool {
	switch strings.ToLower(line) {
	case "q", "quit", "stop":
		return true
	}
	return false
}

// Open implements session.Surface.
func (c *Console) Open(info session.SurfaceInfo, l session.Listener) error {
	c.mu.Lock()
	if c.open {
		c.mu.Unlock()
		return ErrSurfaceOpen
	}
	c.open = true
	c.listener = l
	c.mu.Unlock()

	t := info.Target
	c.printf("Recording %s on %s (API %d, %s). Type \"stop\" to finish.\n", t.Package, t.Serial, t.APILevel, info.Mode)
	c.start()
	return nil
}

// Show implements session.Surface.
func (c *Console) Show(ev domain.InteractionEvent) {
	if !c.IsOpen() {
		return
	}
	c.printf("%-24s %s\n", ev.EventType, Describe(ev))
}

// IsOpen implements session.Surface.
func (c *Console) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Close implements session.Surface.
func (c *Console) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
}

// Confirm implements session.Prompter. Answers starting with "y" or equal
// to the Yes caption count as yes. io.EOF is returned once input is
// exhausted.
func (c *Console) Confirm(ctx context.Context, p session.Prompt) (bool, error) {
	line, err := c.Ask(ctx, fmt.Sprintf("%s: %s\n[y] %s / [n] %s: ", p.Title, p.Message, p.Yes, p.No))
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(line)
	return strings.HasPrefix(answer, "y") || answer == strings.ToLower(p.Yes), nil
}

// Ask prints question and returns the next input line.
func (c *Console) Ask(ctx context.Context, question string) (string, error) {
	c.mu.Lock()
	if c.eof {
		c.mu.Unlock()
		return "", io.EOF
	}
	w := make(chan string, 1)
	c.waiter = w
	c.mu.Unlock()

	c.printf("%s", question)
	c.start()

	select {
	case line, ok := <-w:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		// A line handed over after cancellation still counts as input.
		var late string
		var pending bool
		c.mu.Lock()
		if c.waiter == w {
			c.waiter = nil
		} else {
			select {
			case late, pending = <-w:
			default:
			}
		}
		c.mu.Unlock()
		if pending {
			c.dispatch(late)
		}
		return "", ctx.Err()
	}
}

// ShowError implements session.Prompter.
func (c *Console) ShowError(title string, err error) {
	c.printf("Error: %s: %v\n", title, err)
}

// Notify implements session.Prompter.
func (c *Console) Notify(message string) {
	c.printf("%s\n", message)
}

func (c *Console) printf(format string, args ...any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
