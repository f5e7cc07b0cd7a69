package trigger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Breakpoint is an installed breakpoint on the target.
type Breakpoint interface {
	Disable() error
}

// Target is the command-processing side of an attached process. Its methods
// are only called from the process's own command context.
type Target interface {
	SetBreakpoint(d Descriptor) (Breakpoint, error)
}

// Executor runs commands on the target's command context, one at a time.
type Executor interface {
	Schedule(cmd *Command)
}

// Command installs one descriptor when run by an Executor.
type Command struct {
	Descriptor Descriptor

	mu       sync.Mutex
	bp       Breakpoint
	disabled bool
	err      error
	done     chan struct{}
}

// NewCommand creates a command for d.
func NewCommand(d Descriptor) *Command {
	return &Command{Descriptor: d, done: make(chan struct{})}
}

// Run installs the breakpoint. It must be called by the Executor only.
// The lock is not held while the target installs, so Disable never waits on
// an unanswered install; a breakpoint that lands after Disable is disabled
// right away.
func (c *Command) Run(t Target) {
	defer close(c.done)

	c.mu.Lock()
	disabled := c.disabled
	c.mu.Unlock()
	if disabled {
		return
	}

	bp, err := t.SetBreakpoint(c.Descriptor)

	c.mu.Lock()
	if err != nil {
		c.err = fmt.Errorf("set breakpoint %s.%s: %w", c.Descriptor.Class, c.Descriptor.Method, err)
		c.mu.Unlock()
		return
	}
	if !c.disabled {
		c.bp = bp
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if err := bp.Disable(); err != nil {
		c.mu.Lock()
		c.err = fmt.Errorf("disable breakpoint %s.%s: %w", c.Descriptor.Class, c.Descriptor.Method, err)
		c.mu.Unlock()
	}
}

// Done is closed once the command has run.
func (c *Command) Done() <-chan struct{} { return c.done }

// Err returns the install failure, if any.
func (c *Command) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Disable stops event delivery from this breakpoint. A command that has not
// run yet will never install.
func (c *Command) Disable() error {
	c.mu.Lock()
	if c.disabled {
		c.mu.Unlock()
		return nil
	}
	c.disabled = true
	bp := c.bp
	c.mu.Unlock()

	if bp == nil {
		return nil
	}
	return bp.Disable()
}

// Registry tracks the command set installed on the current process.
type Registry struct {
	catalog *Catalog
	logger  *zap.Logger

	mu       sync.Mutex
	commands []*Command
	installs int
}

// NewRegistry creates a registry for catalog.
func NewRegistry(catalog *Catalog, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{catalog: catalog, logger: logger}
}

// Install schedules the catalog plan for target onto exec, replacing any set
// installed on a previous process.
func (r *Registry) Install(exec Executor, target Capability) []*Command {
	plan := r.catalog.Plan(target)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.commands = make([]*Command, 0, len(plan))
	for _, d := range plan {
		cmd := NewCommand(d)
		r.commands = append(r.commands, cmd)
		exec.Schedule(cmd)
	}
	r.installs++
	r.logger.Debug("triggers scheduled",
		zap.Int("count", len(plan)),
		zap.Int("api_level", target.APILevel),
		zap.Bool("emulator", target.Emulator),
		zap.Int("install", r.installs))
	return append([]*Command(nil), r.commands...)
}

// Disable disables every installed command without detaching.
func (r *Registry) Disable() {
	r.mu.Lock()
	commands := append([]*Command(nil), r.commands...)
	r.mu.Unlock()

	for _, cmd := range commands {
		if err := cmd.Disable(); err != nil {
			r.logger.Warn("failed to disable trigger",
				zap.String("class", cmd.Descriptor.Class),
				zap.String("method", cmd.Descriptor.Method),
				zap.Error(err))
		}
	}
}

// Commands returns the currently installed set.
func (r *Registry) Commands() []*Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Command(nil), r.commands...)
}

// Installs returns how many times a trigger set has been installed.
func (r *Registry) Installs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installs
}
