package tui

import (
	"context"
	"errors"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vburojevic/roborec/internal/domain"
	"github.com/vburojevic/roborec/internal/session"
)

// ErrSurfaceOpen is returned when Open is called twice.
var ErrSurfaceOpen = errors.New("recording surface already open")

// Surface runs the recording model as a bubbletea program. Prompts are
// shown inside the program while it runs and on Fallback otherwise.
type Surface struct {
	// Fallback answers prompts while no program is running.
	Fallback session.Prompter

	options []tea.ProgramOption

	mu      sync.Mutex
	program *tea.Program
	done    chan struct{}
	closing bool
	final   Model
}

// NewSurface creates a surface. options are passed to tea.NewProgram.
func NewSurface(fallback session.Prompter, options ...tea.ProgramOption) *Surface {
	return &Surface{Fallback: fallback, options: options}
}

// Open starts the program. l.OnClose runs when the user quits the program.
func (s *Surface) Open(info session.SurfaceInfo, l session.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.program != nil {
		return ErrSurfaceOpen
	}

	program := tea.NewProgram(NewModel(info), s.options...)
	done := make(chan struct{})
	s.program = program
	s.done = done
	s.closing = false

	go func() {
		final, _ := program.Run()
		s.mu.Lock()
		if m, ok := final.(Model); ok {
			s.final = m
		}
		closing := s.closing
		s.program = nil
		s.mu.Unlock()
		close(done)
		if !closing {
			l.OnClose()
		}
	}()
	return nil
}

// Show adds ev to the event list.
func (s *Surface) Show(ev domain.InteractionEvent) {
	if p := s.current(); p != nil {
		p.Send(eventMsg{ev: ev})
	}
}

// IsOpen reports whether the program is running.
func (s *Surface) IsOpen() bool {
	return s.current() != nil
}

// Close quits the program without notifying the listener.
func (s *Surface) Close() {
	s.mu.Lock()
	program, done := s.program, s.done
	if program != nil {
		s.closing = true
	}
	s.mu.Unlock()
	if program == nil {
		return
	}
	program.Quit()
	<-done
}

// Final returns the model as it was when the program exited.
func (s *Surface) Final() Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}

// Confirm implements session.Prompter.
func (s *Surface) Confirm(ctx context.Context, p session.Prompt) (bool, error) {
	s.mu.Lock()
	program, done := s.program, s.done
	s.mu.Unlock()
	if program == nil {
		return s.fallback().Confirm(ctx, p)
	}

	reply := make(chan bool, 1)
	program.Send(promptMsg{prompt: p, reply: reply})
	select {
	case yes := <-reply:
		return yes, nil
	case <-done:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// ShowError implements session.Prompter.
func (s *Surface) ShowError(title string, err error) {
	if p := s.current(); p != nil {
		p.Send(errorMsg{title: title, err: err})
		return
	}
	s.fallback().ShowError(title, err)
}

// Notify implements session.Prompter.
func (s *Surface) Notify(message string) {
	if p := s.current(); p != nil {
		p.Send(noticeMsg(message))
		return
	}
	s.fallback().Notify(message)
}

func (s *Surface) current() *tea.Program {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.program
}

func (s *Surface) fallback() session.Prompter {
	if s.Fallback != nil {
		return s.Fallback
	}
	return declineAll{}
}

// declineAll answers no to everything.
type declineAll struct{}

func (declineAll) Confirm(context.Context, session.Prompt) (bool, error) { return false, nil }
func (declineAll) ShowError(string, error)                               {}
func (declineAll) Notify(string)                                         {}
