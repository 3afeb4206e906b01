// Package console renders session events for the terminal client.
package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/suPer8Hu/streamchat/internal/session"
	"github.com/suPer8Hu/streamchat/internal/stream"
)

const (
	promptLabel    = "you> "
	assistantLabel = "assistant> "
)

// Renderer prints streamed replies as they arrive. Handle is a
// session.Observer.
type Renderer struct {
	mu  sync.Mutex
	out io.Writer

	label lipgloss.Style
	you   lipgloss.Style
	errSt lipgloss.Style
	note  lipgloss.Style

	// generation whose reply line is currently open, 0 if none
	lineGen uint64
}

func New(w io.Writer) *Renderer {
	r := lipgloss.NewRenderer(w)
	return &Renderer{
		out:   w,
		label: r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		you:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		errSt: r.NewStyle().Foreground(lipgloss.Color("9")),
		note:  r.NewStyle().Faint(true),
	}
}

// Prompt prints the input marker.
func (r *Renderer) Prompt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.out, r.you.Render(promptLabel))
}

// Handle renders one session event.
func (r *Renderer) Handle(ev session.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case session.EventUserMessage:
		if r.lineGen != 0 {
			fmt.Fprintln(r.out, r.note.Render(" [interrupted]"))
			r.lineGen = 0
		}
	case session.EventToken:
		if r.lineGen != ev.Generation {
			if r.lineGen != 0 {
				fmt.Fprintln(r.out)
			}
			fmt.Fprint(r.out, r.label.Render(assistantLabel))
			r.lineGen = ev.Generation
		}
		fmt.Fprint(r.out, ev.Token)
	case session.EventError:
		r.endLine()
		fmt.Fprintln(r.out, r.errSt.Render("error: "+errText(ev.Err)))
	case session.EventClose:
		r.endLine()
		if ev.Code != stream.CloseNormal {
			fmt.Fprintln(r.out, r.note.Render(fmt.Sprintf("(stream closed: %d)", ev.Code)))
		}
	}
}

// Reply prints a complete, non-streamed reply.
func (r *Renderer) Reply(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLine()
	fmt.Fprintln(r.out, r.label.Render(assistantLabel)+text)
}

// Error prints a request failure.
func (r *Renderer) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLine()
	fmt.Fprintln(r.out, r.errSt.Render("error: "+errText(err)))
}

func (r *Renderer) endLine() {
	if r.lineGen != 0 {
		fmt.Fprintln(r.out)
		r.lineGen = 0
	}
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
