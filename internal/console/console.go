// Package console is the interactive terminal front end.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/rahul/tabletalk/internal/agent"
	"github.com/rahul/tabletalk/internal/history"
)

// Streamer runs a turn and reports its progress.
type Streamer interface {
	Stream(ctx context.Context, req agent.Request) <-chan agent.Event
}

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	chartStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// Console reads questions line by line and prints streamed progress and
// rendered answers. It keeps the session's History.
type Console struct {
	runner   Streamer
	in       io.Reader
	out      io.Writer
	renderer *glamour.TermRenderer
	verbose  bool
	history  history.History
}

type Option func(*Console) error

// WithPlainOutput renders answers without ANSI styling.
func WithPlainOutput() Option {
	return func(c *Console) error {
		r, err := glamour.NewTermRenderer(glamour.WithStandardStyle("notty"), glamour.WithWordWrap(100))
		if err != nil {
			return err
		}
		c.renderer = r
		return nil
	}
}

// WithVerbose also prints failed attempts and their queries.
func WithVerbose(v bool) Option {
	return func(c *Console) error {
		c.verbose = v
		return nil
	}
}

func WithHistory(h history.History) Option {
	return func(c *Console) error {
		c.history = h
		return nil
	}
}

func New(runner Streamer, in io.Reader, out io.Writer, opts ...Option) (*Console, error) {
	c := &Console{runner: runner, in: in, out: out}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.renderer == nil {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(wrapWidth()))
		if err != nil {
			return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
		}
		c.renderer = r
	}
	return c, nil
}

func wrapWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 100
	}
	if w > 120 {
		w = 120
	}
	return w - 4
}

// History returns the session history so far.
func (c *Console) History() history.History { return c.history }

// Run reads questions until EOF, "exit" or "quit", or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(c.out, promptStyle.Render("? ")+" ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit", "/exit", "/quit":
			return nil
		case "/reset":
			c.history = history.History{}
			fmt.Fprintln(c.out, statusStyle.Render("Conversation cleared."))
			continue
		case "/history":
			c.printHistory()
			continue
		}

		if _, err := c.Ask(ctx, line); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Ask runs one turn, printing progress as it arrives.
func (c *Console) Ask(ctx context.Context, question string) (agent.Turn, error) {
	var final *agent.Event
	for e := range c.runner.Stream(ctx, agent.Request{ChatID: "console", Question: question, History: c.history}) {
		switch e.Kind {
		case agent.EventAnswer, agent.EventFailed:
			ev := e
			final = &ev
		case agent.EventAttemptFailed:
			if c.verbose {
				fmt.Fprintln(c.out, warnStyle.Render(e.Message()))
				fmt.Fprintln(c.out, statusStyle.Render("  "+e.Query))
			}
		case agent.EventChart:
			// printed with the answer
		default:
			fmt.Fprintln(c.out, statusStyle.Render(e.Message()))
		}
	}
	if final == nil || final.Turn == nil {
		return agent.Turn{}, fmt.Errorf("turn ended without a result: %w", ctx.Err())
	}

	c.history = final.History
	turn := *final.Turn
	if turn.Failed() {
		// the failure text has a fixed line layout; markdown would reflow it
		fmt.Fprintln(c.out, errorStyle.Render("Unable to answer."))
		fmt.Fprintln(c.out, turn.Answer)
	} else {
		c.printAnswer(turn.Answer)
	}
	if turn.Chart != "" {
		fmt.Fprintln(c.out, chartStyle.Render("Chart: "+turn.Chart))
	}
	return turn, nil
}

func (c *Console) printAnswer(answer string) {
	out, err := c.renderer.Render(answer)
	if err != nil {
		out = answer + "\n"
	}
	fmt.Fprint(c.out, out)
}

func (c *Console) printHistory() {
	msgs := c.history.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(c.out, statusStyle.Render("(no history)"))
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(c.out, "%s %s\n", promptStyle.Render(string(m.Role)+":"), m.Content)
	}
}
