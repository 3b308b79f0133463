package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/app"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/coach"
)

// controller is the part of the App the terminal drives.
type controller interface {
	Topics() []coach.Topic
	FindTopic(query string) (coach.Topic, bool)
	StartSession(ctx context.Context, topicID string) error
	StopSession() error
	ResetSession() error
}

const consoleHelp = `commands:
  <id or title>  start a session on that topic
  s, stop        end the running session
  r, reset       back to topic selection
  t, topics      list the topics
  q, quit        exit
`

// console reads line commands from the terminal.
type console struct {
	in   io.Reader
	out  io.Writer
	ctl  controller
	quit func()
}

func newConsole(in io.Reader, out io.Writer, ctl controller, quit func()) *console {
	return &console{in: in, out: out, ctl: ctl, quit: quit}
}

// run handles lines until EOF, quit or ctx ends.
func (c *console) run(ctx context.Context) {
	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		if !c.handle(ctx, sc.Text()) {
			return
		}
	}
	if err := sc.Err(); err != nil {
		slog.Debug("console: read stdin", "err", err)
	}
}

// handle executes one command line. It reports false when the user quits.
func (c *console) handle(ctx context.Context, line string) bool {
	cmd := strings.TrimSpace(line)
	var err error
	switch strings.ToLower(cmd) {
	case "":
	case "q", "quit", "exit":
		c.quit()
		return false
	case "s", "stop":
		err = c.ctl.StopSession()
	case "r", "reset":
		err = c.ctl.ResetSession()
	case "t", "topics":
		printTopics(c.out, c.ctl.Topics())
	case "h", "help", "?":
		fmt.Fprint(c.out, consoleHelp)
	default:
		err = startTopic(ctx, c.ctl, cmd)
		switch {
		case errors.Is(err, app.ErrUnknownTopic):
			fmt.Fprintf(c.out, "No topic matches %q. Type t to list the topics.\n", cmd)
			return true
		case errors.Is(err, app.ErrSessionActive):
			fmt.Fprintln(c.out, "A session is already running. Type s to stop it first.")
			return true
		}
	}
	if err != nil {
		// Setup failures have already been shown through the event stream.
		slog.Debug("console: command failed", "cmd", cmd, "err", err)
	}
	return true
}

func printTopics(w io.Writer, topics []coach.Topic) {
	fmt.Fprintln(w, "Choose a topic for today's practice:")
	for _, t := range topics {
		fmt.Fprintf(w, "  %-4s %-28s %s\n", t.ID, t.Title, t.Difficulty)
	}
	fmt.Fprintln(w, "Type its number or title and press Enter (h for help).")
}
