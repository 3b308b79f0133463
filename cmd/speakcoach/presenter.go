package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/app"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/coach"
)

// timerEvery is how often the elapsed time is printed on its own line.
const timerEvery = time.Minute

type eventSource interface {
	Subscribe() (<-chan app.Event, func())
	Snapshot() app.Snapshot
	Topics() []coach.Topic
}

// presenter renders application events on the terminal.
type presenter struct {
	out   io.Writer
	src   eventSource
	timer string
}

func newPresenter(out io.Writer, src eventSource) *presenter {
	return &presenter{out: out, src: src, timer: app.FormatTimer(0)}
}

// run renders events until ctx ends or the App shuts down.
func (p *presenter) run(ctx context.Context) error {
	events, cancel := p.src.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.render(ev)
		}
	}
}

func (p *presenter) render(ev app.Event) {
	switch ev.Type {
	case app.EventState:
		p.renderState(ev.State)
	case app.EventTimer:
		p.timer = ev.Timer
		if ev.Seconds > 0 && time.Duration(ev.Seconds)*time.Second%timerEvery == 0 {
			fmt.Fprintf(p.out, "[%s]\n", ev.Timer)
		}
	case app.EventTranscript:
		if ev.Entry != nil {
			fmt.Fprintf(p.out, "[%s] %s\n", p.timer, ev.Entry)
		}
	case app.EventError:
		fmt.Fprintf(p.out, "! %s\n", ev.Message)
	}
}

func (p *presenter) renderState(state string) {
	switch state {
	case app.Preparing.String():
		p.timer = app.FormatTimer(0)
		fmt.Fprintln(p.out, "Connecting to your coach...")
	case app.Speaking.String():
		fmt.Fprintln(p.out, "You're live. Start speaking! (type s and Enter to stop)")
	case app.Reviewing.String():
		p.renderReview(p.src.Snapshot())
	case app.Idle.String():
		printTopics(p.out, p.src.Topics())
	}
}

func (p *presenter) renderReview(s app.Snapshot) {
	title := "your topic"
	if s.Topic != nil {
		title = s.Topic.Title
	}
	fmt.Fprintf(p.out, "\nSession complete: %s (%s)\n", title, s.Timer)
	if len(s.Transcript) == 0 {
		fmt.Fprintln(p.out, "No conversation was recorded.")
	} else {
		fmt.Fprintln(p.out, "Transcript:")
		for _, e := range s.Transcript {
			fmt.Fprintf(p.out, "  %s\n", e)
		}
	}
	if s.Error != "" {
		fmt.Fprintf(p.out, "Ended with an error: %s\n", s.Error)
	}
	fmt.Fprintln(p.out, "Type r to pick a new topic.")
}
