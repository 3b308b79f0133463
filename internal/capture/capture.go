// Package capture moves microphone audio to the speech session.
//
// The platform audio callback must never wait on the network, so a
// [Pipeline] decouples the two: the callback copies each block into a bounded
// queue with a non-blocking send, and a single forwarding goroutine encodes
// the queued blocks in capture order and hands them to the session. When the
// queue is full the newest block is dropped; dropped blocks are counted and
// logged once per pipeline.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/observe"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio"
)

const (
	// BlockSize is the number of sample frames per capture block.
	BlockSize = 4096

	// DefaultQueueDepth is the number of blocks buffered between the device
	// callback and the forwarder (about 8 s of 16 kHz audio).
	DefaultQueueDepth = 32
)

// Format is the capture format streamed to the session: 16 kHz mono.
var Format = audio.Format{SampleRate: audio.CaptureRate, Channels: 1}

var (
	// ErrStarted is returned by Start on a pipeline that is already running.
	ErrStarted = errors.New("capture: already started")

	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("capture: stopped")
)

// Sender accepts encoded capture chunks. s2s.SessionHandle satisfies it.
type Sender interface {
	SendAudio(chunk audio.EncodedChunk) error
}

// Option is a functional option for [New].
type Option func(*Pipeline)

// WithQueueDepth sets the number of blocks buffered ahead of the forwarder.
// Values below 1 are ignored.
func WithQueueDepth(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.depth = n
		}
	}
}

// WithFormat sets the format of the blocks the microphone delivers.
func WithFormat(f audio.Format) Option {
	return func(p *Pipeline) {
		if f.Valid() {
			p.format = f
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// Pipeline forwards microphone blocks to a [Sender]. It owns the microphone
// from construction: Stop releases it whether or not Start was called.
type Pipeline struct {
	mic     audio.Microphone
	sender  Sender
	format  audio.Format
	depth   int
	metrics *observe.Metrics
	log     *slog.Logger

	queue chan []float32
	quit  chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	started bool
	stopErr error

	stopping atomic.Bool
	stopOnce sync.Once
	dropOnce sync.Once

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New creates a pipeline reading mic and writing to sender.
func New(mic audio.Microphone, sender Sender, opts ...Option) *Pipeline {
	p := &Pipeline{
		mic:     mic,
		sender:  sender,
		format:  Format,
		depth:   DefaultQueueDepth,
		metrics: observe.DefaultMetrics(),
		log:     slog.Default(),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.queue = make(chan []float32, p.depth)
	return p
}

// Start launches the forwarder and begins capture. Cancelling ctx stops
// forwarding without draining the queue; use Stop for an orderly shutdown.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping.Load() {
		return ErrStopped
	}
	if p.started {
		return ErrStarted
	}

	go p.forward(ctx)
	if err := p.mic.Start(p.onBlock); err != nil {
		close(p.quit)
		<-p.done
		p.stopping.Store(true)
		return fmt.Errorf("capture: start microphone: %w", err)
	}
	p.started = true
	return nil
}

// onBlock runs on the device callback thread.
func (p *Pipeline) onBlock(block []float32) {
	if p.stopping.Load() || len(block) == 0 {
		return
	}
	buf := make([]float32, len(block))
	copy(buf, block)

	select {
	case p.queue <- buf:
	default:
		p.dropped.Add(1)
		p.metrics.CaptureDropped.Add(context.Background(), 1)
		p.dropOnce.Do(func() {
			p.log.Warn("capture: send queue full, dropping microphone audio", "depth", p.depth)
		})
	}
}

// forward encodes and sends queued blocks in order until quit, then sends
// whatever is still queued.
func (p *Pipeline) forward(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case block := <-p.queue:
			p.send(ctx, block)
		case <-p.quit:
			for {
				select {
				case block := <-p.queue:
					p.send(ctx, block)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) send(ctx context.Context, block []float32) {
	chunk := audio.Encode(audio.Frame{
		Samples:    block,
		SampleRate: p.format.SampleRate,
		Channels:   p.format.Channels,
	})
	if err := p.sender.SendAudio(chunk); err != nil {
		p.failed.Add(1)
		p.metrics.RecordCaptureChunk(ctx, "error")
		p.log.Debug("capture: send failed", "err", err)
		return
	}
	p.sent.Add(1)
	p.metrics.RecordCaptureChunk(ctx, "sent")
}

// Stop releases the microphone, then waits for the forwarder to send the
// blocks already queued. It is idempotent and returns the microphone's Close
// error from the first call.
func (p *Pipeline) Stop() error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.stopping.Store(true)
		if err := p.mic.Close(); err != nil {
			p.stopErr = fmt.Errorf("capture: close microphone: %w", err)
		}
		if p.started {
			close(p.quit)
			<-p.done
		}
	})
	return p.stopErr
}

// Sent returns the number of chunks accepted by the sender.
func (p *Pipeline) Sent() uint64 { return p.sent.Load() }

// Dropped returns the number of blocks dropped on a full queue.
func (p *Pipeline) Dropped() uint64 { return p.dropped.Load() }

// Failed returns the number of chunks the sender rejected.
func (p *Pipeline) Failed() uint64 { return p.failed.Load() }
