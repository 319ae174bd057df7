package manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GrigorianNick/multiverse-simulator/internal/multiverse"
)

const tracerName = "github.com/GrigorianNick/multiverse-simulator/internal/manager"

// Manager is the single owner of a Multiverse.
//
// Thread-safety model:
//   - Client methods: safe from any goroutine
//   - Run: must be called from exactly one goroutine, once
type Manager struct {
	mv     *multiverse.Multiverse
	queue  *commandQueue
	clock  *Clock
	done   chan struct{}
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithClock sets the sequence clock. Default: NewClock().
func WithClock(c *Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// New creates a Manager for mv. mv must not be used by anything else once
// Run starts.
func New(mv *multiverse.Multiverse, opts ...Option) *Manager {
	m := &Manager{
		mv:     mv,
		queue:  newCommandQueue(),
		clock:  NewClock(),
		done:   make(chan struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Client returns a client bound to m.
func (m *Manager) Client() *Client {
	return &Client{m: m}
}

// Done is closed once Run has returned.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Run executes commands until Stop is called or ctx is cancelled.
//
// After Stop, commands already queued are executed before Run returns nil.
// After cancellation, queued commands are answered with
// ErrOwnerUnavailable and Run returns ctx.Err().
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)

	m.logger.Info("multiverse owner starting", "root", m.mv.Root().String())

	for {
		if ctx.Err() != nil {
			return m.cancelled(ctx)
		}

		cmd, ok := m.queue.TryDequeue()
		if ok {
			queueDepth.Set(float64(m.queue.Len()))
			cmd.reply <- m.execute(cmd)
			continue
		}

		select {
		case <-ctx.Done():
			return m.cancelled(ctx)

		case <-m.queue.Wait():
			// The signal channel is closed with the queue, so a closed and
			// drained queue ends the loop here. A stale signal on an open
			// queue just loops back to TryDequeue.
			if m.queue.Len() == 0 && m.queue.Closed() {
				m.logger.Info("multiverse owner stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run drains what is queued and returns.
func (m *Manager) Stop() {
	m.queue.Close()
}

func (m *Manager) cancelled(ctx context.Context) error {
	m.logger.Info("multiverse owner stopping: context cancelled")
	m.queue.Close()
	m.abandon()
	return ctx.Err()
}

// abandon answers every queued command with ErrOwnerUnavailable.
func (m *Manager) abandon() {
	for {
		cmd, ok := m.queue.TryDequeue()
		if !ok {
			queueDepth.Set(0)
			return
		}
		cmd.reply <- Reply{Err: ErrOwnerUnavailable}
		commandsTotal.WithLabelValues(cmd.Kind.String(), "abandoned").Inc()
	}
}

// submit enqueues cmd and waits for its reply.
func (m *Manager) submit(ctx context.Context, cmd Command) Reply {
	cmd.ctx = ctx
	cmd.reply = make(chan Reply, 1)
	cmd.Seq = m.clock.Next()
	cmd.enqueued = time.Now()

	if !m.queue.Enqueue(cmd) {
		return Reply{Err: ErrOwnerUnavailable}
	}
	queueDepth.Set(float64(m.queue.Len()))

	select {
	case r := <-cmd.reply:
		return r
	case <-m.done:
		select {
		case r := <-cmd.reply:
			return r
		default:
			return Reply{Err: ErrOwnerUnavailable}
		}
	}
}

// execute runs one command on the owner goroutine.
func (m *Manager) execute(cmd Command) (r Reply) {
	parent := cmd.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, span := otel.Tracer(tracerName).Start(context.WithoutCancel(parent), "manager."+cmd.Kind.String(),
		trace.WithAttributes(
			attribute.Int64("seq", cmd.Seq),
			attribute.String("node", cmd.Handle.String()),
		),
	)
	defer span.End()

	kind := cmd.Kind.String()
	start := time.Now()
	if !cmd.enqueued.IsZero() {
		commandWait.Observe(start.Sub(cmd.enqueued).Seconds())
	}

	m.logger.Debug("processing command",
		"command", kind,
		"seq", cmd.Seq,
		"node", cmd.Handle.String(),
	)

	defer func() {
		if p := recover(); p != nil {
			r = Reply{Err: fmt.Errorf("%w: %s: %v", ErrCommandPanicked, kind, p)}
		}

		outcome := "ok"
		if r.Err != nil {
			outcome = "error"
			span.RecordError(r.Err)
			span.SetStatus(codes.Error, "command failed")
			logCommandError(m.logger, cmd, r.Err)
		} else if !r.Found && cmd.Kind.isQuery() {
			outcome = "not_found"
		}
		commandsTotal.WithLabelValues(kind, outcome).Inc()
		commandDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	switch cmd.Kind {
	case CommandAdvance:
		h, err := m.mv.Advance(ctx, cmd.Handle, cmd.Duration)
		return Reply{Handle: h, Found: err == nil, Err: err}

	case CommandBranch:
		h, err := m.mv.Branch(ctx, cmd.Handle, cmd.Duration, cmd.Patches)
		return Reply{Handle: h, Found: err == nil, Err: err}

	case CommandUpdate:
		err := m.mv.Update(ctx, cmd.Handle, cmd.Patches)
		return Reply{Handle: cmd.Handle, Found: err == nil, Err: err}

	case CommandGetUniverse:
		u, found, err := m.mv.GetUniverse(ctx, cmd.Handle)
		return Reply{Universe: u, Found: found, Err: err}

	case CommandGetNode:
		n, found, err := m.mv.GetNode(ctx, cmd.Handle)
		return Reply{Node: n, Found: found, Err: err}

	case CommandGetNodes:
		return Reply{Handles: m.mv.GetNodes(ctx), Found: true}

	case CommandGetTimeline:
		tl, found, err := m.mv.GetTimeline(ctx, cmd.Handle)
		return Reply{Timeline: tl, Found: found, Err: err}

	case CommandGetChildren:
		links, found, err := m.mv.GetChildren(ctx, cmd.Handle)
		return Reply{Links: links, Found: found, Err: err}

	default:
		return Reply{Err: fmt.Errorf("unknown command kind: %d", cmd.Kind)}
	}
}

func (k CommandKind) isQuery() bool {
	switch k {
	case CommandGetUniverse, CommandGetNode, CommandGetTimeline, CommandGetChildren:
		return true
	}
	return false
}

// logCommandError logs a failed command with enough context to replay it
// by hand.
func logCommandError(logger *slog.Logger, cmd Command, err error) {
	logger.Error("command failed",
		"command", cmd.Kind.String(),
		"seq", cmd.Seq,
		"node", cmd.Handle.String(),
		"duration", cmd.Duration,
		"patches", len(cmd.Patches),
		"error", err,
	)
}
