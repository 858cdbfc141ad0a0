package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-neurobridge/pkg/queue"
	"github.com/teslashibe/go-neurobridge/pkg/reasoning"
	"github.com/teslashibe/go-neurobridge/pkg/response"
	"github.com/teslashibe/go-neurobridge/pkg/server"
)

// Exchange is one processed query.
type Exchange struct {
	Query    queue.Query
	Raw      string
	Response response.Response
	Err      error
	Latency  time.Duration
}

// Observer is notified after every exchange, before dispatch returns.
type Observer func(Exchange)

// Dispatcher hands a parsed response to the side-effect tasks.
type Dispatcher interface {
	Dispatch(ctx context.Context, resp response.Response)
}

// Processor is the single consumer of the query queue. Backend calls are
// made one at a time, in arrival order.
type Processor struct {
	queue      *queue.Queue
	state      *server.State
	backend    reasoning.Backend
	parser     *response.Parser
	dispatcher Dispatcher
	session    string
	preamble   string
	logger     *slog.Logger

	busy      atomic.Bool
	processed atomic.Uint64

	// Observer, when set, sees every exchange.
	Observer Observer
}

// ProcessorConfig wires a Processor.
type ProcessorConfig struct {
	Queue      *queue.Queue
	State      *server.State
	Backend    reasoning.Backend
	Parser     *response.Parser
	Dispatcher Dispatcher

	// Session identifies the conversation to the backend.
	Session string

	// Preamble is prefixed to every query on its own line.
	Preamble string

	Logger *slog.Logger
}

// NewProcessor creates a processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	parser := cfg.Parser
	if parser == nil {
		parser = response.NewParser(logger)
	}
	session := cfg.Session
	if session == "" {
		session = reasoning.DefaultSession
	}
	return &Processor{
		queue:      cfg.Queue,
		state:      cfg.State,
		backend:    cfg.Backend,
		parser:     parser,
		dispatcher: cfg.Dispatcher,
		session:    session,
		preamble:   cfg.Preamble,
		logger:     logger.With("component", "agent.processor"),
	}
}

// Run consumes queries until the queue closes, ctx ends or the stop flag
// is raised. An item dequeued after the stop flag is dropped.
//
// The stop flag only interrupts the wait for the next query. A query
// already with the backend runs under ctx and its reply is dispatched.
func (p *Processor) Run(ctx context.Context) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.state.Done():
			cancel()
		case <-waitCtx.Done():
		}
	}()

	for {
		q, err := p.queue.Dequeue(waitCtx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || waitCtx.Err() != nil {
				return nil
			}
			return err
		}
		if p.state.Stopped() {
			p.logger.Info("stopping, query dropped", "seq", q.Seq, "text", q.Text)
			return nil
		}
		p.Process(ctx, q)
	}
}

// Process runs one query through the backend, the parser and the
// dispatcher. A backend failure is answered with the fallback response.
func (p *Processor) Process(ctx context.Context, q queue.Query) {
	p.busy.Store(true)
	defer p.busy.Store(false)

	text := q.Text
	if p.preamble != "" {
		text = p.preamble + "\n" + text
	}

	p.logger.Info("query", "seq", q.Seq, "source", q.Source, "text", q.Text)
	start := time.Now()
	raw, err := p.backend.Query(ctx, text, p.session)
	latency := time.Since(start)

	var resp response.Response
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Error("backend failed", "seq", q.Seq, "error", err, "latency", latency)
		resp = response.FallbackResponse()
	} else {
		p.logger.Debug("backend replied", "seq", q.Seq, "latency", latency, "raw", raw)
		resp = p.parser.Parse(raw)
	}

	p.processed.Add(1)
	if p.Observer != nil {
		p.Observer(Exchange{Query: q, Raw: raw, Response: resp, Err: err, Latency: latency})
	}
	if !resp.Empty() {
		p.dispatcher.Dispatch(ctx, resp)
	}
}

// Busy reports whether a query is being processed.
func (p *Processor) Busy() bool { return p.busy.Load() }

// Processed returns how many queries reached the backend.
func (p *Processor) Processed() uint64 { return p.processed.Load() }
