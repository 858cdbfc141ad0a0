package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/term"

	"github.com/teslashibe/go-neurobridge/pkg/queue"
	"github.com/teslashibe/go-neurobridge/pkg/server"
)

// DefaultPollInterval bounds how long the terminal loop goes without
// checking the stop flag.
const DefaultPollInterval = 50 * time.Millisecond

const (
	keyInterrupt = 0x03
	keyEOT       = 0x04
	keyBackspace = 0x08
	keyDelete    = 0x7f
)

// Terminal reads lines typed by the user.
type Terminal struct {
	sink   Sink
	state  *server.State
	in     io.Reader
	out    io.Writer
	poll   time.Duration
	logger *slog.Logger

	raw bool
}

// TerminalOption configures a Terminal.
type TerminalOption func(*Terminal)

// WithInput reads from r instead of stdin.
func WithInput(r io.Reader) TerminalOption {
	return func(t *Terminal) { t.in = r }
}

// WithOutput echoes to w instead of stdout.
func WithOutput(w io.Writer) TerminalOption {
	return func(t *Terminal) { t.out = w }
}

// WithPollInterval sets the stop flag polling interval.
func WithPollInterval(d time.Duration) TerminalOption {
	return func(t *Terminal) { t.poll = d }
}

// WithTerminalLogger sets the structured logger.
func WithTerminalLogger(l *slog.Logger) TerminalOption {
	return func(t *Terminal) { t.logger = l }
}

// NewTerminal creates a terminal collector feeding sink.
func NewTerminal(sink Sink, state *server.State, opts ...TerminalOption) *Terminal {
	t := &Terminal{
		sink:   sink,
		state:  state,
		in:     os.Stdin,
		out:    os.Stdout,
		poll:   DefaultPollInterval,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.poll <= 0 {
		t.poll = DefaultPollInterval
	}
	t.logger = t.logger.With("component", "input.terminal")
	return t
}

// Run collects lines until the exit word, EOF, the stop flag or ctx.
// EOF ends only this collector.
//
// The reader goroutine blocks in Read and cannot be interrupted; for stdin
// it ends with the process.
func (t *Terminal) Run(ctx context.Context) error {
	if f, ok := t.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		old, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			t.logger.Warn("raw mode unavailable, using line mode", "error", err)
		} else {
			t.raw = true
			defer func() {
				_ = term.Restore(int(f.Fd()), old)
				fmt.Fprint(t.out, "\r\n")
			}()
		}
	}

	keys := make(chan byte, 64)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := t.in.Read(buf)
			if n == 1 {
				select {
				case keys <- buf[0]:
				case <-done:
					return
				}
			}
			if err != nil {
				readErr <- err
				close(keys)
				return
			}
		}
	}()

	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	var line []byte
	t.prompt(line)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.state.Done():
			return nil
		case <-ticker.C:
			if t.state.Stopped() {
				return nil
			}
		case b, ok := <-keys:
			if !ok {
				err := <-readErr
				if !errors.Is(err, io.EOF) {
					t.logger.Warn("terminal read failed", "error", err)
				}
				if len(line) > 0 {
					t.submit(string(line))
				}
				t.logger.Info("terminal input closed")
				return nil
			}

			switch b {
			case '\r', '\n':
				text := string(line)
				line = line[:0]
				if t.raw {
					fmt.Fprint(t.out, "\r\n")
				}
				if !t.submit(text) {
					return nil
				}
			case keyBackspace, keyDelete:
				if len(line) > 0 {
					_, size := utf8.DecodeLastRune(line)
					line = line[:len(line)-size]
				}
			case keyInterrupt, keyEOT:
				if t.raw {
					t.logger.Info("interrupt received")
					t.state.Stop()
					return nil
				}
				line = append(line, b)
			default:
				line = append(line, b)
			}
			t.prompt(line)
		}
	}
}

// submit handles one finished line and reports whether to keep running.
func (t *Terminal) submit(raw string) bool {
	text := strings.TrimSpace(raw)
	if text == "" {
		return true
	}
	if IsExit(text) {
		t.logger.Info("exit requested", "word", strings.ToLower(text))
		t.state.Stop()
		return false
	}

	q, err := t.sink.Enqueue(text, SourceTerminal)
	if err != nil {
		if errors.Is(err, queue.ErrClosed) {
			t.logger.Warn("queue closed, input dropped", "text", text)
			return false
		}
		t.logger.Error("enqueue failed", "error", err)
		return true
	}
	t.logger.Debug("query enqueued", "seq", q.Seq, "text", text)
	return true
}

func (t *Terminal) prompt(line []byte) {
	if !t.raw {
		return
	}
	fmt.Fprintf(t.out, "\r\x1b[KYou: %s", line)
}
