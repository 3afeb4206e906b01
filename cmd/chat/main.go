package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/suPer8Hu/streamchat/internal/config"
	"github.com/suPer8Hu/streamchat/internal/console"
	"github.com/suPer8Hu/streamchat/internal/fallback"
	"github.com/suPer8Hu/streamchat/internal/logging"
	"github.com/suPer8Hu/streamchat/internal/session"
	"github.com/suPer8Hu/streamchat/internal/stream"
)

type options struct {
	apiBase   string
	transport string
	noStream  bool
	logLevel  string
}

func main() {
	ccfg := config.LoadClient()
	opts := options{apiBase: ccfg.APIBase, transport: "ws", logLevel: ccfg.LogLevel}
	if os.Getenv("LOG_LEVEL") == "" {
		// replies share the terminal with the logs
		opts.logLevel = "warn"
	}

	root := &cobra.Command{
		Use:          "chat",
		Short:        "Chat with the streaming server, one prompt per line",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.Setup(opts.logLevel, os.Stderr)
			return run(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
		},
	}
	root.Flags().StringVar(&opts.apiBase, "api-base", opts.apiBase, "server base URL (API_BASE)")
	root.Flags().StringVar(&opts.transport, "transport", opts.transport, "stream transport: ws or sse")
	root.Flags().BoolVar(&opts.noStream, "no-stream", false, "use the non-streaming POST /chat endpoint")
	root.Flags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level (LOG_LEVEL)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer, logger zerolog.Logger) error {
	r := console.New(out)
	lines := readLines(ctx, in)

	if opts.noStream {
		return runFallback(ctx, opts, r, lines, logger)
	}

	dialer, err := newDialer(opts, logger)
	if err != nil {
		return err
	}

	closes := make(chan struct{}, 1)
	m := session.NewManager(dialer,
		session.WithLogger(logger),
		session.WithContext(ctx),
		session.WithObserver(func(ev session.Event) {
			r.Handle(ev)
			if ev.Kind == session.EventClose {
				select {
				case closes <- struct{}{}:
				default:
				}
			}
		}),
	)
	defer m.Close()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				// let the last reply finish before exiting
				return waitIdle(ctx, m, closes)
			}
			if _, err := m.Send(line); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func runFallback(ctx context.Context, opts options, r *console.Renderer, lines <-chan string, logger zerolog.Logger) error {
	client := fallback.New(opts.apiBase, fallback.WithLogger(logger))
	for {
		r.Prompt()
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			reply, err := client.Chat(ctx, line)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.Error(err)
				continue
			}
			r.Reply(reply)
		case <-ctx.Done():
			return nil
		}
	}
}

func newDialer(opts options, logger zerolog.Logger) (stream.Dialer, error) {
	switch strings.ToLower(opts.transport) {
	case "", "ws", "websocket":
		return stream.NewWebSocketDialer(opts.apiBase, stream.WithLogger(logger))
	case "sse":
		return stream.NewSSEDialer(opts.apiBase, stream.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown transport %q (want ws or sse)", opts.transport)
	}
}

func waitIdle(ctx context.Context, m *session.Manager, closes <-chan struct{}) error {
	for m.State().Loading {
		select {
		case <-closes:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// readLines yields trimmed, non-empty input lines and closes on EOF.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
