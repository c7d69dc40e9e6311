// nester-run runs one computation request in-process and writes its
// messages to stdout, either as JSON lines or as length-prefixed frames.
// Usage: nester-run [--pipeline lbf] [--framed] request.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/nester/internal/harness"
	"github.com/seantiz/nester/internal/logbridge"
	"github.com/seantiz/nester/internal/pipeline"
	"github.com/seantiz/nester/internal/pipeline/strip"
	"github.com/seantiz/nester/internal/protocol"
	"github.com/seantiz/nester/internal/terminator"
	"github.com/seantiz/nester/internal/workpool"
)

// errRunFailed is returned when the run ends with an error message. The
// message itself has already been written to the output.
var errRunFailed = errors.New("run ended with an error")

type runOptions struct {
	pipeline   string
	verbosity  int
	instant    bool
	framed     bool
	configPath string
	workers    int

	// install wires the diagnostic bridge. Defaults to the process-wide
	// logbridge.Install.
	install func(code int, sink protocol.Sink, opts logbridge.Options) (*logbridge.Bridge, error)
}

func newRootCmd() *cobra.Command {
	opts := runOptions{install: logbridge.Install}

	cmd := &cobra.Command{
		Use:   "nester-run [request-file]",
		Short: "Run one strip-packing request and stream its messages",
		Long: "nester-run reads a computation request from a file (or stdin when the " +
			"file is omitted or \"-\"), runs it on this process and writes every " +
			"message to stdout. Interrupting the process cancels the run, which then " +
			"finishes with its best layout so far.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readRequest(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), opts, raw, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.pipeline, "pipeline", "p", pipeline.DefaultName, "pipeline to run")
	cmd.Flags().IntVarP(&opts.verbosity, "verbosity", "v", 3, "diagnostic verbosity: 0 off, 1 error, 2 warn, 3 info, 4 debug, 5 trace")
	cmd.Flags().BoolVar(&opts.instant, "instant", false, "emit diagnostics as they happen instead of before the result")
	cmd.Flags().BoolVar(&opts.framed, "framed", false, "write length-prefixed frames instead of JSON lines")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "YAML file of run defaults")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "worker pool size (0 = one per CPU)")

	return cmd
}

func readRequest(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read request from stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	return raw, nil
}

// run drives one harness on the shared cancellation cell. The harness is
// configured before the cancel watcher starts, so an interrupt always lands
// on an armed run.
func run(ctx context.Context, opts runOptions, raw []byte, stdout, stderr io.Writer) error {
	defaults := harness.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if defaults, err = harness.LoadConfig(opts.configPath); err != nil {
			return err
		}
	}

	pool := workpool.New()
	pool.Bootstrap(opts.workers)

	reg := pipeline.NewRegistry()
	strip.Register(reg, pool)
	p, err := reg.Resolve(opts.pipeline)
	if err != nil {
		return err
	}

	signals := terminator.NewRegistry()
	term, err := signals.Terminator(signals.Shared())
	if err != nil {
		return err
	}

	stream := protocol.NewStream(outputSink(opts.framed, stdout, stderr), p.Subset())
	// An invalid verbosity is reported on the side channel and yields a
	// discarding bridge; the run still goes ahead.
	bridge, _ := opts.install(opts.verbosity, stream.Sink(), logbridge.Options{
		Instant:     opts.instant,
		SideChannel: stderr,
	})

	h, err := harness.New(harness.Options{
		Collaborators: p.Collaborators(),
		Stream:        stream,
		Terminator:    term,
		Logger:        bridge.Logger(),
		Flush:         bridge.Flush,
		Defaults:      defaults,
		Pool:          pool,
	})
	if err != nil {
		return err
	}

	if err := h.Configure(raw); err != nil {
		return errRunFailed
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			term.RequestCancel()
		case <-stop:
		}
	}()

	if err := h.Execute(); err != nil {
		return errRunFailed
	}
	return nil
}

func outputSink(framed bool, stdout, stderr io.Writer) protocol.Sink {
	onErr := func(err error) {
		fmt.Fprintf(stderr, "nester-run: write message: %v\n", err)
	}
	if framed {
		return protocol.FrameSink(stdout, onErr)
	}
	enc := json.NewEncoder(stdout)
	return protocol.SinkFunc(func(m protocol.Message) {
		if err := enc.Encode(m); err != nil {
			onErr(err)
		}
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}
