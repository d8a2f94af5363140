// Command dbsp runs a circuit plan over a stream of changes.
//
// Every line of the input is one tick: a JSON object mapping input names to lists of weighted
// rows, where the first element of a row is its weight. For each tick the changes of the
// outputs are written in the same format.
//
//	{"edges": [[1, "a", "b"], [1, "b", "c"]]}
//	{"edges": [[-1, "a", "b"]]}
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/l7mp/dbsp/internal/buildinfo"
	"github.com/l7mp/dbsp/pkg/config"
	"github.com/l7mp/dbsp/pkg/dbsp"
	"github.com/l7mp/dbsp/pkg/plan"
	"github.com/l7mp/dbsp/pkg/storage"
	"github.com/l7mp/dbsp/pkg/util"
	"github.com/l7mp/dbsp/pkg/visualize"
	"github.com/l7mp/dbsp/pkg/zset"
)

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

type options struct {
	planFile, configFile, inputFile string
	visualize                       string
	metricsAddr                     string
	development                     bool
	verbosity                       int
	showVersion                     bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "dbsp: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("dbsp", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.planFile, "plan", "", "The circuit plan (YAML or JSON).")
	fs.StringVar(&opts.configFile, "config", "", "The engine configuration file.")
	fs.StringVar(&opts.inputFile, "input", "-", "The change stream, - for stdin.")
	fs.StringVar(&opts.visualize, "visualize", "", "Print the circuit as a dot or mermaid diagram and exit.")
	fs.StringVar(&opts.metricsAddr, "metrics-bind-address", "", "The address the metric endpoint binds to.")
	fs.BoolVar(&opts.development, "zap-devel", false, "Development mode logging.")
	fs.IntVar(&opts.verbosity, "v", 0, "Log verbosity.")
	fs.BoolVar(&opts.showVersion, "version", false, "Print the version and exit.")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	buildInfo := buildinfo.New(version, commitHash, buildDate)
	if opts.showVersion {
		fmt.Fprintf(stdout, "dbsp %s\n", buildInfo.String())
		return nil
	}

	logger := util.NewLoggerTo(stderr, opts.development, opts.verbosity).WithName("dbsp")
	setupLog := logger.WithName("setup")
	setupLog.V(1).Info(fmt.Sprintf("starting dbsp %s", buildInfo.String()))

	if opts.planFile == "" {
		return errors.New("no plan given")
	}
	p, err := plan.Load(opts.planFile)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if opts.configFile != "" {
		if cfg, err = config.Load(opts.configFile); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	c, err := plan.Build(p, dbsp.Options{Config: cfg, Logger: logger, Registerer: reg})
	if err != nil {
		return err
	}
	defer c.Close()

	switch opts.visualize {
	case "":
	case "dot":
		fmt.Fprint(stdout, visualize.Dot(c))
		return nil
	case "mermaid":
		fmt.Fprint(stdout, visualize.Mermaid(c))
		return nil
	default:
		return errors.Newf("unknown diagram format %q", opts.visualize)
	}

	if opts.metricsAddr != "" {
		srv := &http.Server{Addr: opts.metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				setupLog.Error(err, "metrics server failed")
			}
		}()
		defer srv.Close()
	}

	// only persistent backends carry state across runs
	var store storage.Store
	if cfg.Storage.Backend != config.BackendMemory && cfg.Storage.Path != "" {
		if store, err = storage.Open(cfg.Storage, logger.WithName("storage")); err != nil {
			return err
		}
		defer store.Close()

		if _, err := store.Get(storage.MetaKey(c.Name())); err == nil {
			if err := c.Restore(ctx, store); err != nil {
				return err
			}
			setupLog.Info("resumed from checkpoint", "tick", c.Clock())
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}

	in := stdin
	if opts.inputFile != "-" {
		f, err := os.Open(opts.inputFile)
		if err != nil {
			return errors.Wrap(err, "failed to open input")
		}
		defer f.Close()
		in = f
	}

	if err := process(ctx, c, in, stdout, logger); err != nil {
		return err
	}

	if store != nil {
		if err := c.Checkpoint(ctx, store); err != nil {
			return err
		}
		setupLog.Info("checkpoint written", "tick", c.Clock())
	}
	return nil
}

// process runs one tick per input line.
func process(ctx context.Context, c *dbsp.Circuit, in io.Reader, out io.Writer, log logr.Logger) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(out)
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}

		inputs, err := decodeTick(data)
		if err != nil {
			return errors.Wrapf(err, "line %d", line)
		}

		outputs, err := c.Step(ctx, inputs)
		if err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
		log.V(2).Info("tick done", "tick", c.Clock(), "line", line)

		if err := enc.Encode(encodeTick(outputs)); err != nil {
			return errors.Wrap(err, "failed to write output")
		}
	}
	return errors.Wrap(scanner.Err(), "failed to read input")
}

func decodeTick(data []byte) (map[string]*zset.ZSet, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	raw := map[string][][]any{}
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "invalid tick")
	}

	ret := make(map[string]*zset.ZSet, len(raw))
	for name, rows := range raw {
		z := zset.New()
		for _, r := range rows {
			if len(r) == 0 {
				return nil, errors.Newf("input %s: empty row", name)
			}
			vals := make([]any, len(r))
			for i := range r {
				vals[i] = decodeValue(r[i])
			}
			w, ok := vals[0].(int64)
			if !ok {
				return nil, errors.Newf("input %s: invalid weight %v", name, r[0])
			}
			t, err := zset.NewTuple(vals[1:]...)
			if err != nil {
				return nil, errors.Wrapf(err, "input %s", name)
			}
			if err := z.Insert(t, w); err != nil {
				return nil, errors.Wrapf(err, "input %s", name)
			}
		}
		ret[name] = z
	}
	return ret, nil
}

func decodeValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func encodeTick(outputs map[string]*zset.ZSet) map[string][][]any {
	ret := make(map[string][][]any, len(outputs))
	for name, z := range outputs {
		rows := [][]any{}
		if z.IsZero() {
			ret[name] = rows
			continue
		}
		for _, e := range z.Entries() {
			rows = append(rows, append([]any{e.Weight}, e.Tuple...))
		}
		ret[name] = rows
	}
	return ret
}
