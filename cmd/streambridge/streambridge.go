// Program streambridge runs a bridge session with an external worker.
//
// Usage:
//
//	streambridge [options] <command> [args...]
//
// The command is started with the port of the bridge appended to its
// arguments. It must connect to that port and speak the worker protocol, as
// the streamworker program does.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"maps"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/creachadair/streamer"
	"github.com/creachadair/streamer/metrics"
	"github.com/creachadair/streamer/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var (
	configFile    = flag.String("config", "", "Read settings from this YAML file")
	bufferSize    = flag.Int("buffer", streamer.DefaultBufferSize, "Buffer size in bytes")
	readTimeout   = flag.Duration("timeout", 0, "Timeout on each read from the worker (0 for no timeout)")
	acceptTimeout = flag.Duration("accept", 10*time.Second, "Timeout for the worker to connect (0 for no timeout)")
	gracePeriod   = flag.Duration("grace", streamer.DefaultGracePeriod, "Wait this long for diagnostics after a worker error")
	taskName      = flag.String("task", "streambridge", "Task name reported in failures")
	doGroup       = flag.Bool("group", false, "Stream exactly two inputs as groups 0 and 1")
	metricsAddr   = flag.String("metrics", "", "Serve Prometheus metrics at this address")
	withLogging   = flag.Bool("v", false, "Enable verbose logging")

	inputFiles []string
	variables  []variable // in the order given on the command line
)

// A variable is a broadcast variable named by the -var flag.
// inputBuffer is the number of lines read ahead from each input file.
const inputBuffer = 1024

type variable struct{ name, path string }

func init() {
	flag.Func("in", "Read input records (lines) from this file (repeatable)", func(s string) error {
		inputFiles = append(inputFiles, s)
		return nil
	})
	flag.Func("var", "Broadcast variable name=file whose lines are its values (repeatable)", func(s string) error {
		name, path, ok := strings.Cut(s, "=")
		if !ok || name == "" {
			return errors.New("want name=file")
		}
		variables = append(variables, variable{name, path})
		return nil
	})
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: %s [options] <command> [args...]

Start the specified worker command and stream the input files to it through
a bridge. Each line of an input file is one record; the records of several
inputs are merged in no particular order, unless -group is set. The records
returned by the worker are printed to stdout, one per line.

The port on which the bridge listens is appended to the arguments of the
command. Text the worker writes to stderr is copied to stderr and attached
to any failure reported by the bridge.

Settings may also be read from a YAML file given by -config; flags given on
the command line take precedence. For example:

  worker: [streamworker, -mode, upper]
  buffer_size: 65536
  timeout: 30s
  inputs: [a.txt, b.txt]
  variables:
    stopwords: stop.txt

Options:
`, filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}

// config is the format of the YAML configuration file.
type config struct {
	Worker        []string                 `yaml:"worker"`
	Task          string                   `yaml:"task"`
	BufferSize    int                      `yaml:"buffer_size"`
	Timeout       time.Duration            `yaml:"timeout"`
	AcceptTimeout time.Duration            `yaml:"accept_timeout"`
	GracePeriod   time.Duration            `yaml:"grace_period"`
	Group         bool                     `yaml:"group"`
	Inputs        []string                 `yaml:"inputs"`
	Variables     map[string]string        `yaml:"variables"`
	Broadcast     streamer.BroadcastConfig `yaml:"broadcast"`
	Metrics       string                   `yaml:"metrics"`
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Configuration: %v", err)
	}
	if len(cfg.Worker) == 0 {
		log.Fatal("You must specify a worker command")
	} else if len(cfg.Inputs) == 0 {
		log.Fatal("You must specify at least one input (-in)")
	} else if cfg.Group && len(cfg.Inputs) != 2 {
		log.Fatalf("Group mode requires exactly 2 inputs, got %d", len(cfg.Inputs))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	if cfg.Metrics != "" {
		srv := serveMetrics(cfg.Metrics, m)
		defer srv.Close()
	}
	if err := run(ctx, cfg, m); err != nil {
		log.Fatalf("Session failed: %v", err)
	}
}

// loadConfig reads the configuration file, if any, and applies the flags
// set on the command line on top of it.
func loadConfig() (*config, error) {
	cfg := &config{
		Task:          *taskName,
		BufferSize:    *bufferSize,
		Timeout:       *readTimeout,
		AcceptTimeout: *acceptTimeout,
		GracePeriod:   *gracePeriod,
	}
	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %q: %w", *configFile, err)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "task":
			cfg.Task = *taskName
		case "buffer":
			cfg.BufferSize = *bufferSize
		case "timeout":
			cfg.Timeout = *readTimeout
		case "accept":
			cfg.AcceptTimeout = *acceptTimeout
		case "grace":
			cfg.GracePeriod = *gracePeriod
		case "group":
			cfg.Group = *doGroup
		case "metrics":
			cfg.Metrics = *metricsAddr
		}
	})
	if flag.NArg() != 0 {
		cfg.Worker = flag.Args()
	}
	cfg.Inputs = append(cfg.Inputs, inputFiles...)
	if cfg.Variables == nil {
		cfg.Variables = make(map[string]string)
	}
	for _, v := range variables {
		cfg.Variables[v.name] = v.path
	}

	// Broadcast every variable: first those named in the configuration, then
	// those given by -var in flag order, then the rest in sorted order.
	listed := make(map[string]bool)
	for _, name := range cfg.Broadcast.Names {
		listed[name] = true
	}
	for _, v := range variables {
		if !listed[v.name] {
			listed[v.name] = true
			cfg.Broadcast.Names = append(cfg.Broadcast.Names, v.name)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(cfg.Variables)) {
		if !listed[name] {
			cfg.Broadcast.Names = append(cfg.Broadcast.Names, name)
		}
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config, m *metrics.M) error {
	vars, err := loadVariables(cfg.Variables)
	if err != nil {
		return err
	}
	opts := &streamer.BridgeOptions{
		BufferSize:    cfg.BufferSize,
		Timeout:       cfg.Timeout,
		AcceptTimeout: cfg.AcceptTimeout,
		GracePeriod:   cfg.GracePeriod,
		Metrics:       m,
	}
	if *withLogging {
		opts.LogWriter = os.Stderr
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b := streamer.NewBridge(streamer.Static(streamer.StaticContext{
		Task:      cfg.Task,
		Variables: vars,
	}), opts)
	defer b.Close()

	lst, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	port := strconv.Itoa(lst.Addr().(*net.TCPAddr).Port)

	cmd := exec.CommandContext(ctx, cfg.Worker[0], append(cfg.Worker[1:], port)...)
	cmd.Stdout = os.Stderr
	stderr, err := cmd.StderrPipe()
	if err != nil {
		lst.Close()
		return err
	}
	if err := cmd.Start(); err != nil {
		lst.Close()
		return fmt.Errorf("starting worker: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := io.Copy(io.MultiWriter(os.Stderr, b.Diagnostics()), stderr)
		return err
	})
	inputs := make([]*mux.Queue[*line], len(cfg.Inputs))
	for i, path := range cfg.Inputs {
		q := mux.NewBoundedQueue(decodeLine, inputBuffer)
		inputs[i] = q
		g.Go(func() error { feed(gctx, path, q); return nil })
	}

	start := time.Now()
	serr := session(ctx, b, lst, cfg, inputs, m)
	b.Close()
	if serr != nil {
		cancel() // stop the worker and the input readers
	}
	gerr := g.Wait()
	werr := cmd.Wait()
	log.Printf("Session %s ended after %v", b.Session(), time.Since(start).Round(time.Millisecond))

	if serr != nil {
		return serr
	} else if werr != nil {
		return fmt.Errorf("worker: %w", werr)
	}
	return gerr
}

func session(ctx context.Context, b *streamer.Bridge, lst net.Listener, cfg *config, inputs []*mux.Queue[*line], m *metrics.M) error {
	if err := b.Open(ctx, lst); err != nil {
		return err
	}
	if len(cfg.Broadcast.Names) != 0 {
		if err := b.SendBroadcastVariables(ctx, cfg.Broadcast); err != nil {
			return err
		}
	}
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	emit := streamer.CollectorFunc(func(v any) error {
		switch t := v.(type) {
		case []byte:
			out.Write(t)
		default:
			fmt.Fprint(out, t)
		}
		return out.WriteByte('\n')
	})

	logOpts := &mux.Options{Metrics: m}
	if *withLogging {
		logOpts.LogWriter = os.Stderr
	}
	if cfg.Group {
		g0 := lines(mux.New(channels(inputs[:1]), newLine, logOpts))
		g1 := lines(mux.New(channels(inputs[1:]), newLine, logOpts))
		return b.StreamWithGroups(ctx, g0, g1, emit)
	}
	return b.StreamWithoutGroups(ctx, lines(mux.New(channels(inputs), newLine, logOpts)), emit)
}

func serveMetrics(addr string, m *metrics.M) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(m, "streambridge"))
	hm := http.NewServeMux()
	hm.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: hm}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server: %v", err)
		}
	}()
	return srv
}
