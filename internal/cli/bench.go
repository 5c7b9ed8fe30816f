package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/worldland/worldland-launcher/internal/bench"
	"github.com/worldland/worldland-launcher/internal/config"
	"github.com/worldland/worldland-launcher/internal/progress"
	"github.com/worldland/worldland-launcher/internal/telemetry"
)

type benchOptions struct {
	apiURL          string
	model           string
	servedModelName string
	numPrompts      int
	maxConcurrency  int
	prefixLen       int
	inputLen        int
	outputLen       int
	rangeRatio      float64
	seed            uint64
	ignoreEOS       bool
	metrics         string
	percentiles     string
	waitTimeout     time.Duration
	resultPath      string
	metricsAddr     string
	noProgress      bool
}

func newBenchCommand(root *rootOptions) *cobra.Command {
	opts := &benchOptions{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark a streaming chat-completions endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, root, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.apiURL, "api-url", "", "endpoint URL ending in chat/completions")
	flags.StringVar(&opts.model, "model", "", "model id sent in every request")
	flags.StringVar(&opts.servedModelName, "served-model-name", "", "model name sent instead of --model")
	flags.IntVar(&opts.numPrompts, "num-prompts", 100, "number of requests")
	flags.IntVar(&opts.maxConcurrency, "max-concurrency", 0, "maximum in-flight requests, 0 for unbounded")
	flags.IntVar(&opts.prefixLen, "prefix-len", 0, "shared prefix length in words")
	flags.IntVar(&opts.inputLen, "input-len", 1024, "prompt length in words after the prefix")
	flags.IntVar(&opts.outputLen, "output-len", 128, "requested completion tokens")
	flags.Float64Var(&opts.rangeRatio, "range-ratio", 1.0, "lengths are drawn from [len*ratio, len]")
	flags.Uint64Var(&opts.seed, "seed", 0, "dataset seed")
	flags.BoolVar(&opts.ignoreEOS, "ignore-eos", false, "ask the server to ignore end-of-sequence")
	flags.StringVar(&opts.metrics, "percentile-metrics", "ttft,tpot,itl", "comma-separated metrics to report (ttft, tpot, itl, e2el)")
	flags.StringVar(&opts.percentiles, "metric-percentiles", "99", "comma-separated percentiles to report")
	flags.DurationVar(&opts.waitTimeout, "wait-timeout", 0, "wait up to this long for the endpoint before starting")
	flags.StringVar(&opts.resultPath, "result-path", "", "save the JSON result to this file or directory")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "expose Prometheus metrics for the run on this address")
	flags.BoolVar(&opts.noProgress, "no-progress", false, "disable the live progress bar")
	return cmd
}

func (o *benchOptions) apply(cmd *cobra.Command, percentiles []float64) func(*config.Config) {
	return func(c *config.Config) {
		b := &c.Bench
		changed := cmd.Flags().Changed
		if changed("api-url") {
			b.APIURL = o.apiURL
		}
		if changed("model") {
			b.Model = o.model
		}
		if changed("served-model-name") {
			b.ServedModelName = o.servedModelName
		}
		if changed("num-prompts") {
			b.NumPrompts = o.numPrompts
		}
		if changed("max-concurrency") {
			b.MaxConcurrency = o.maxConcurrency
		}
		if changed("prefix-len") {
			b.PrefixLen = o.prefixLen
		}
		if changed("input-len") {
			b.InputLen = o.inputLen
		}
		if changed("output-len") {
			b.OutputLen = o.outputLen
		}
		if changed("range-ratio") {
			b.RangeRatio = o.rangeRatio
		}
		if changed("seed") {
			b.Seed = o.seed
		}
		if changed("ignore-eos") {
			b.IgnoreEOS = o.ignoreEOS
		}
		if changed("percentile-metrics") {
			b.Metrics = strings.Split(o.metrics, ",")
		}
		if changed("metric-percentiles") {
			b.Percentiles = percentiles
		}
		if changed("wait-timeout") {
			b.WaitTimeout = o.waitTimeout
		}
		if changed("result-path") {
			b.ResultPath = o.resultPath
		}
	}
}

func runBench(cmd *cobra.Command, root *rootOptions, opts *benchOptions) error {
	percentiles, err := bench.ParsePercentiles(opts.percentiles)
	if err != nil {
		return err
	}
	cfg, log, err := loadConfig(cmd, root, opts.apply(cmd, percentiles))
	if err != nil {
		return err
	}
	b := cfg.Bench
	if b.APIURL == "" || b.Model == "" {
		return errors.New("bench needs an API URL and a model (--api-url, --model or the bench section)")
	}

	ctx := cmd.Context()
	requests := bench.RandomRequests(bench.RandomOptions{
		APIURL:     b.APIURL,
		Model:      b.Model,
		ModelName:  b.ServedModelName,
		NumPrompts: b.NumPrompts,
		PrefixLen:  b.PrefixLen,
		InputLen:   b.InputLen,
		OutputLen:  b.OutputLen,
		RangeRatio: b.RangeRatio,
		Seed:       b.Seed,
		IgnoreEOS:  b.IgnoreEOS,
		ExtraBody:  b.ExtraBody,
	})

	if b.WaitTimeout > 0 {
		if err := bench.WaitForEndpoint(ctx, nil, b.APIURL, b.WaitTimeout, log); err != nil {
			return err
		}
	}

	dispatchOpts := []bench.DispatcherOption{
		bench.WithConcurrency(b.MaxConcurrency),
		bench.WithAPIKey(cfg.APIKey),
		bench.WithLogger(log),
	}

	if opts.metricsAddr != "" {
		metrics := telemetry.NewBenchMetrics()
		stop, err := serveMetrics(opts.metricsAddr, telemetry.Handler(telemetry.NewRegistry(metrics)), log)
		if err != nil {
			return err
		}
		defer stop()
		dispatchOpts = append(dispatchOpts, bench.WithObserver(metrics))
	}

	var bar *progress.Bar
	if !opts.noProgress && progress.IsTerminal(os.Stderr) {
		bar = progress.New(len(requests), cmd.ErrOrStderr(), 250*time.Millisecond)
		dispatchOpts = append(dispatchOpts, bench.WithProgress(bar))
		bar.Start()
	}

	report, err := bench.NewOrchestrator(bench.NewDispatcher(dispatchOpts...), log).
		Run(ctx, requests, cfg.Bench.MetricList(), b.Percentiles)
	if bar != nil {
		bar.Stop()
	}
	if err != nil {
		return err
	}

	report.Render(cmd.OutOrStdout())

	if b.ResultPath != "" {
		path, err := bench.SaveResult(b.ResultPath, report, bench.RunInfo{
			Model:       b.Model,
			APIURL:      b.APIURL,
			Concurrency: b.MaxConcurrency,
			NumPrompts:  b.NumPrompts,
		}, time.Now())
		if err != nil {
			return err
		}
		log.WithField("path", path).Info("result saved")
	}
	return nil
}

// serveMetrics exposes handler on addr for the duration of a run.
func serveMetrics(addr string, handler http.Handler, log logrus.FieldLogger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
	log.WithField("addr", ln.Addr().String()).Info("serving run metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}
