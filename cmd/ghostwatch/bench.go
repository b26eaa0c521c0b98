package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"runtime/metrics"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/vango-dev/ghostwatch/internal/errors"
	"github.com/vango-dev/ghostwatch/pkg/client"
	"github.com/vango-dev/ghostwatch/pkg/dictionary"
	gwmetrics "github.com/vango-dev/ghostwatch/pkg/metrics"
	"github.com/vango-dev/ghostwatch/pkg/protocol"
	"github.com/vango-dev/ghostwatch/pkg/server"
)

type benchProfile struct {
	Name         string
	Clients      int
	Duration     time.Duration
	RPS          float64
	PayloadBytes int
}

var benchProfiles = map[string]benchProfile{
	"fast":     {Name: "fast", Clients: 20, Duration: 5 * time.Second, RPS: 50, PayloadBytes: 32},
	"standard": {Name: "standard", Clients: 200, Duration: 30 * time.Second, RPS: 200, PayloadBytes: 64},
	"stress":   {Name: "stress", Clients: 1000, Duration: 60 * time.Second, RPS: 1000, PayloadBytes: 128},
}

type benchConfig struct {
	Profile       string
	Clients       int
	Duration      time.Duration
	RPS           float64
	PayloadBytes  int
	Framing       protocol.Framing
	FlushInterval time.Duration
	SwapAt        time.Duration
	JSONOutput    string
}

// benchSink counts WebSocket compression events.
type benchSink struct {
	gwmetrics.Nop
	frames     atomic.Uint64
	original   atomic.Uint64
	compressed atomic.Uint64
	fallbacks  atomic.Uint64
	dropped    atomic.Uint64
}

func (s *benchSink) RecordCompression(proto string, original, compressed int) {
	if proto != gwmetrics.ProtocolWS {
		return
	}
	s.frames.Add(1)
	s.original.Add(uint64(original))
	s.compressed.Add(uint64(compressed))
}

func (s *benchSink) RecordFallback(string) { s.fallbacks.Add(1) }

func (s *benchSink) RecordDropped(_, _ string, n int) { s.dropped.Add(uint64(n)) }

type benchMessage struct {
	Seq    uint64  `json:"seq"`
	Sent   int64   `json:"sent"`
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Host   string  `json:"host"`
	Pad    string  `json:"pad,omitempty"`
}

func benchCmd() *cobra.Command {
	var (
		profile  string
		clients  int
		duration time.Duration
		rps      float64
		payload  int
		framing  string
		flush    time.Duration
		swapAt   time.Duration
		jsonOut  string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run an in-process load benchmark",
		Long: `Start a server on a loopback port, connect many clients to one channel,
publish telemetry at a fixed rate, and report delivery latency,
compression ratio and GC cost.

Examples:
  ghostwatch bench --profile fast
  ghostwatch bench --clients 500 --rps 1000 --swap-at 10s --json report.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, ok := benchProfiles[strings.ToLower(strings.TrimSpace(profile))]
			if !ok {
				return errors.New("E141").WithDetail(fmt.Sprintf("unknown profile %q (fast, standard, stress)", profile))
			}
			f, err := protocol.ParseFraming(framing)
			if err != nil {
				return errors.New("E121").Wrap(err)
			}

			cfg := benchConfig{
				Profile:       base.Name,
				Clients:       base.Clients,
				Duration:      base.Duration,
				RPS:           base.RPS,
				PayloadBytes:  base.PayloadBytes,
				Framing:       f,
				FlushInterval: flush,
				SwapAt:        swapAt,
				JSONOutput:    jsonOut,
			}
			if cmd.Flags().Changed("clients") {
				cfg.Clients = clients
			}
			if cmd.Flags().Changed("duration") {
				cfg.Duration = duration
			}
			if cmd.Flags().Changed("rps") {
				cfg.RPS = rps
			}
			if cmd.Flags().Changed("payload-bytes") {
				cfg.PayloadBytes = payload
			}
			if err := cfg.validate(); err != nil {
				return err
			}

			report, err := runBench(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			writeSummary(os.Stderr, report)
			return writeReport(cfg.JSONOutput, report)
		},
	}

	cmd.Flags().StringVar(&profile, "profile", "fast", "Profile: fast, standard or stress")
	cmd.Flags().IntVar(&clients, "clients", 0, "Number of concurrent clients")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Benchmark duration")
	cmd.Flags().Float64Var(&rps, "rps", 0, "Messages published per second")
	cmd.Flags().IntVar(&payload, "payload-bytes", 0, "Padding bytes per message")
	cmd.Flags().StringVar(&framing, "framing", "tagged", "Data framing: tagged or out-of-band")
	cmd.Flags().DurationVar(&flush, "flush", 100*time.Millisecond, "Batch flush interval")
	cmd.Flags().DurationVar(&swapAt, "swap-at", 0, "Hot-swap the dictionary after this long (0 disables)")
	cmd.Flags().StringVar(&jsonOut, "json", "", "Write the JSON report to this path ('-' for stdout)")

	return cmd
}

func (c benchConfig) validate() error {
	switch {
	case c.Clients <= 0:
		return errors.New("E141").WithDetail("--clients must be > 0")
	case c.Duration <= 0:
		return errors.New("E141").WithDetail("--duration must be > 0")
	case c.RPS <= 0:
		return errors.New("E141").WithDetail("--rps must be > 0")
	case c.PayloadBytes < 0:
		return errors.New("E141").WithDetail("--payload-bytes must be >= 0")
	case c.FlushInterval <= 0:
		return errors.New("E141").WithDetail("--flush must be > 0")
	case c.SwapAt < 0 || (c.SwapAt > 0 && c.SwapAt >= c.Duration):
		return errors.New("E141").WithDetail("--swap-at must fall inside the run")
	}
	return nil
}

// benchDictionary builds a raw dictionary from representative messages.
func benchDictionary(version uint32, payloadBytes int) (*dictionary.Dictionary, error) {
	var b strings.Builder
	for i := range 64 {
		data, _ := json.Marshal(benchMessage{
			Seq:    uint64(i) * 7919,
			Sent:   time.Now().UnixNano(),
			Metric: "cpu_usage",
			Value:  float64(i) * 1.5,
			Host:   fmt.Sprintf("web-%d", i%8),
			Pad:    strings.Repeat("x", payloadBytes),
		})
		b.Write(data)
	}
	return dictionary.New(version, []byte(b.String()), time.Now())
}

type benchCounters struct {
	published atomic.Uint64
	delivered atomic.Uint64
	poison    atomic.Uint64
	dialFails atomic.Uint64
	decodeBad atomic.Uint64
	swaps     atomic.Uint64
}

func runBench(ctx context.Context, cfg benchConfig) (benchReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	initial, err := benchDictionary(1, cfg.PayloadBytes)
	if err != nil {
		return benchReport{}, errors.New("E102").Wrap(err)
	}
	store := dictionary.NewStore(initial)

	sink := &benchSink{}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	sc := server.DefaultConfig()
	sc.Framing = cfg.Framing
	sc.Batch.FlushInterval = cfg.FlushInterval
	sc.Batch.MaxPending = -1
	sc.CheckOrigin = func(*http.Request) bool { return true }
	sc.Logger = quiet
	sc.Metrics = sink
	sc.Gatherer = prometheus.NewRegistry()

	srv, err := server.New(sc, store)
	if err != nil {
		return benchReport{}, errors.New("E140").Wrap(err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return benchReport{}, errors.New("E140").Wrap(err)
	}
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		_ = srv.Serve(ctx, ln)
	}()
	defer func() {
		cancel()
		<-serveDone
	}()

	wsURL := "ws://" + ln.Addr().String() + "/ws"

	var counters benchCounters
	samplesCh := make(chan time.Duration, max(1024, cfg.Clients*4))
	var samples []time.Duration
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for d := range samplesCh {
			samples = append(samples, d)
		}
	}()

	var before runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	beforeMetrics := readRuntimeMetrics()

	clients := dialBenchClients(ctx, wsURL, cfg, &counters, samplesCh)
	waitForConns(srv, len(clients), 5*time.Second)

	start := time.Now()
	runCtx, stop := context.WithTimeout(ctx, cfg.Duration)
	publishLoop(runCtx, srv, cfg, &counters)
	stop()

	// Let the final batch drain.
	time.Sleep(2 * cfg.FlushInterval)
	elapsed := time.Since(start)

	for _, c := range clients {
		counters.poison.Add(c.Stats().Poison)
		c.Close()
	}
	close(samplesCh)
	<-collectorDone

	var after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&after)
	afterMetrics := readRuntimeMetrics()

	slices.Sort(samples)
	return buildReport(cfg, elapsed, samples, &counters, sink, store.Version(), before, after, beforeMetrics, afterMetrics), nil
}

func dialBenchClients(ctx context.Context, wsURL string, cfg benchConfig, counters *benchCounters, samplesCh chan<- time.Duration) []*client.Client {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	var (
		mu      sync.Mutex
		clients []*client.Client
		wg      sync.WaitGroup
	)
	for range cfg.Clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := client.Dial(ctx, client.Config{
				URL:     wsURL,
				Framing: cfg.Framing,
				Logger:  quiet,
			}, func(m client.Message) {
				var msg benchMessage
				if err := json.Unmarshal(m.Data, &msg); err != nil {
					counters.decodeBad.Add(1)
					return
				}
				counters.delivered.Add(1)
				select {
				case samplesCh <- time.Since(time.Unix(0, msg.Sent)):
				default:
				}
			})
			if err != nil {
				counters.dialFails.Add(1)
				return
			}
			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return clients
}

func waitForConns(srv *server.Server, n int, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for srv.Hub().Conns() < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

// publishLoop publishes at cfg.RPS until ctx is done, swapping the
// dictionary once at cfg.SwapAt when set.
func publishLoop(ctx context.Context, srv *server.Server, cfg benchConfig, counters *benchCounters) {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / cfg.RPS))
	defer ticker.Stop()

	var swapC <-chan time.Time
	if cfg.SwapAt > 0 {
		t := time.NewTimer(cfg.SwapAt)
		defer t.Stop()
		swapC = t.C
	}

	pad := strings.Repeat("x", cfg.PayloadBytes)
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-swapC:
			next, err := benchDictionary(srv.Store().NextVersion(), cfg.PayloadBytes)
			if err == nil {
				if err := srv.Coordinator().Swap(ctx, next); err == nil {
					counters.swaps.Add(1)
				}
			}
		case now := <-ticker.C:
			seq++
			msg := benchMessage{
				Seq:    seq,
				Sent:   now.UnixNano(),
				Metric: "cpu_usage",
				Value:  rand.Float64() * 100,
				Host:   fmt.Sprintf("web-%d", seq%8),
				Pad:    pad,
			}
			if err := srv.Publish(server.DefaultChannel, msg); err == nil {
				counters.published.Add(1)
			}
		}
	}
}

type runtimeMetricsSnapshot struct {
	cpuTotalSeconds float64
	cpuGCSeconds    float64
	heapAllocs      uint64
}

func readRuntimeMetrics() runtimeMetricsSnapshot {
	samples := []metrics.Sample{
		{Name: "/cpu/classes/total:cpu-seconds"},
		{Name: "/cpu/classes/gc/total:cpu-seconds"},
		{Name: "/gc/heap/allocs:objects"},
	}
	metrics.Read(samples)

	var out runtimeMetricsSnapshot
	for _, s := range samples {
		switch s.Name {
		case "/cpu/classes/total:cpu-seconds":
			out.cpuTotalSeconds = s.Value.Float64()
		case "/cpu/classes/gc/total:cpu-seconds":
			out.cpuGCSeconds = s.Value.Float64()
		case "/gc/heap/allocs:objects":
			out.heapAllocs = s.Value.Uint64()
		}
	}
	return out
}

func cpuFraction(after, before runtimeMetricsSnapshot) float64 {
	total := after.cpuTotalSeconds - before.cpuTotalSeconds
	if total <= 0 {
		return 0
	}
	gc := after.cpuGCSeconds - before.cpuGCSeconds
	if gc < 0 {
		return 0
	}
	return gc / total
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type benchReport struct {
	Version     string          `json:"version"`
	Run         runInfo         `json:"run"`
	Workload    workloadInfo    `json:"workload"`
	LatencyMS   latencyInfo     `json:"latency_ms"`
	Throughput  throughputInfo  `json:"throughput"`
	Compression compressionInfo `json:"compression"`
	GC          gcInfo          `json:"gc"`
	Errors      errorInfo       `json:"errors"`
}

type runInfo struct {
	Timestamp string `json:"timestamp"`
	Go        string `json:"go"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPUCount  int    `json:"cpu_count"`
	GitCommit string `json:"git_commit,omitempty"`
}

type workloadInfo struct {
	Profile         string  `json:"profile"`
	Clients         int     `json:"clients"`
	DurationMS      int64   `json:"duration_ms"`
	RPS             float64 `json:"rps"`
	PayloadBytes    int     `json:"payload_bytes"`
	Framing         string  `json:"framing"`
	FlushIntervalMS int64   `json:"flush_interval_ms"`
	SwapAtMS        int64   `json:"swap_at_ms,omitempty"`
}

type latencyInfo struct {
	Min float64 `json:"min"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type throughputInfo struct {
	Published        uint64  `json:"published"`
	Delivered        uint64  `json:"delivered"`
	DeliveredPerSec  float64 `json:"delivered_per_sec"`
	DeliveryFraction float64 `json:"delivery_fraction"`
}

type compressionInfo struct {
	Frames            uint64  `json:"frames"`
	OriginalBytes     uint64  `json:"original_bytes"`
	CompressedBytes   uint64  `json:"compressed_bytes"`
	Ratio             float64 `json:"ratio"`
	MessagesPerFrame  float64 `json:"messages_per_frame"`
	Fallbacks         uint64  `json:"fallbacks"`
	Swaps             uint64  `json:"swaps"`
	DictionaryVersion uint32  `json:"dictionary_version"`
}

type gcInfo struct {
	AllocMB       float64 `json:"alloc_mb"`
	HeapLiveMB    float64 `json:"heap_live_mb"`
	NumGC         uint32  `json:"num_gc"`
	PauseTotalMS  float64 `json:"pause_total_ms"`
	GCCPUFraction float64 `json:"gc_cpu_fraction"`
	AllocsObjects uint64  `json:"allocs_objects"`
}

type errorInfo struct {
	DialFailures  uint64 `json:"dial_failures"`
	PoisonFrames  uint64 `json:"poison_frames"`
	DecodeErrors  uint64 `json:"decode_errors"`
	DroppedServer uint64 `json:"dropped_server"`
}

func buildReport(
	cfg benchConfig,
	elapsed time.Duration,
	latencies []time.Duration,
	counters *benchCounters,
	sink *benchSink,
	version uint32,
	before runtime.MemStats,
	after runtime.MemStats,
	beforeMetrics runtimeMetricsSnapshot,
	afterMetrics runtimeMetricsSnapshot,
) benchReport {
	published := counters.published.Load()
	delivered := counters.delivered.Load()
	frames := sink.frames.Load()
	original := sink.original.Load()
	compressed := sink.compressed.Load()

	latency := latencyInfo{}
	if len(latencies) > 0 {
		latency = latencyInfo{
			Min: ms(latencies[0]),
			P50: ms(percentile(latencies, 0.50)),
			P95: ms(percentile(latencies, 0.95)),
			P99: ms(percentile(latencies, 0.99)),
			Max: ms(latencies[len(latencies)-1]),
		}
	}

	var fraction, ratio, perFrame float64
	if published > 0 {
		fraction = float64(delivered) / float64(published*uint64(cfg.Clients))
	}
	if original > 0 {
		ratio = float64(compressed) / float64(original)
	}
	if frames > 0 {
		perFrame = float64(published) / float64(frames)
	}

	return benchReport{
		Version: "1",
		Run: runInfo{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Go:        runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			CPUCount:  runtime.NumCPU(),
			GitCommit: gitCommit(),
		},
		Workload: workloadInfo{
			Profile:         cfg.Profile,
			Clients:         cfg.Clients,
			DurationMS:      cfg.Duration.Milliseconds(),
			RPS:             cfg.RPS,
			PayloadBytes:    cfg.PayloadBytes,
			Framing:         cfg.Framing.String(),
			FlushIntervalMS: cfg.FlushInterval.Milliseconds(),
			SwapAtMS:        cfg.SwapAt.Milliseconds(),
		},
		LatencyMS: latency,
		Throughput: throughputInfo{
			Published:        published,
			Delivered:        delivered,
			DeliveredPerSec:  float64(delivered) / math.Max(0.001, elapsed.Seconds()),
			DeliveryFraction: fraction,
		},
		Compression: compressionInfo{
			Frames:            frames,
			OriginalBytes:     original,
			CompressedBytes:   compressed,
			Ratio:             ratio,
			MessagesPerFrame:  perFrame,
			Fallbacks:         sink.fallbacks.Load(),
			Swaps:             counters.swaps.Load(),
			DictionaryVersion: version,
		},
		GC: gcInfo{
			AllocMB:       float64(after.TotalAlloc-before.TotalAlloc) / (1024 * 1024),
			HeapLiveMB:    float64(after.HeapAlloc) / (1024 * 1024),
			NumGC:         after.NumGC - before.NumGC,
			PauseTotalMS:  ms(time.Duration(after.PauseTotalNs - before.PauseTotalNs)),
			GCCPUFraction: cpuFraction(afterMetrics, beforeMetrics),
			AllocsObjects: afterMetrics.heapAllocs - beforeMetrics.heapAllocs,
		},
		Errors: errorInfo{
			DialFailures:  counters.dialFails.Load(),
			PoisonFrames:  counters.poison.Load(),
			DecodeErrors:  counters.decodeBad.Load(),
			DroppedServer: sink.dropped.Load(),
		},
	}
}

func writeSummary(w io.Writer, r benchReport) {
	fmt.Fprintln(w, "=== GhostWatch Benchmark ===")
	fmt.Fprintf(w, "Profile: %s (%s framing)\n", r.Workload.Profile, r.Workload.Framing)
	fmt.Fprintf(w, "Clients: %d\n", r.Workload.Clients)
	fmt.Fprintf(w, "Duration: %s\n", time.Duration(r.Workload.DurationMS)*time.Millisecond)
	fmt.Fprintf(w, "Publish rate: %.0f msg/s, flush every %dms\n", r.Workload.RPS, r.Workload.FlushIntervalMS)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Published: %d\n", r.Throughput.Published)
	fmt.Fprintf(w, "Delivered: %d (%.1f%%, %.0f/s)\n",
		r.Throughput.Delivered, r.Throughput.DeliveryFraction*100, r.Throughput.DeliveredPerSec)
	fmt.Fprintln(w)

	if r.LatencyMS.Max == 0 {
		fmt.Fprintln(w, "No latency samples recorded.")
	} else {
		fmt.Fprintln(w, "Latency (publish -> batch -> client decode):")
		fmt.Fprintf(w, "  min: %.2f ms\n", r.LatencyMS.Min)
		fmt.Fprintf(w, "  p50: %.2f ms\n", r.LatencyMS.P50)
		fmt.Fprintf(w, "  p95: %.2f ms\n", r.LatencyMS.P95)
		fmt.Fprintf(w, "  p99: %.2f ms\n", r.LatencyMS.P99)
		fmt.Fprintf(w, "  max: %.2f ms\n", r.LatencyMS.Max)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Compression (per channel frame):")
	fmt.Fprintf(w, "  frames:     %d (%.1f msg/frame)\n", r.Compression.Frames, r.Compression.MessagesPerFrame)
	fmt.Fprintf(w, "  bytes:      %d -> %d\n", r.Compression.OriginalBytes, r.Compression.CompressedBytes)
	fmt.Fprintf(w, "  ratio:      %.3f\n", r.Compression.Ratio)
	fmt.Fprintf(w, "  swaps:      %d (now v%d)\n", r.Compression.Swaps, r.Compression.DictionaryVersion)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Go runtime / GC (process-wide):")
	fmt.Fprintf(w, "  alloc:     %.2f MB\n", r.GC.AllocMB)
	fmt.Fprintf(w, "  heap_live: %.2f MB\n", r.GC.HeapLiveMB)
	fmt.Fprintf(w, "  num_gc:    %d\n", r.GC.NumGC)
	fmt.Fprintf(w, "  gc_cpu:    %.2f%%\n", r.GC.GCCPUFraction*100)

	if e := r.Errors; e.DialFailures+e.PoisonFrames+e.DecodeErrors+e.DroppedServer > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: dial=%d poison=%d decode=%d dropped=%d\n",
			e.DialFailures, e.PoisonFrames, e.DecodeErrors, e.DroppedServer)
	}
}

func writeReport(path string, report benchReport) error {
	if path == "" {
		return nil
	}
	var out io.Writer = os.Stdout
	if path != "-" {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func gitCommit() string {
	if val := strings.TrimSpace(os.Getenv("GHOSTWATCH_GIT_COMMIT")); val != "" {
		return val
	}
	out, err := exec.Command("git", "rev-parse", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
