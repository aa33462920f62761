// Command pqbench drives a concurrent throughput benchmark against a
// spraylist.Queue: a configurable number of goroutines hammer Insert,
// DeleteMin, and PeekMin for a fixed duration or operation count, and the
// results are written as CSV.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbrt/spraylist"
	"github.com/mbrt/spraylist/config"
	"github.com/mbrt/spraylist/spray"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

type flags struct {
	threads     int
	duration    time.Duration
	updatePct   int
	initialSize int
	totalOps    int
	csvPath     string
	scaling     bool
	configPath  string
}

func parseFlags(args []string) (flags, error) {
	fs := flag.NewFlagSet("pqbench", flag.ContinueOnError)
	f := flags{}
	fs.IntVar(&f.threads, "threads", 4, "number of concurrent worker goroutines")
	fs.DurationVar(&f.duration, "duration", 2*time.Second, "how long to run each measurement (ignored if --total-ops is set)")
	fs.IntVar(&f.updatePct, "update-pct", 50, "percentage of operations that are Insert/DeleteMin rather than PeekMin, 0-100")
	fs.IntVar(&f.initialSize, "initial-size", 1000, "number of entries to pre-populate before measuring")
	fs.IntVar(&f.totalOps, "total-ops", 0, "fixed number of operations to run; overrides --duration when > 0")
	fs.StringVar(&f.csvPath, "csv", "", "file to write CSV results to; empty writes to stdout")
	fs.BoolVar(&f.scaling, "scaling", false, "sweep thread counts 1,2,4,...,--threads instead of a single run")
	fs.StringVar(&f.configPath, "config", "", "JSON file with spray parameters, validated against the embedded schema")

	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	if f.updatePct < 0 || f.updatePct > 100 {
		return flags{}, fmt.Errorf("--update-pct must be in [0, 100], got %d", f.updatePct)
	}
	if f.threads < 1 {
		return flags{}, fmt.Errorf("--threads must be >= 1, got %d", f.threads)
	}
	return f, nil
}

func run(args []string) int {
	f, err := parseFlags(args)
	if err != nil {
		slog.Error("argument parsing failed", "error", err)
		return 2
	}

	params := spray.DefaultParams()
	if f.configPath != "" {
		params, err = loadParams(f.configPath)
		if err != nil {
			slog.Error("failed to load spray configuration", "path", f.configPath, "error", err)
			return 1
		}
	}

	threadCounts := []int{f.threads}
	if f.scaling {
		threadCounts = scalingSweep(f.threads)
	}

	out := os.Stdout
	if f.csvPath != "" {
		file, err := os.Create(f.csvPath)
		if err != nil {
			slog.Error("failed to create CSV output file", "path", f.csvPath, "error", err)
			return 1
		}
		defer file.Close()
		out = file
	}

	w := csv.NewWriter(out)
	defer w.Flush()
	if err := w.Write([]string{
		"threads", "duration_seconds", "operations", "throughput_ops_per_sec",
		"success_rate", "insert_count", "delete_count", "peek_count",
	}); err != nil {
		slog.Error("failed to write CSV header", "error", err)
		return 1
	}

	for _, threads := range threadCounts {
		r := runOnce(params, threads, f.duration, f.totalOps, f.updatePct, f.initialSize)
		if err := w.Write(r.csvRow()); err != nil {
			slog.Error("failed to write CSV row", "error", err)
			return 1
		}
		w.Flush()
	}
	return 0
}

func loadParams(path string) (spray.Params, error) {
	file, err := os.Open(path)
	if err != nil {
		return spray.Params{}, fmt.Errorf("opening config file: %w", err)
	}
	defer file.Close()

	sch, err := config.NewSchema()
	if err != nil {
		return spray.Params{}, fmt.Errorf("compiling config schema: %w", err)
	}
	return sch.Load(file)
}

// scalingSweep returns the powers of two from 1 up to max, followed by max
// itself when it is not a power of two.
func scalingSweep(max int) []int {
	var counts []int
	for n := 1; n <= max; n *= 2 {
		counts = append(counts, n)
	}
	if len(counts) == 0 || counts[len(counts)-1] != max {
		counts = append(counts, max)
	}
	return counts
}

type result struct {
	threads     int
	elapsed     time.Duration
	operations  int64
	successes   int64
	insertCount int64
	deleteCount int64
	peekCount   int64
}

func (r result) csvRow() []string {
	throughput := float64(r.operations) / r.elapsed.Seconds()
	successRate := 0.0
	if r.operations > 0 {
		successRate = float64(r.successes) / float64(r.operations)
	}
	return []string{
		strconv.Itoa(r.threads),
		strconv.FormatFloat(r.elapsed.Seconds(), 'f', 6, 64),
		strconv.FormatInt(r.operations, 10),
		strconv.FormatFloat(throughput, 'f', 2, 64),
		strconv.FormatFloat(successRate, 'f', 4, 64),
		strconv.FormatInt(r.insertCount, 10),
		strconv.FormatInt(r.deleteCount, 10),
		strconv.FormatInt(r.peekCount, 10),
	}
}

// runOnce populates a fresh queue, then drives threads goroutines against
// it for duration (or until totalOps operations have run, if > 0), mixing
// Insert/DeleteMin/PeekMin according to updatePct.
func runOnce(params spray.Params, threads int, duration time.Duration, totalOps, updatePct, initialSize int) result {
	q, err := spraylist.WithParams[int, int](params)
	if err != nil {
		// params is either DefaultParams (which passes Params.Validate) or
		// the result of Schema.Load (which calls it); reaching here would be
		// a programming error in this command, not bad input.
		panic(fmt.Sprintf("pqbench: invalid spray params: %v", err))
	}
	q.SetNumThreads(threads)

	seed := rand.New(rand.NewSource(1))
	for i := 0; i < initialSize; i++ {
		q.Insert(seed.Int(), i)
	}

	var ops, successes, inserts, deletes, peeks atomic.Int64
	deadline := time.Now().Add(duration)
	useOpBudget := totalOps > 0
	var opBudget atomic.Int64
	opBudget.Store(int64(totalOps))

	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func(workerSeed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(workerSeed))
			for {
				if useOpBudget {
					if opBudget.Add(-1) < 0 {
						return
					}
				} else if time.Now().After(deadline) {
					return
				}
				ops.Add(1)
				if rng.Intn(100) < updatePct {
					if rng.Intn(2) == 0 {
						inserts.Add(1)
						if q.Insert(rng.Int(), 0) {
							successes.Add(1)
						}
					} else {
						deletes.Add(1)
						if _, _, ok := q.DeleteMin(); ok {
							successes.Add(1)
						}
					}
				} else {
					peeks.Add(1)
					if _, ok := q.PeekMin(); ok {
						successes.Add(1)
					}
				}
			}
		}(int64(2 + w))
	}
	wg.Wait()
	elapsed := time.Since(start)

	return result{
		threads:     threads,
		elapsed:     elapsed,
		operations:  ops.Load(),
		successes:   successes.Load(),
		insertCount: inserts.Load(),
		deleteCount: deletes.Load(),
		peekCount:   peeks.Load(),
	}
}
