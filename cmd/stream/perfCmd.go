package stream

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"github.com/ValentinKolb/sdsio/cmd/util"
	"github.com/ValentinKolb/sdsio/lib/sds"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/ValentinKolb/sdsio/rpc/transport/file"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"io"
	"io/fs"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for stream transports and SDS I/O servers",
		Long:    "",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfNamePrefix       = "__perf"
	perfValueSize        = 4 * 1024
	perfLargeValueSizeKB = 1000
	perfNumThreads       = 4
	perfSkip             = make([]string, 0)

	// perfCounter makes the stream names of a run unique
	perfCounter atomic.Uint64
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. open-close,read)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 4, util.WrapString("Number of parallel streams to use for the benchmark"))
	key = "value-size"
	perfTestCmd.Flags().Int(key, 4*1024, util.WrapString("How many bytes a single write or read moves (in bytes)"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 1000, util.WrapString("How large a single write of the write-large test should be (in KB)"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfValueSize = viper.GetInt("value-size")
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfValueSize <= 0 || perfLargeValueSizeKB <= 0 || perfNumThreads <= 0 {
		return fmt.Errorf("value sizes and threads must be positive")
	}
	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for stream transports and SDS I/O servers")

	// Print configuration
	conf := svc.Config()
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(conf.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Printf("Value Size: %d bytes\n", perfValueSize)
	fmt.Println()

	fmt.Println("starting tests...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	openCloseResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("open-close") {
			return
		}

		names := newNameSet("open-close")
		b.Cleanup(names.cleanup)

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				name := names.next()
				h, err := svc.Open(name, common.ModeWrite)
				if err != nil {
					log.Printf("(open-close) - error opening %s: %v\n", name, err)
					continue
				}
				if err := svc.Close(h); err != nil {
					log.Printf("(open-close) - error closing %s: %v\n", name, err)
				}
			}
		})
	})

	results["open-close"] = openCloseResult
	printResult("open-close", openCloseResult)

	writeResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("write") {
			return
		}
		benchmarkWrite(b, "write", make([]byte, perfValueSize))
	})

	results["write"] = writeResult
	printResult("write", writeResult)

	writeLargeResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("write-large") {
			return
		}
		benchmarkWrite(b, "write-large", make([]byte, perfLargeValueSizeKB*1024))
	})

	results["write-large"] = writeLargeResult
	printResult("write-large", writeLargeResult)

	readResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("read") {
			return
		}

		names := newNameSet("read")
		b.Cleanup(names.cleanup)
		name := names.next()

		// prepare the stream
		value := make([]byte, perfValueSize)
		w, err := svc.OpenStream(name, common.ModeWrite)
		if err != nil {
			b.Fatalf("(read) - error opening %s for writing: %v", name, err)
		}
		for i := 0; i < b.N; i++ {
			if _, err := copyToStream(w, bytes.NewReader(value), perfValueSize); err != nil {
				b.Fatalf("(read) - error preparing %s: %v", name, err)
			}
		}
		if err := w.Close(); err != nil {
			b.Fatalf("(read) - error closing %s: %v", name, err)
		}

		b.SetBytes(int64(perfValueSize))

		b.ResetTimer()

		r, err := svc.OpenStream(name, common.ModeRead)
		if err != nil {
			b.Fatalf("(read) - error opening %s for reading: %v", name, err)
		}
		defer r.Close()

		buf := make([]byte, perfValueSize)
		for i := 0; i < b.N; i++ {
			if err := readFull(r, buf); err != nil {
				b.Fatalf("(read) - error reading %s: %v", name, err)
			}
		}
	})

	results["read"] = readResult
	printResult("read", readResult)

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, &conf); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// benchmarkWrite writes value once per operation, every goroutine uses its own stream
func benchmarkWrite(b *testing.B, test string, value []byte) {
	names := newNameSet(test)
	b.Cleanup(names.cleanup)

	b.SetBytes(int64(len(value)))
	b.SetParallelism(perfNumThreads)

	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		name := names.next()
		st, err := svc.OpenStream(name, common.ModeWrite)
		if err != nil {
			log.Printf("(%s) - error opening %s: %v\n", test, name, err)
			for pb.Next() {
			}
			return
		}
		defer func() {
			if err := st.Close(); err != nil {
				log.Printf("(%s) - error closing %s: %v\n", test, name, err)
			}
		}()

		for pb.Next() {
			if _, err := st.Write(value); err != nil {
				log.Printf("(%s) - error writing %s: %v\n", test, name, err)
			}
		}
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// nameSet hands out unique stream names and removes the files they left in
// the directory of the file transport
type nameSet struct {
	prefix string
	mu     sync.Mutex
	names  []string
}

func newNameSet(test string) *nameSet {
	return &nameSet{prefix: fmt.Sprintf("%s-%s-%d", perfNamePrefix, test, perfCounter.Add(1))}
}

func (n *nameSet) next() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	name := fmt.Sprintf("%s-%d", n.prefix, len(n.names))
	n.names = append(n.names, name)
	return name
}

func (n *nameSet) cleanup() {
	n.mu.Lock()
	defer n.mu.Unlock()
	dir := svc.Config().File.Dir
	for _, name := range n.names {
		if err := os.Remove(file.Path(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Printf("error removing %s: %v\n", name, err)
		}
	}
}

// readFull fills buf from st, timed out reads are retried
func readFull(st *sds.Stream, buf []byte) error {
	for off := 0; off < len(buf); {
		n, err := st.Read(buf[off:])
		off += n
		if errors.Is(err, sds.ErrTimeout) {
			continue
		}
		if errors.Is(err, io.EOF) && off < len(buf) {
			return io.ErrUnexpectedEOF
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	}
	return nil
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\t%.2f MB/s\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec, megabytesPerSec(result))
}

func megabytesPerSec(result testing.BenchmarkResult) float64 {
	if result.Bytes <= 0 || result.T <= 0 {
		return 0
	}
	return float64(result.Bytes) * float64(result.N) / 1e6 / result.T.Seconds()
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ServiceConfig) error {
	csvFile, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer csvFile.Close()

	writer := csv.NewWriter(csvFile)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "MBPerSec", "Skipped",
		"Routes", "Timeout", "FrameSize", "BufferSize", "Serializer",
		"Threads", "ValueSize", "LargeValueSizeKB",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	routes := make([]string, 0, len(config.Routes))
	for _, r := range config.Routes {
		routes = append(routes, r.Pattern+"="+string(r.Transport))
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			fmt.Sprintf("%.2f", megabytesPerSec(result)),
			skipped,
			strings.Join(routes, ";"),
			config.Timeout.String(),
			strconv.Itoa(config.FrameSize),
			strconv.Itoa(config.BufferSize),
			config.Serializer,
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfValueSize),
			strconv.Itoa(perfLargeValueSizeKB),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
