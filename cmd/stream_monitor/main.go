package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/feellmoose/levelstream"
	"github.com/feellmoose/levelstream/internal/stream"
)

// Stream Monitor Dashboard
// Drives a write workload into a store, copies it into a second store in
// fixed-size ranges and prints live stream statistics.

const refreshInterval = 2 * time.Second

type counters struct {
	written atomic.Int64
	copied  atomic.Int64
	copies  atomic.Int64
	errors  atomic.Int64
}

func main() {
	backend := flag.String("backend", string(levelstream.BackendPebble), "source backend: Memory, MemorySharded, Pebble or LevelDB")
	path := flag.String("path", "", "source data directory (empty = in memory)")
	batchSize := flag.Int("batch", 1000, "batch size of the write streams")
	rangeSize := flag.Int("range", 5000, "keys per copied range")
	logLevel := flag.String("log", "warn", "log level")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║        levelstream Monitor Dashboard                              ║")
	fmt.Println("║        Batch writes, range copies, cursor streams                 ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()

	src, err := levelstream.Open(&levelstream.Options{
		Storage:  &levelstream.StorageOptions{Backend: levelstream.StorageBackendType(*backend), Path: *path},
		LogLevel: *logLevel,
	})
	if err != nil {
		fmt.Printf("Failed to open source store: %v\n", err)
		return
	}
	defer src.Close()

	dst, err := levelstream.Open(&levelstream.Options{
		Storage: &levelstream.StorageOptions{Backend: levelstream.BackendMemorySharded},
	})
	if err != nil {
		fmt.Printf("Failed to open destination store: %v\n", err)
		return
	}
	defer dst.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var c counters
	writerDone := make(chan struct{})
	copierDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		runWriter(ctx, src, *batchSize, &c)
	}()
	go func() {
		defer close(copierDone)
		runCopier(ctx, dst, src, *rangeSize, *batchSize, &c)
	}()

	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	startTime := time.Now()
	var lastWritten, lastCopied int64

	for {
		select {
		case <-sigCh:
			fmt.Println("\n\nShutting down...")
			cancel()
			<-writerDone
			<-copierDone
			return

		case <-ticker.C:
			clearScreen()
			printDashboard(src, dst, &c, startTime, lastWritten, lastCopied)
			lastWritten = c.written.Load()
			lastCopied = c.copied.Load()
		}
	}
}

// runWriter writes sequential keys through a batch stream until ctx ends.
func runWriter(ctx context.Context, db *levelstream.DB, batchSize int, c *counters) {
	w, err := db.BatchStream(&levelstream.BatchOptions{BatchSize: batchSize})
	if err != nil {
		c.errors.Add(1)
		return
	}
	for i := 0; ; i++ {
		key := []byte(fmt.Sprintf("metric:%012d", i))
		value := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
		if err := w.Write(ctx, levelstream.Pair{key, value}); err != nil {
			if ctx.Err() == nil {
				c.errors.Add(1)
			}
			_ = w.Abort(err)
			return
		}
		c.written.Add(1)
	}
}

// runCopier repeatedly copies the next range of rangeSize keys into dst.
func runCopier(ctx context.Context, dst, src *levelstream.DB, rangeSize, batchSize int, c *counters) {
	var next []byte
	for ctx.Err() == nil {
		read := &levelstream.ReadOptions{Gt: next, Limit: rangeSize, HighWaterMark: 256}
		last, n, err := copyRange(ctx, dst, src, read, batchSize)
		if err != nil {
			if ctx.Err() == nil {
				c.errors.Add(1)
			}
			return
		}
		if n == 0 {
			// Caught up with the writer.
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		next = last
		c.copied.Add(int64(n))
		c.copies.Add(1)
	}
}

func copyRange(ctx context.Context, dst, src *levelstream.DB, read *levelstream.ReadOptions, batchSize int) ([]byte, int, error) {
	entries, err := src.EntryStream(read)
	if err != nil {
		return nil, 0, err
	}
	batch, err := dst.BatchStream(&levelstream.BatchOptions{BatchSize: batchSize})
	if err != nil {
		_ = entries.Cancel(err)
		return nil, 0, err
	}

	var last []byte
	n := 0
	w := stream.MapWriter[levelstream.Entry, levelstream.WriteItem](batch, func(e levelstream.Entry) levelstream.WriteItem {
		last = e.Key
		n++
		return e
	})
	if err := levelstream.Pipe(ctx, entries, w); err != nil {
		return nil, 0, err
	}
	return last, n, nil
}

func clearScreen() {
	fmt.Print("\033[H\033[2J")
}

func printDashboard(src, dst *levelstream.DB, c *counters, startTime time.Time, lastWritten, lastCopied int64) {
	srcStats := src.Stats()
	dstStats := dst.Stats()
	written := c.written.Load()
	copied := c.copied.Load()

	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║              levelstream - Real-time Dashboard                     ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Printf("  Uptime: %v\n", time.Since(startTime).Round(time.Second))
	fmt.Printf("  Time: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Println()

	fmt.Println("✍️  WRITE STREAM (source)")
	fmt.Println("────────────────────────────────────────────────────────────────────")
	fmt.Printf("  Items Written:        %10d\n", written)
	fmt.Printf("  Batches Committed:    %10d\n", srcStats.BatchCount)
	fmt.Printf("  Store Size:           %10d (%.2f MB)\n", srcStats.DBSize, float64(srcStats.DBSize)/1024/1024)
	fmt.Println()

	fmt.Println("🔁 RANGE COPIES (source → destination)")
	fmt.Println("────────────────────────────────────────────────────────────────────")
	fmt.Printf("  Entries Copied:       %10d\n", copied)
	fmt.Printf("  Ranges Copied:        %10d\n", c.copies.Load())
	fmt.Printf("  Destination Keys:     %10d\n", dstStats.KeyCount)
	fmt.Printf("  Destination Batches:  %10d\n", dstStats.BatchCount)
	fmt.Println()

	fmt.Println("⚡ STREAM RUNTIME")
	fmt.Println("────────────────────────────────────────────────────────────────────")
	fmt.Printf("  Running Pumps:        %6d\n", stream.RunningPumps())
	fmt.Printf("  Open Cursors:         %6d\n", srcStats.OpenCursors+dstStats.OpenCursors)
	fmt.Printf("  Errors:               %6d\n", c.errors.Load())
	fmt.Println()

	fmt.Println("📈 RATE METRICS (since last update)")
	fmt.Println("────────────────────────────────────────────────────────────────────")
	if lastWritten > 0 {
		deltaTime := refreshInterval.Seconds()
		fmt.Printf("  Writes/sec:           %10.2f K\n", float64(written-lastWritten)/deltaTime/1000)
		fmt.Printf("  Copies/sec:           %10.2f K\n", float64(copied-lastCopied)/deltaTime/1000)
	} else {
		fmt.Printf("  Waiting for traffic...\n")
	}
	fmt.Println()

	fmt.Println("Press Ctrl+C to stop monitoring")
}
