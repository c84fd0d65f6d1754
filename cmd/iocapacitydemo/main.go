// Command iocapacitydemo drives a Handle with synthetic checkpoint,
// eviction, log, and read traffic and prints the resulting capacity_*
// statistics, the same way the repo's disk-benchmark tooling was used to
// characterize throughput against a budget.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wiredtiger-go/iocapacity/engine"
)

func main() {
	var (
		dataDir      = flag.String("data-dir", "", "directory for segment files (required)")
		totalMBs     = flag.Float64("total-mb-per-sec", 10, "total I/O budget in MiB/s (0 disables throttling)")
		duration     = flag.Duration("duration", 5*time.Second, "how long to drive traffic")
		ckptWorkers  = flag.Int("ckpt-workers", 1, "concurrent checkpoint writers")
		evictWorkers = flag.Int("evict-workers", 4, "concurrent eviction writers")
		logWorkers   = flag.Int("log-workers", 2, "concurrent log writers")
		readWorkers  = flag.Int("read-workers", 4, "concurrent readers")
		recordBytes  = flag.Int("record-bytes", 4096, "bytes per simulated write/read")
	)
	flag.Parse()

	if *dataDir == "" {
		tmp, err := os.MkdirTemp("", "iocapacitydemo-*")
		if err != nil {
			log.Fatalf("creating temp data dir: %v", err)
		}
		defer os.RemoveAll(tmp)
		*dataDir = tmp
	}

	h, err := engine.Open(context.Background(), engine.Config{
		DataDir:          *dataDir,
		TotalBytesPerSec: uint64(*totalMBs * 1024 * 1024),
		MaxFileSize:      64 * 1024 * 1024,
	})
	if err != nil {
		log.Fatalf("opening handle: %v", err)
	}
	defer h.Close()

	stop := time.After(*duration)
	var wg sync.WaitGroup
	var written, read atomic.Int64

	spawn := func(n int, fn func([]byte) error) {
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				buf := make([]byte, *recordBytes)
				rand.New(rand.NewSource(time.Now().UnixNano())).Read(buf)
				for {
					select {
					case <-stop:
						return
					default:
					}
					if err := fn(buf); err != nil {
						log.Printf("write error: %v", err)
						return
					}
					written.Add(int64(len(buf)))
				}
			}()
		}
	}

	spawn(*ckptWorkers, h.WriteCheckpoint)
	spawn(*evictWorkers, h.WriteEviction)
	spawn(*logWorkers, h.WriteLog)

	for i := 0; i < *readWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				h.Read(*recordBytes)
				read.Add(int64(*recordBytes))
			}
		}()
	}

	wg.Wait()

	fmt.Printf("wrote %d bytes, read %d bytes over %s\n", written.Load(), read.Load(), *duration)
	printStats(h.Stats())
}

func printStats(stats map[string]uint64) {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-28s %d\n", k, stats[k])
	}
}
