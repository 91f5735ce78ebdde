// Command warp-bench drives a FIFO cache with the read-then-fill pattern of
// the lookup service and reports throughput and hit ratio.
package main

import (
	"flag"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mirkobrombin/warp-aqi/v1/cache"
)

var (
	concurrency = flag.Int("c", 50, "Number of concurrent clients")
	requests    = flag.Int("n", 100000, "Total number of requests")
	keySpace    = flag.Int("keys", 500, "Number of distinct keys requested")
	maxEntries  = flag.Int("max", 100, "Cache capacity")
	ttl         = flag.Duration("ttl", 30*time.Minute, "Entry time to live")
	dataSize    = flag.Int("d", 256, "Data size in bytes")
)

func main() {
	flag.Parse()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if *concurrency <= 0 || *keySpace <= 0 {
		logger.Fatal().Msg("-c and -keys must be positive")
	}
	if *requests < *concurrency {
		logger.Fatal().Int("n", *requests).Int("c", *concurrency).Msg("-n must be at least -c")
	}

	c, err := cache.New[[]byte](*ttl, *maxEntries)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup failed")
	}

	logger.Info().
		Int("requests", *requests).
		Int("concurrency", *concurrency).
		Int("keys", *keySpace).
		Int("max_entries", *maxEntries).
		Dur("ttl", *ttl).
		Msg("starting benchmark")

	val := make([]byte, *dataSize)
	for i := range val {
		val[i] = 'x'
	}

	var wg sync.WaitGroup
	var ops atomic.Int64
	perWorker := *requests / *concurrency

	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for j := 0; j < perWorker; j++ {
				key := "city-" + strconv.Itoa(r.Intn(*keySpace))
				if _, ok := c.Get(key); !ok {
					c.Put(key, val)
				}
				ops.Add(1)
			}
		}(int64(i))
	}
	wg.Wait()
	elapsed := time.Since(start)

	stats := c.Metrics()
	n := ops.Load()
	ratio := 0.0
	if lookups := stats.Hits + stats.Misses; lookups > 0 {
		ratio = float64(stats.Hits) / float64(lookups)
	}
	logger.Info().
		Dur("elapsed", elapsed).
		Float64("req_per_sec", float64(n)/elapsed.Seconds()).
		Float64("avg_latency_ns", elapsed.Seconds()/float64(n)*1e9).
		Float64("hit_ratio", ratio).
		Uint64("evictions", stats.Evictions).
		Uint64("expirations", stats.Expirations).
		Int("size", stats.Size).
		Msg("finished")
}
