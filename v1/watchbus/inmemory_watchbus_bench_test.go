package watchbus

import (
	"context"
	"strconv"
	"testing"
)

// BenchmarkInMemoryFanOut publishes on one topic watched by many stream
// clients, the shape of the cache event feed.
func BenchmarkInMemoryFanOut(b *testing.B) {
	for _, watchers := range []int{1, 16, 256} {
		b.Run(strconv.Itoa(watchers), func(b *testing.B) {
			bus := NewInMemory()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			for i := 0; i < watchers; i++ {
				ch, err := bus.Watch(ctx, "cache")
				if err != nil {
					b.Fatalf("watch: %v", err)
				}
				go func(c chan []byte) {
					for range c {
					}
				}(ch)
			}
			msg := []byte(`{"type":"stored","key":"rome"}`)
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					_ = bus.Publish(ctx, "cache", msg)
				}
			})
		})
	}
}
