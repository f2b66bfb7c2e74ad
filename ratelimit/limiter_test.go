package ratelimit_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/emily3403/isisdl-go/catalog"
	"github.com/emily3403/isisdl-go/ratelimit"
)

var _ = Describe("Limiter", func() {
	Describe("buffer sizes", func() {
		It("sums to 1.0 with no registered waiters", func() {
			l := ratelimit.NewFromMbit(10)
			defer l.Stop()

			total := 0.0
			for _, v := range l.BufferSizes() {
				total += v
			}
			Expect(total).To(BeNumerically("~", 1.0, 1e-9))
		})

		It("sums to 1.0 after classes register and unregister", func() {
			l := ratelimit.NewFromMbit(10)
			defer l.Stop()

			l.Register(ratelimit.ClassVideo)
			l.Register(ratelimit.ClassExtern)
			total := 0.0
			for _, v := range l.BufferSizes() {
				total += v
			}
			Expect(total).To(BeNumerically("~", 1.0, 1e-9))

			l.Completed(ratelimit.ClassVideo)
			l.Completed(ratelimit.ClassExtern)
			total = 0.0
			for _, v := range l.BufferSizes() {
				total += v
			}
			Expect(total).To(BeNumerically("~", 1.0, 1e-9))
		})

		It("falls back to free_for_all when nobody is registered", func() {
			l := ratelimit.NewFromMbit(10)
			defer l.Stop()

			sizes := l.BufferSizes()
			Expect(sizes[ratelimit.ClassFreeForAll]).To(BeNumerically("~", 1.0, 1e-9))
		})
	})

	Describe("fairness between two registered classes", func() {
		It("gives extern at least 80% of tokens over steady state, per its normalized score", func() {
			l := ratelimit.NewFromMbit(50)
			defer l.Stop()

			l.Register(ratelimit.ClassExtern)
			l.Register(ratelimit.ClassVideo)
			defer l.Completed(ratelimit.ClassExtern)
			defer l.Completed(ratelimit.ClassVideo)

			var externTokens, videoTokens int
			var mu sync.Mutex
			var wg sync.WaitGroup
			deadline := time.Now().Add(1 * time.Second)

			pull := func(class ratelimit.Class, counter *int) {
				defer wg.Done()
				for time.Now().Before(deadline) {
					tok, ok := l.Get(class)
					if !ok {
						return
					}
					l.ReturnToken(tok.NumBytes)
					mu.Lock()
					*counter++
					mu.Unlock()
				}
			}

			wg.Add(2)
			go pull(ratelimit.ClassExtern, &externTokens)
			go pull(ratelimit.ClassVideo, &videoTokens)
			wg.Wait()

			total := externTokens + videoTokens
			Expect(total).To(BeNumerically(">", 0))
			Expect(float64(externTokens) / float64(total)).To(BeNumerically(">=", 0.8))
		})
	})

	Describe("unlimited limiter", func() {
		It("never blocks Get", func() {
			l := ratelimit.NewUnlimited()
			defer l.Stop()

			for i := 0; i < 1000; i++ {
				_, ok := l.Get(ratelimit.ClassDocument)
				Expect(ok).To(BeTrue())
			}
		})
	})

	Describe("Stop", func() {
		It("wakes every blocked Get with ok=false", func() {
			l := ratelimit.NewFromMbit(0.0001)
			defer GinkgoRecover()

			l.Register(ratelimit.ClassDocument)
			defer l.Completed(ratelimit.ClassDocument)

			done := make(chan bool, 1)
			go func() {
				_, ok := l.Get(ratelimit.ClassVideo)
				done <- ok
			}()

			time.Sleep(50 * time.Millisecond)
			l.Stop()

			select {
			case ok := <-done:
				Expect(ok).To(BeFalse())
			case <-time.After(2 * time.Second):
				Fail("Get did not unblock after Stop")
			}
		})

		It("is safe to call twice", func() {
			l := ratelimit.NewFromMbit(10)
			l.Stop()
			l.Stop()
		})
	})

	Describe("ClassFromMediaClass", func() {
		It("keeps extern and video in their own lane", func() {
			Expect(ratelimit.ClassFromMediaClass(catalog.ClassExtern)).To(Equal(ratelimit.ClassExtern))
			Expect(ratelimit.ClassFromMediaClass(catalog.ClassVideo)).To(Equal(ratelimit.ClassVideo))
		})

		It("routes every other media class through the shared document lane", func() {
			Expect(ratelimit.ClassFromMediaClass(catalog.ClassArchive)).To(Equal(ratelimit.ClassDocument))
			Expect(ratelimit.ClassFromMediaClass(catalog.ClassHardlink)).To(Equal(ratelimit.ClassDocument))
		})
	})
})
