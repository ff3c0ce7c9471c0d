/*
 * Copyright (c) 2024, OLA control core contributors.
 */
package loop_test

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/olalite/olad/loop"
)

var _ = Describe("Loop", func() {
	var l *loop.Loop

	BeforeEach(func() {
		l = loop.New()
		go l.Run()
	})

	AfterEach(func() {
		l.Stop()
	})

	Describe("Execute", func() {
		It("runs closures in FIFO submission order", func() {
			var got []int
			done := make(chan struct{})
			for i := 0; i < 20; i++ {
				i := i
				l.Execute(func() {
					got = append(got, i)
					if i == 19 {
						close(done)
					}
				})
			}
			Eventually(done, time.Second).Should(BeClosed())
			Expect(got).To(HaveLen(20))
			for i, v := range got {
				Expect(v).To(Equal(i))
			}
		})
	})

	Describe("AddRead/RemoveRead", func() {
		It("stops delivering callbacks once removed", func() {
			ready := make(chan struct{})
			hits := make(chan struct{}, 8)
			id := l.AddRead(ready, func() { hits <- struct{}{} })

			ready <- struct{}{}
			Eventually(hits, time.Second).Should(Receive())

			l.RemoveRead(id)
			time.Sleep(20 * time.Millisecond)

			select {
			case ready <- struct{}{}:
				Fail("send on ready should have no remaining receiver after RemoveRead")
			default:
			}
		})
	})

	Describe("AddTimeout/CancelTimeout", func() {
		It("suppresses a cancelled one-shot timeout", func() {
			fired := make(chan struct{})
			id := l.AddTimeout(50*time.Millisecond, func() { close(fired) })
			l.CancelTimeout(id)

			Consistently(fired, 150*time.Millisecond).ShouldNot(BeClosed())
		})
	})
})
