package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/EddyChen/diagno-core/internal/queue"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func reportMsg(id string, attempt int) queue.Message {
	return queue.Message{ID: id + "-0", IssueID: id, Attempt: attempt}
}

var _ = Describe("Worker", func() {
	var (
		ctx      context.Context
		consumer *fakeConsumer
		report   *fakeSink
		tracker  *fakeSink
		w        *Worker
	)

	BeforeEach(func() {
		ctx = context.Background()
		consumer = &fakeConsumer{}
		report = &fakeSink{name: "report"}
		tracker = &fakeSink{name: "issue_tracker"}
		w = New(consumer, []Sink{report, tracker}, Config{MaxAttempts: 3})
	})

	It("delivers to every sink and acks", func() {
		Expect(w.HandleMessage(ctx, reportMsg("ISSUE-1", 1))).To(Succeed())

		Expect(report.deliveries()).To(Equal([]string{"ISSUE-1"}))
		Expect(tracker.deliveries()).To(Equal([]string{"ISSUE-1"}))
		acked, requeued, dlq := consumer.snapshot()
		Expect(acked).To(Equal([]string{"ISSUE-1-0"}))
		Expect(requeued).To(BeEmpty())
		Expect(dlq).To(BeEmpty())
	})

	It("requeues when a sink fails below the attempt limit", func() {
		tracker.err = errSinkDown

		Expect(w.HandleMessage(ctx, reportMsg("ISSUE-2", 1))).To(Succeed())

		acked, requeued, dlq := consumer.snapshot()
		Expect(acked).To(BeEmpty())
		Expect(requeued).To(Equal([]string{"ISSUE-2-0"}))
		Expect(dlq).To(BeEmpty())
	})

	It("dead-letters once attempts are exhausted", func() {
		report.err = errSinkDown

		Expect(w.HandleMessage(ctx, reportMsg("ISSUE-3", 3))).To(Succeed())

		_, requeued, dlq := consumer.snapshot()
		Expect(requeued).To(BeEmpty())
		Expect(dlq).To(Equal([]string{"ISSUE-3-0"}))
		Expect(tracker.deliveries()).To(BeEmpty())
	})

	It("dead-letters permanent failures on the first attempt", func() {
		report.err = fmt.Errorf("%w: report service returned 400", ErrPermanent)

		Expect(w.HandleMessage(ctx, reportMsg("ISSUE-4", 1))).To(Succeed())

		_, requeued, dlq := consumer.snapshot()
		Expect(requeued).To(BeEmpty())
		Expect(dlq).To(Equal([]string{"ISSUE-4-0"}))
	})

	It("turns a sink panic into a retry", func() {
		report.panicMsg = "boom"

		Expect(w.HandleMessage(ctx, reportMsg("ISSUE-5", 1))).To(Succeed())

		_, requeued, _ := consumer.snapshot()
		Expect(requeued).To(Equal([]string{"ISSUE-5-0"}))
	})

	It("processes batches until stopped", func() {
		consumer.batches = [][]queue.Message{
			{reportMsg("ISSUE-6", 1), reportMsg("ISSUE-7", 1)},
			{reportMsg("ISSUE-8", 1)},
		}

		done := make(chan error, 1)
		go func() {
			done <- w.Run(ctx)
		}()

		Eventually(report.deliveries).Should(Equal([]string{"ISSUE-6", "ISSUE-7", "ISSUE-8"}))
		w.Stop()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("returns when the context is cancelled", func() {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			done <- w.Run(runCtx)
		}()

		cancel()
		Eventually(done, time.Second).Should(Receive(MatchError(context.Canceled)))
	})
})
