package store_test

import (
	"context"
	"fmt"

	"github.com/EddyChen/diagno-core/internal/model"
	"github.com/EddyChen/diagno-core/internal/store"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func newIssue(url, title string) model.Issue {
	return model.Issue{
		PageInfo:    model.PageInfo{URL: url, Title: title},
		Screenshot:  "iVBORw0KGgo",
		OCRText:     "Error 500",
		Suggestions: []model.Suggestion{{Text: "Reload the page", Confidence: 0.6}},
	}
}

var _ = Describe("IssueStore", func() {
	var (
		ctx    context.Context
		kv     store.KV
		lim    *limits
		issues store.IssueStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		kv = store.NewMemoryKV()
		lim = &limits{issues: 3, logs: 10}
		issues = store.NewStores(kv, lim).Issues()
	})

	It("returns an empty, non-nil list when nothing is stored", func() {
		list, err := issues.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).NotTo(BeNil())
		Expect(list).To(BeEmpty())
	})

	It("assigns id, status and timestamp on add", func() {
		in := newIssue("https://shop.example/checkout", "Checkout")
		in.Status = model.IssueStatusResolved

		got, err := issues.Add(ctx, in)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(MatchRegexp(`^ISSUE-[0-9A-Z]+$`))
		Expect(got.Status).To(Equal(model.IssueStatusSubmitted))
		Expect(got.Timestamp).NotTo(BeZero())
		Expect(got.UpdatedAt).To(BeNil())
	})

	It("keeps newest first and evicts the oldest beyond capacity", func() {
		var ids []string
		for i := range 4 {
			got, err := issues.Add(ctx, newIssue(fmt.Sprintf("https://a.example/%d", i), "t"))
			Expect(err).NotTo(HaveOccurred())
			ids = append(ids, got.ID)
		}

		list, err := issues.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(3))
		Expect(list[0].ID).To(Equal(ids[3]))
		Expect(list[2].ID).To(Equal(ids[1]))
	})

	It("evicts only one entry per insert after the capacity is lowered", func() {
		for range 3 {
			_, err := issues.Add(ctx, newIssue("https://a.example", "t"))
			Expect(err).NotTo(HaveOccurred())
		}
		lim.set(1, 10)

		_, err := issues.Add(ctx, newIssue("https://a.example", "t"))
		Expect(err).NotTo(HaveOccurred())

		list, err := issues.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(3))
	})

	It("persists the collection under the issues key", func() {
		_, err := issues.Add(ctx, newIssue("https://a.example", "t"))
		Expect(err).NotTo(HaveOccurred())

		raw, err := kv.Get(ctx, store.KeyIssues)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(ContainSubstring(`"pageInfo"`))
		Expect(string(raw)).To(ContainSubstring(`"ocrText":"Error 500"`))
	})

	Describe("UpdateStatus", func() {
		It("sets status and updatedAt for a known id", func() {
			added, err := issues.Add(ctx, newIssue("https://a.example", "t"))
			Expect(err).NotTo(HaveOccurred())

			Expect(issues.UpdateStatus(ctx, added.ID, model.IssueStatusResolved)).To(Succeed())

			got, err := issues.GetByID(ctx, added.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(model.IssueStatusResolved))
			Expect(got.UpdatedAt).NotTo(BeNil())
		})

		It("is a no-op for an unknown id", func() {
			_, err := issues.Add(ctx, newIssue("https://a.example", "t"))
			Expect(err).NotTo(HaveOccurred())
			before, _ := kv.Get(ctx, store.KeyIssues)

			Expect(issues.UpdateStatus(ctx, "ISSUE-MISSING", model.IssueStatusResolved)).To(Succeed())

			after, _ := kv.Get(ctx, store.KeyIssues)
			Expect(after).To(Equal(before))
		})

		It("does not write when the store is empty", func() {
			broken := &brokenKV{}
			s := store.NewStores(broken, lim).Issues()

			Expect(s.UpdateStatus(ctx, "ISSUE-X", model.IssueStatusResolved)).To(Succeed())
			Expect(broken.sets).To(BeZero())
		})
	})

	It("returns ErrNotFound for an unknown id", func() {
		_, err := issues.GetByID(ctx, "ISSUE-NOPE")
		Expect(err).To(MatchError(store.ErrNotFound))
	})

	It("surfaces persistence failures on add", func() {
		s := store.NewStores(&brokenKV{}, lim).Issues()
		_, err := s.Add(ctx, newIssue("https://a.example", "t"))
		Expect(err).To(MatchError(errBroken))
	})

	Describe("Search", func() {
		var resolvedID string

		BeforeEach(func() {
			lim.set(10, 10)
			a, err := issues.Add(ctx, newIssue("https://shop.example/checkout", "Checkout"))
			Expect(err).NotTo(HaveOccurred())
			b := newIssue("https://blog.example/post", "My Post")
			b.AdditionalDetails = "Comments never load"
			_, err = issues.Add(ctx, b)
			Expect(err).NotTo(HaveOccurred())
			resolvedID = a.ID
			Expect(issues.UpdateStatus(ctx, resolvedID, model.IssueStatusResolved)).To(Succeed())
		})

		DescribeTable("filters by query and status",
			func(filter store.IssueFilter, wantLen int) {
				got, err := issues.Search(ctx, filter)
				Expect(err).NotTo(HaveOccurred())
				Expect(got).To(HaveLen(wantLen))
			},
			Entry("everything", store.IssueFilter{}, 2),
			Entry("all status", store.IssueFilter{Status: "all"}, 2),
			Entry("resolved only", store.IssueFilter{Status: model.IssueStatusResolved}, 1),
			Entry("url match, case-insensitive", store.IssueFilter{Query: "SHOP.example"}, 1),
			Entry("title match", store.IssueFilter{Query: "my post"}, 1),
			Entry("details match", store.IssueFilter{Query: "never load"}, 1),
			Entry("id prefix", store.IssueFilter{Query: "issue-"}, 2),
			Entry("query and status", store.IssueFilter{Query: "blog", Status: model.IssueStatusResolved}, 0),
			Entry("no match", store.IssueFilter{Query: "zzz"}, 0),
		)
	})
})
