package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/EddyChen/diagno-core/common/llm"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Ollama generator", func() {
	var (
		ctx       context.Context
		generator llm.Generator
	)

	BeforeEach(func() {
		ctx = context.Background()
		generator = llm.NewOllama(nil)
	})

	serve := func(h http.HandlerFunc) string {
		srv := httptest.NewServer(h)
		DeferCleanup(srv.Close)
		return srv.URL + "/api/generate"
	}

	It("sends the generate payload and returns the response text", func() {
		var got map[string]any
		url := serve(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.Method).To(Equal(http.MethodPost))
			Expect(r.Header.Get("Content-Type")).To(Equal("application/json"))
			Expect(json.NewDecoder(r.Body).Decode(&got)).To(Succeed())
			_, _ = w.Write([]byte(`{"model":"minicpm-v:8b","response":"Error 500 on checkout","done":true}`))
		})

		resp, err := generator.Generate(ctx, llm.GenerateRequest{
			URL:     url,
			Model:   "minicpm-v:8b",
			Prompt:  "describe",
			Images:  []string{"iVBORw0KGgo"},
			Options: llm.Options{Temperature: 0.7, TopP: 0.9},
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Text).To(Equal("Error 500 on checkout"))
		Expect(got["model"]).To(Equal("minicpm-v:8b"))
		Expect(got["prompt"]).To(Equal("describe"))
		Expect(got["stream"]).To(BeFalse())
		Expect(got["images"]).To(ConsistOf("iVBORw0KGgo"))
		Expect(got["options"]).To(HaveKeyWithValue("temperature", 0.7))
		Expect(got["options"]).To(HaveKeyWithValue("top_p", 0.9))
	})

	It("omits images when none are given", func() {
		var got map[string]any
		url := serve(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(json.NewDecoder(r.Body).Decode(&got)).To(Succeed())
			_, _ = w.Write([]byte(`{"response":"[]"}`))
		})

		_, err := generator.Generate(ctx, llm.GenerateRequest{URL: url, Model: "m", Prompt: "p"})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).NotTo(HaveKey("images"))
	})

	It("accepts an empty response string", func() {
		url := serve(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"response":""}`))
		})

		resp, err := generator.Generate(ctx, llm.GenerateRequest{URL: url, Model: "m"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Text).To(BeEmpty())
	})

	It("fails with ErrEndpointNotConfigured when the URL is empty", func() {
		_, err := generator.Generate(ctx, llm.GenerateRequest{Model: "m"})
		Expect(err).To(MatchError(llm.ErrEndpointNotConfigured))
	})

	DescribeTable("maps non-2xx statuses to StatusError",
		func(status int) {
			url := serve(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":"boom"}`))
			})

			_, err := generator.Generate(ctx, llm.GenerateRequest{URL: url, Model: "m"})

			var statusErr *llm.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.StatusCode).To(Equal(status))
			Expect(statusErr.Body).To(ContainSubstring("boom"))
		},
		Entry("not found", http.StatusNotFound),
		Entry("internal error", http.StatusInternalServerError),
		Entry("unavailable", http.StatusServiceUnavailable),
		Entry("bad request", http.StatusBadRequest),
	)

	DescribeTable("rejects bodies without a response field",
		func(body string) {
			url := serve(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})

			_, err := generator.Generate(ctx, llm.GenerateRequest{URL: url, Model: "m"})
			Expect(err).To(MatchError(llm.ErrInvalidResponse))
		},
		Entry("missing field", `{"done":true}`),
		Entry("not json", `<html>oops</html>`),
		Entry("wrong type", `{"response":42}`),
	)

	It("returns a ConnectionError when nothing is listening", func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		addr := ln.Addr().String()
		Expect(ln.Close()).To(Succeed())

		_, err = generator.Generate(ctx, llm.GenerateRequest{URL: "http://" + addr + "/api/generate", Model: "m"})

		var connErr *llm.ConnectionError
		Expect(errors.As(err, &connErr)).To(BeTrue())
	})

	It("returns the context error when the deadline passes first", func() {
		release := make(chan struct{})
		url := serve(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			select {
			case <-release:
			case <-r.Context().Done():
			}
		})
		// registered after serve so it runs before the server is closed
		DeferCleanup(func() { close(release) })

		ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		_, err := generator.Generate(ctx, llm.GenerateRequest{URL: url, Model: "m"})
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
	})
})

var _ = Describe("Registry", func() {
	It("defaults to the generate protocol", func() {
		g := llm.NewOllama(nil)
		reg := llm.Registry{llm.ProtocolGenerate: g}

		got, err := reg.For("")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeIdenticalTo(g))
	})

	It("rejects unknown protocols", func() {
		reg := llm.Registry{llm.ProtocolGenerate: llm.NewOllama(nil)}

		_, err := reg.For("grpc")
		Expect(err).To(MatchError(ContainSubstring("unsupported inference protocol")))
	})
})
