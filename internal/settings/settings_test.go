package settings_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/EddyChen/diagno-core/common/llm"
	"github.com/EddyChen/diagno-core/internal/settings"
	"github.com/EddyChen/diagno-core/internal/store"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var errWrite = errors.New("quota exceeded")

type failingKV struct {
	store.KV
}

func (f failingKV) Set(context.Context, string, []byte) error {
	return errWrite
}

func at(tree settings.Tree, path string) any {
	v, _ := settings.Lookup(tree, path)
	return v
}

func get(s *settings.Store, path string) any {
	v, _ := s.Get(path)
	return v
}

var _ = Describe("Store", func() {
	var (
		ctx context.Context
		kv  store.KV
		s   *settings.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		kv = store.NewMemoryKV()
		s = settings.NewStore(kv)
	})

	Describe("Load", func() {
		It("returns the defaults when nothing is persisted", func() {
			tree, err := s.Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(tree).To(Equal(settings.Defaults()))
		})

		It("merges the persisted configuration over the defaults", func() {
			Expect(kv.Set(ctx, store.KeyConfig, []byte(`{"storage":{"maxIssues":10},"extra":[1,2]}`))).To(Succeed())

			_, err := s.Load(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(s.MaxIssues(ctx)).To(Equal(10))
			Expect(s.MaxLogs(ctx)).To(Equal(1000))
			v, ok := s.Get("extra")
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal([]any{1.0, 2.0}))
		})

		It("fails on a corrupt document", func() {
			Expect(kv.Set(ctx, store.KeyConfig, []byte(`{not json`))).To(Succeed())
			_, err := s.Load(ctx)
			Expect(err).To(MatchError(ContainSubstring("decoding config")))
		})
	})

	Describe("Save", func() {
		It("merges, persists and applies the partial configuration", func() {
			saved, err := s.Save(ctx, settings.Tree{"ollama": map[string]any{"models": map[string]any{"ocr": "llava:13b"}}})
			Expect(err).NotTo(HaveOccurred())
			Expect(at(saved, "ollama.models.ocr")).To(Equal("llava:13b"))

			raw, err := kv.Get(ctx, store.KeyConfig)
			Expect(err).NotTo(HaveOccurred())
			var persisted settings.Tree
			Expect(json.Unmarshal(raw, &persisted)).To(Succeed())
			Expect(at(persisted, "ollama.models.analysis")).To(Equal("deepseek-r1:7b"))

			reloaded := settings.NewStore(kv)
			_, err = reloaded.Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(get(reloaded, "ollama.models.ocr")).To(Equal("llava:13b"))
		})

		It("keeps the in-memory configuration when persistence fails", func() {
			broken := settings.NewStore(failingKV{KV: store.NewMemoryKV()})

			_, err := broken.Save(ctx, settings.Tree{"storage": map[string]any{"maxIssues": 5.0}})
			Expect(err).To(MatchError(errWrite))
			Expect(broken.MaxIssues(ctx)).To(Equal(50))
		})

		It("persists the same configuration when a partial is saved twice", func() {
			partial := settings.Tree{
				"ollama":  map[string]any{"models": map[string]any{"ocr": "llava:13b"}},
				"storage": map[string]any{"maxLogs": 200.0},
				"extra":   []any{"a", "b"},
			}

			once := store.NewMemoryKV()
			_, err := settings.NewStore(once).Save(ctx, partial)
			Expect(err).NotTo(HaveOccurred())

			first, err := s.Save(ctx, partial)
			Expect(err).NotTo(HaveOccurred())
			second, err := s.Save(ctx, partial)
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))

			fromOnce := settings.NewStore(once)
			_, err = fromOnce.Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			fromTwice := settings.NewStore(kv)
			_, err = fromTwice.Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(fromTwice.Current()).To(Equal(fromOnce.Current()))
			Expect(fromTwice.Current()).To(Equal(first))
		})
	})

	Describe("SaveValidated", func() {
		It("passes the merged result to the check", func() {
			var seen settings.Tree
			_, err := s.SaveValidated(ctx, settings.Tree{"storage": map[string]any{"maxIssues": 7.0}}, func(next settings.Tree) error {
				seen = next
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(at(seen, "storage.maxIssues")).To(Equal(7.0))
			Expect(at(seen, "storage.maxLogs")).To(Equal(1000.0))
			Expect(s.MaxIssues(ctx)).To(Equal(7))
		})

		It("neither applies nor persists a rejected configuration", func() {
			errRejected := errors.New("rejected")
			before := s.Current()

			_, err := s.SaveValidated(ctx, settings.Tree{"ollama": map[string]any{"models": map[string]any{"ocr": ""}}}, func(next settings.Tree) error {
				if !settings.Validate(next).IsValid {
					return errRejected
				}
				return nil
			})
			Expect(err).To(MatchError(errRejected))
			Expect(s.Current()).To(Equal(before))

			_, err = kv.Get(ctx, store.KeyConfig)
			Expect(err).To(MatchError(store.ErrNotFound))
		})
	})

	Describe("ServiceURL", func() {
		It("joins base URL and endpoint", func() {
			Expect(s.ServiceURL(settings.ServiceOCR)).To(Equal("http://localhost:11434/api/generate"))
			Expect(s.ServiceURL(settings.ServiceAnalysis)).To(Equal("http://localhost:11434/api/generate"))
			Expect(s.ServiceURL(settings.ServiceReport)).To(Equal("http://localhost:3000/api/issues"))
		})

		It("returns empty when a part is missing", func() {
			_, err := s.Save(ctx, settings.Tree{"services": map[string]any{"ollama": map[string]any{"endpoints": map[string]any{"ocr": ""}}}})
			Expect(err).NotTo(HaveOccurred())

			Expect(s.ServiceURL(settings.ServiceOCR)).To(BeEmpty())
			Expect(s.ServiceURL("unknown")).To(BeEmpty())
		})
	})

	Describe("Validate", func() {
		It("accepts the defaults", func() {
			Expect(s.Validate()).To(Equal(settings.Validation{IsValid: true, Errors: []string{}}))
		})

		It("reports every violation", func() {
			v := settings.Validate(settings.Tree{})
			Expect(v.IsValid).To(BeFalse())
			Expect(v.Errors).To(ConsistOf(
				"Ollama base URL is required",
				"Endpoint for ocr is required",
				"Endpoint for analysis is required",
				"Report service base URL is required",
				"Report service endpoint is required",
				"Ollama model for ocr is required",
				"Ollama model for analysis is required",
			))
		})

		It("reports a single missing model", func() {
			tree := s.Preview(settings.Tree{"ollama": map[string]any{"models": map[string]any{"analysis": nil}}})
			Expect(settings.Validate(tree).Errors).To(Equal([]string{"Ollama model for analysis is required"}))
		})
	})

	Describe("Runtime", func() {
		It("exposes typed stage settings", func() {
			rt := s.Runtime()
			Expect(rt.Protocol).To(Equal(llm.ProtocolGenerate))
			Expect(rt.OCR).To(Equal(settings.Stage{URL: "http://localhost:11434/api/generate", Model: "minicpm-v:8b", Timeout: 60 * time.Second}))
			Expect(rt.Analysis.Timeout).To(Equal(120 * time.Second))
			Expect(rt.Options).To(Equal(llm.Options{Temperature: 0.7, TopP: 0.9}))
			Expect(rt.FallbackConfidence).To(Equal(0.5))
			Expect(rt.ForwardReports).To(BeFalse())
		})

		It("falls back for invalid timeouts and confidence", func() {
			_, err := s.Save(ctx, settings.Tree{"ollama": map[string]any{
				"options":            map[string]any{"timeouts": map[string]any{"ocr": -5.0, "analysis": "soon"}},
				"fallbackConfidence": 7.0,
			}})
			Expect(err).NotTo(HaveOccurred())

			rt := s.Runtime()
			Expect(rt.OCR.Timeout).To(Equal(60 * time.Second))
			Expect(rt.Analysis.Timeout).To(Equal(120 * time.Second))
			Expect(rt.FallbackConfidence).To(Equal(0.5))
		})

		It("caps timeouts too large to represent", func() {
			_, err := s.Save(ctx, settings.Tree{"ollama": map[string]any{
				"options": map[string]any{"timeouts": map[string]any{"ocr": 1e300, "analysis": 9.3e15}},
			}})
			Expect(err).NotTo(HaveOccurred())

			rt := s.Runtime()
			Expect(rt.OCR.Timeout).To(Equal(24 * time.Hour))
			Expect(rt.Analysis.Timeout).To(Equal(24 * time.Hour))
		})

		It("keeps large timeouts below the cap", func() {
			_, err := s.Save(ctx, settings.Tree{"ollama": map[string]any{
				"options": map[string]any{"timeouts": map[string]any{"ocr": 3.6e6}},
			}})
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Runtime().OCR.Timeout).To(Equal(time.Hour))
		})

		It("points the openai protocol at the chat base URL", func() {
			_, err := s.Save(ctx, settings.Tree{"services": map[string]any{"ollama": map[string]any{"protocol": "openai"}}})
			Expect(err).NotTo(HaveOccurred())

			rt := s.Runtime()
			Expect(rt.Protocol).To(Equal(llm.ProtocolOpenAI))
			Expect(rt.Analysis.URL).To(Equal("http://localhost:11434/v1"))
			Expect(rt.OCR.URL).To(Equal("http://localhost:11434/api/generate"))
		})

		It("uses the bare base URL for openai when no chat endpoint is set", func() {
			_, err := s.Save(ctx, settings.Tree{"services": map[string]any{"ollama": map[string]any{
				"baseUrl":   "http://gpu-box:8000/v1/",
				"protocol":  "openai",
				"endpoints": map[string]any{"chat": nil},
			}}})
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Runtime().Analysis.URL).To(Equal("http://gpu-box:8000/v1"))
		})

		It("drives the openai client to the chat completions route", func() {
			paths := make(chan string, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				paths <- r.URL.Path
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"id":"c","object":"chat.completion","created":1,"model":"deepseek-r1:7b",` +
					`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"[]"}}]}`))
			}))
			DeferCleanup(srv.Close)

			_, err := s.Save(ctx, settings.Tree{"services": map[string]any{"ollama": map[string]any{
				"baseUrl":  srv.URL,
				"protocol": "openai",
			}}})
			Expect(err).NotTo(HaveOccurred())

			rt := s.Runtime()
			resp, err := llm.NewOpenAI("", srv.Client()).Generate(ctx, llm.GenerateRequest{
				URL:    rt.Analysis.URL,
				Model:  rt.Analysis.Model,
				Prompt: "analyze",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Text).To(Equal("[]"))
			Expect(paths).To(Receive(Equal("/v1/chat/completions")))
		})
	})

	It("returns copies from Get", func() {
		v, ok := s.Get("ollama.models")
		Expect(ok).To(BeTrue())
		v.(map[string]any)["ocr"] = "mutated"

		Expect(get(s, "ollama.models.ocr")).To(Equal("minicpm-v:8b"))
	})
})
