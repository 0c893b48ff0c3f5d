package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/EddyChen/diagno-core/common/llm"
	"github.com/EddyChen/diagno-core/internal/http/handler"
	"github.com/EddyChen/diagno-core/internal/model"
	"github.com/EddyChen/diagno-core/internal/pipeline"
	"github.com/EddyChen/diagno-core/internal/suggestion"
	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf *bytes.Buffer
	switch b := body.(type) {
	case nil:
		buf = &bytes.Buffer{}
	case string:
		buf = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		Expect(err).NotTo(HaveOccurred())
		buf = bytes.NewBuffer(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var resp map[string]any
	ExpectWithOffset(1, json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
	return resp
}

var _ = Describe("CaptureHandler", func() {
	var (
		router *gin.Engine
		svc    *mockCaptureService
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		svc = &mockCaptureService{}
		h := handler.NewCaptureHandler(svc)
		router.POST("/captures", h.Create)
		router.GET("/captures/current", h.Current)
		router.POST("/captures/current/submit", h.Submit)
		router.POST("/captures/current/resolve", h.Resolve)
	})

	It("returns suggestions for a capture", func() {
		var got pipeline.CaptureInput
		svc.captureFn = func(_ context.Context, in pipeline.CaptureInput) (*pipeline.RunResult, error) {
			got = in
			return &pipeline.RunResult{
				RunID:       3,
				Suggestions: []model.Suggestion{{Text: "Reload", Confidence: 0.9}},
				Strategy:    suggestion.StrategyWhole,
			}, nil
		}

		w := doJSON(router, http.MethodPost, "/captures", map[string]any{
			"screenshot": "data:image/png;base64,iVBOR",
			"pageInfo":   map[string]any{"url": "https://a.example", "title": "A"},
			"systemInfo": map[string]any{"platform": "Linux x86_64"},
		})

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(got.PageInfo.URL).To(Equal("https://a.example"))
		Expect(got.SystemInfo.Platform).To(Equal("Linux x86_64"))
		resp := decode(w)
		Expect(resp["runId"]).To(BeEquivalentTo(3))
		Expect(resp["strategy"]).To(Equal("whole"))
		Expect(resp["degraded"]).To(BeFalse())
	})

	It("returns 400 on malformed json", func() {
		w := doJSON(router, http.MethodPost, "/captures", `{`)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	DescribeTable("maps stage errors to status codes",
		func(stageErr *pipeline.StageError, wantCode int) {
			svc.captureFn = func(context.Context, pipeline.CaptureInput) (*pipeline.RunResult, error) {
				return nil, stageErr
			}

			w := doJSON(router, http.MethodPost, "/captures", map[string]any{"screenshot": "x"})

			Expect(w.Code).To(Equal(wantCode))
			resp := decode(w)
			Expect(resp["error"]).To(Equal(stageErr.Message))
			Expect(resp["stage"]).To(Equal(string(stageErr.Stage)))
			Expect(resp["kind"]).To(Equal(string(stageErr.Kind)))
		},
		Entry("invalid capture", &pipeline.StageError{Stage: pipeline.StageUnknown, Kind: pipeline.KindInvalidCapture, Message: "A screenshot is required"}, http.StatusUnprocessableEntity),
		Entry("endpoint missing", &pipeline.StageError{Stage: pipeline.StageOCR, Kind: pipeline.KindEndpointNotConfigured, Message: "OCR service endpoint not configured."}, http.StatusBadRequest),
		Entry("upstream 503", &pipeline.StageError{Stage: pipeline.StageOCR, Kind: pipeline.KindServiceError, Status: 503, Message: "OCR service is unavailable.", Err: &llm.StatusError{StatusCode: 503}}, http.StatusBadGateway),
		Entry("connection", &pipeline.StageError{Stage: pipeline.StageAnalysis, Kind: pipeline.KindConnectionError, Message: "Could not connect"}, http.StatusBadGateway),
		Entry("invalid response", &pipeline.StageError{Stage: pipeline.StageAnalysis, Kind: pipeline.KindInvalidResponse, Message: "Invalid response"}, http.StatusBadGateway),
		Entry("timeout", &pipeline.StageError{Stage: pipeline.StageAnalysis, Kind: pipeline.KindTimeout, Message: "Analysis request timed out"}, http.StatusGatewayTimeout),
	)

	It("reports the upstream status of service errors", func() {
		svc.captureFn = func(context.Context, pipeline.CaptureInput) (*pipeline.RunResult, error) {
			return nil, &pipeline.StageError{Stage: pipeline.StageOCR, Kind: pipeline.KindServiceError, Status: 404, Message: "OCR service not found."}
		}
		w := doJSON(router, http.MethodPost, "/captures", map[string]any{"screenshot": "x"})
		Expect(decode(w)["upstreamStatus"]).To(BeEquivalentTo(404))
	})

	It("returns 409 when superseded", func() {
		svc.captureFn = func(context.Context, pipeline.CaptureInput) (*pipeline.RunResult, error) {
			return nil, pipeline.ErrSuperseded
		}
		w := doJSON(router, http.MethodPost, "/captures", map[string]any{"screenshot": "x"})
		Expect(w.Code).To(Equal(http.StatusConflict))
	})

	It("reports idle when nothing is in flight", func() {
		w := doJSON(router, http.MethodGet, "/captures/current", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		resp := decode(w)
		Expect(resp["state"]).To(Equal("idle"))
		Expect(resp).NotTo(HaveKey("run"))
	})

	It("reports the current run", func() {
		svc.currentFn = func(context.Context) *pipeline.Run {
			return &pipeline.Run{ID: 9, State: pipeline.StateFailed, FailedStage: pipeline.StageOCR, Error: "OCR service is unavailable."}
		}
		w := doJSON(router, http.MethodGet, "/captures/current", nil)
		resp := decode(w)
		Expect(resp["state"]).To(Equal("failed"))
		Expect(resp["run"]).To(HaveKeyWithValue("failedStage", "ocr"))
	})

	It("leaves the screenshot out of the current run", func() {
		run := &pipeline.Run{ID: 9, State: pipeline.StateSuggested, Issue: model.Issue{ID: "ISSUE-1", Screenshot: "iVBORw0KGgo"}}
		svc.currentFn = func(context.Context) *pipeline.Run { return run }

		w := doJSON(router, http.MethodGet, "/captures/current", nil)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).NotTo(ContainSubstring("iVBORw0KGgo"))
		Expect(decode(w)["run"]).To(HaveKeyWithValue("issue", HaveKeyWithValue("id", "ISSUE-1")))
		Expect(run.Issue.Screenshot).To(Equal("iVBORw0KGgo"))
	})

	It("submits with details and run id", func() {
		var got pipeline.SubmitInput
		svc.submitFn = func(_ context.Context, in pipeline.SubmitInput) (*model.Issue, error) {
			got = in
			return &model.Issue{ID: "ISSUE-1", Status: model.IssueStatusSubmitted, Screenshot: "iVBOR"}, nil
		}

		w := doJSON(router, http.MethodPost, "/captures/current/submit", map[string]any{
			"additionalDetails": "only on Safari",
			"runId":             9,
		})

		Expect(w.Code).To(Equal(http.StatusCreated))
		Expect(got).To(Equal(pipeline.SubmitInput{AdditionalDetails: "only on Safari", RunID: 9}))
		resp := decode(w)
		Expect(resp["id"]).To(Equal("ISSUE-1"))
		Expect(resp).NotTo(HaveKey("screenshot"))
	})

	It("submits without a body", func() {
		svc.submitFn = func(context.Context, pipeline.SubmitInput) (*model.Issue, error) {
			return &model.Issue{ID: "ISSUE-2"}, nil
		}
		w := doJSON(router, http.MethodPost, "/captures/current/submit", nil)
		Expect(w.Code).To(Equal(http.StatusCreated))
	})

	DescribeTable("maps submit conflicts",
		func(err error) {
			svc.submitFn = func(context.Context, pipeline.SubmitInput) (*model.Issue, error) {
				return nil, err
			}
			w := doJSON(router, http.MethodPost, "/captures/current/submit", nil)
			Expect(w.Code).To(Equal(http.StatusConflict))
		},
		Entry("no active run", pipeline.ErrNoActiveRun),
		Entry("stale run", pipeline.ErrStaleRun),
		Entry("wrapped", fmt.Errorf("submit: %w", pipeline.ErrNoActiveRun)),
	)

	It("returns 500 when the store fails on submit", func() {
		svc.submitFn = func(context.Context, pipeline.SubmitInput) (*model.Issue, error) {
			return nil, errors.New("disk full")
		}
		w := doJSON(router, http.MethodPost, "/captures/current/submit", nil)
		Expect(w.Code).To(Equal(http.StatusInternalServerError))
	})

	It("resolves the current capture", func() {
		svc.resolveFn = func(context.Context) (string, error) { return "ISSUE-4", nil }
		w := doJSON(router, http.MethodPost, "/captures/current/resolve", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decode(w)).To(Equal(map[string]any{"resolved": true, "issueId": "ISSUE-4"}))
	})
})
