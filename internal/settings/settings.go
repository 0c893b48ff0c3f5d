package settings

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/EddyChen/diagno-core/common/llm"
	"github.com/EddyChen/diagno-core/internal/store"
)

//go:embed defaults.json
var defaultsJSON []byte

const (
	defaultMaxIssues          = 50
	defaultMaxLogs            = 1000
	defaultOCRTimeout         = 60 * time.Second
	defaultAnalysisTimeout    = 120 * time.Second
	defaultFallbackConfidence = 0.5

	// maxStageTimeout caps configured timeouts well below time.Duration's range.
	maxStageTimeout = 24 * time.Hour
)

// Service names accepted by ServiceURL.
const (
	ServiceOCR      = "ocr"
	ServiceAnalysis = "analysis"
	ServiceReport   = "report"
)

// Defaults returns a fresh copy of the built-in configuration.
func Defaults() Tree {
	var t Tree
	if err := json.Unmarshal(defaultsJSON, &t); err != nil {
		panic(fmt.Sprintf("settings: embedded defaults are invalid: %v", err))
	}
	return t
}

// Store is the runtime configuration: built-in defaults with the persisted
// override deep-merged on top.
type Store struct {
	kv       store.KV
	defaults Tree

	mu      sync.RWMutex
	current Tree
}

func NewStore(kv store.KV) *Store {
	defaults := Defaults()
	return &Store{
		kv:       kv,
		defaults: defaults,
		current:  deepCopyTree(defaults),
	}
}

// Load reads the persisted configuration and merges it over the defaults.
// With nothing persisted the defaults are used unchanged.
func (s *Store) Load(ctx context.Context) (Tree, error) {
	raw, err := s.kv.Get(ctx, store.KeyConfig)
	if errors.Is(err, store.ErrNotFound) {
		s.mu.Lock()
		s.current = deepCopyTree(s.defaults)
		s.mu.Unlock()
		return s.Current(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	var persisted Tree
	if err := json.Unmarshal(raw, &persisted); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	s.mu.Lock()
	s.current = Merge(s.defaults, persisted)
	s.mu.Unlock()
	return s.Current(), nil
}

// Save merges partial onto the current configuration and persists the result.
// On failure the in-memory configuration is left unchanged.
func (s *Store) Save(ctx context.Context, partial Tree) (Tree, error) {
	return s.SaveValidated(ctx, partial, nil)
}

// SaveValidated is Save with check run against the merged result while the
// store is locked, so no concurrent save can slip in between the check and the
// write. A non-nil error from check is returned as is and nothing is persisted.
func (s *Store) SaveValidated(ctx context.Context, partial Tree, check func(next Tree) error) (Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := Merge(s.current, partial)
	if check != nil {
		if err := check(next); err != nil {
			return nil, err
		}
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	if err := s.kv.Set(ctx, store.KeyConfig, raw); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	s.current = next
	return deepCopyTree(next), nil
}

// Preview returns what the configuration would be after saving partial.
func (s *Store) Preview(partial Tree) Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Merge(s.current, partial)
}

func (s *Store) Current() Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopyTree(s.current)
}

func (s *Store) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := Lookup(s.current, path)
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

// ServiceURL returns the full URL of a named service, or "" when either the
// base URL or the endpoint is unset.
func (s *Store) ServiceURL(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return serviceURL(s.current, name)
}

func serviceURL(tree Tree, name string) string {
	var base, endpoint string
	switch name {
	case ServiceReport:
		base = lookupString(tree, "services.report.baseUrl")
		endpoint = lookupString(tree, "services.report.endpoint")
	case ServiceOCR, ServiceAnalysis:
		base = lookupString(tree, "services.ollama.baseUrl")
		endpoint = lookupString(tree, "services.ollama.endpoints."+name)
	}
	if base == "" || endpoint == "" {
		return ""
	}
	return strings.TrimSuffix(base, "/") + endpoint
}

func (s *Store) MaxIssues(context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return positiveInt(s.current, "storage.maxIssues", defaultMaxIssues)
}

func (s *Store) MaxLogs(context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return positiveInt(s.current, "storage.maxLogs", defaultMaxLogs)
}

func positiveInt(tree Tree, path string, fallback int) int {
	n := int(lookupFloat(tree, path, float64(fallback)))
	if n <= 0 {
		return fallback
	}
	return n
}

// Stage is the resolved configuration of one inference stage.
type Stage struct {
	URL     string
	Model   string
	Timeout time.Duration
}

// Runtime is a typed snapshot of the settings the pipeline reads per run.
type Runtime struct {
	Protocol           string
	OCR                Stage
	Analysis           Stage
	Options            llm.Options
	FallbackConfidence float64
	ReportURL          string
	ForwardReports     bool
}

func (s *Store) Runtime() Runtime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.current

	protocol := lookupString(t, "services.ollama.protocol")
	if protocol == "" {
		protocol = llm.ProtocolGenerate
	}

	fallback := lookupFloat(t, "ollama.fallbackConfidence", defaultFallbackConfidence)
	if fallback < 0 || fallback > 1 {
		fallback = defaultFallbackConfidence
	}

	return Runtime{
		Protocol: protocol,
		OCR: Stage{
			URL:     serviceURL(t, ServiceOCR),
			Model:   lookupString(t, "ollama.models.ocr"),
			Timeout: timeout(t, "ollama.options.timeouts.ocr", defaultOCRTimeout),
		},
		Analysis: Stage{
			URL:     analysisURL(t, protocol),
			Model:   lookupString(t, "ollama.models.analysis"),
			Timeout: timeout(t, "ollama.options.timeouts.analysis", defaultAnalysisTimeout),
		},
		Options: llm.Options{
			Temperature: lookupFloat(t, "ollama.options.temperature", 0.7),
			TopP:        lookupFloat(t, "ollama.options.top_p", 0.9),
			Stream:      lookupBool(t, "ollama.options.stream"),
		},
		FallbackConfidence: fallback,
		ReportURL:          serviceURL(t, ServiceReport),
		ForwardReports:     lookupBool(t, "services.report.forward"),
	}
}

// analysisURL is the generate endpoint for Ollama's native protocols. For the
// openai protocol it is the client base URL, services.ollama.baseUrl joined
// with endpoints.chat; the client appends /chat/completions itself.
func analysisURL(tree Tree, protocol string) string {
	if protocol != llm.ProtocolOpenAI {
		return serviceURL(tree, ServiceAnalysis)
	}
	base := lookupString(tree, "services.ollama.baseUrl")
	if base == "" {
		return ""
	}
	return strings.TrimSuffix(base, "/") + strings.TrimSuffix(lookupString(tree, "services.ollama.endpoints.chat"), "/")
}

func timeout(tree Tree, path string, fallback time.Duration) time.Duration {
	ms := lookupFloat(tree, path, 0)
	if ms <= 0 {
		return fallback
	}
	if ms >= float64(maxStageTimeout/time.Millisecond) {
		return maxStageTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

type Validation struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

// Validate reports every missing required setting in tree.
func Validate(tree Tree) Validation {
	errs := []string{}

	if lookupString(tree, "services.ollama.baseUrl") == "" {
		errs = append(errs, "Ollama base URL is required")
	}
	for _, name := range []string{ServiceOCR, ServiceAnalysis} {
		if lookupString(tree, "services.ollama.endpoints."+name) == "" {
			errs = append(errs, fmt.Sprintf("Endpoint for %s is required", name))
		}
	}
	if lookupString(tree, "services.report.baseUrl") == "" {
		errs = append(errs, "Report service base URL is required")
	}
	if lookupString(tree, "services.report.endpoint") == "" {
		errs = append(errs, "Report service endpoint is required")
	}
	for _, name := range []string{ServiceOCR, ServiceAnalysis} {
		if lookupString(tree, "ollama.models."+name) == "" {
			errs = append(errs, fmt.Sprintf("Ollama model for %s is required", name))
		}
	}

	return Validation{IsValid: len(errs) == 0, Errors: errs}
}

func (s *Store) Validate() Validation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Validate(s.current)
}
