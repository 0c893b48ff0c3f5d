package service

import (
	"github.com/EddyChen/diagno-core/internal/pipeline"
	"github.com/EddyChen/diagno-core/internal/queue"
	"github.com/EddyChen/diagno-core/internal/settings"
	"github.com/EddyChen/diagno-core/internal/store"
)

type Services struct {
	stores       *store.Stores
	settings     *settings.Store
	orchestrator *pipeline.Orchestrator
	producer     queue.Producer
}

func NewServices(stores *store.Stores, settingsStore *settings.Store, orchestrator *pipeline.Orchestrator, producer queue.Producer) *Services {
	if producer == nil {
		producer = queue.NewNoopProducer()
	}
	return &Services{
		stores:       stores,
		settings:     settingsStore,
		orchestrator: orchestrator,
		producer:     producer,
	}
}

func (s *Services) Captures() CaptureService {
	return NewCaptureService(s.orchestrator, s.settings, s.producer, s.stores.Audit())
}

func (s *Services) Issues() IssueService {
	return NewIssueService(s.stores.Issues(), s.stores.Audit())
}

func (s *Services) Settings() SettingsService {
	return NewSettingsService(s.settings, s.stores.Audit())
}

func (s *Services) Audit() AuditService {
	return NewAuditService(s.stores.Audit())
}
