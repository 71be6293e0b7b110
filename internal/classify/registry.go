package classify

import (
	"fmt"
	"sync"
)

// StageFactory builds the scorer for one stage of a model config. stage
// is 1 or 2.
type StageFactory func(cfg ModelConfig, stage int) (StageScorer, error)

// Registry routes projects to classifiers by model id. Classifiers are
// built at most once per id, even under concurrent lookups, and are
// read-only after construction.
type Registry struct {
	models  map[int64]ModelConfig
	factory StageFactory

	mu      sync.Mutex
	entries map[int64]*registryEntry
}

type registryEntry struct {
	once       sync.Once
	classifier *Classifier
	err        error
}

func NewRegistry(models []ModelConfig, factory StageFactory) *Registry {
	byID := make(map[int64]ModelConfig, len(models))
	for _, model := range models {
		byID[model.ID] = model
	}
	return &Registry{
		models:  byID,
		factory: factory,
		entries: make(map[int64]*registryEntry),
	}
}

// ClassifierFor returns the cached classifier for a model id, building
// it on first use. An id absent from the model list is a configuration
// error.
func (r *Registry) ClassifierFor(modelID int64) (*Classifier, error) {
	cfg, ok := r.models[modelID]
	if !ok {
		return nil, fmt.Errorf("model id %d is not in the model list: %w", modelID, ErrConfiguration)
	}

	entry := r.entry(modelID)
	entry.once.Do(func() {
		entry.classifier, entry.err = r.build(cfg)
	})
	return entry.classifier, entry.err
}

func (r *Registry) entry(modelID int64) *registryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[modelID]
	if !ok {
		entry = &registryEntry{}
		r.entries[modelID] = entry
	}
	return entry
}

func (r *Registry) build(cfg ModelConfig) (*Classifier, error) {
	if err := validateStage(cfg, cfg.Model1, cfg.Vectorizer1); err != nil {
		return nil, err
	}
	stage1, err := r.factory(cfg, 1)
	if err != nil {
		return nil, fmt.Errorf("build model %d stage 1: %w", cfg.ID, err)
	}

	var stage2 StageScorer
	if cfg.Chained {
		if err := validateStage(cfg, cfg.Model2, cfg.Vectorizer2); err != nil {
			return nil, err
		}
		stage2, err = r.factory(cfg, 2)
		if err != nil {
			return nil, fmt.Errorf("build model %d stage 2: %w", cfg.ID, err)
		}
	}

	return NewClassifier(cfg, stage1, stage2)
}

func validateStage(cfg ModelConfig, model, vectorizer string) error {
	switch model {
	case ModelLogisticRegression, ModelNaiveBayes:
	default:
		return fmt.Errorf("model %d has unknown stage kind %q: %w", cfg.ID, model, ErrConfiguration)
	}

	switch vectorizer {
	case VectorizerTFIDF:
	case VectorizerEmbeddings:
		if !supportsEmbeddings(cfg.Language) {
			return fmt.Errorf("model %d uses embeddings but language %q has no embedding model: %w", cfg.ID, cfg.Language, ErrConfiguration)
		}
	default:
		return fmt.Errorf("model %d has unknown vectorizer %q: %w", cfg.ID, vectorizer, ErrConfiguration)
	}
	return nil
}
