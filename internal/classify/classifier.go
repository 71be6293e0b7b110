package classify

import (
	"context"
	"fmt"
)

// StageScorer turns a batch of texts into per-text probabilities in
// [0, 1]. Implementations are opaque: the router never looks inside a
// stage, it only combines outputs.
type StageScorer interface {
	Score(ctx context.Context, texts []string) ([]float64, error)
}

// Result holds per-text probabilities in input order. Stage2 is empty
// for single-stage classifiers.
type Result struct {
	Stage1   []float64
	Stage2   []float64
	Combined []float64
}

// Classifier scores text batches with one or two stages. For chained
// configs the combined score is the element-wise product of the two
// stage probabilities.
type Classifier struct {
	config ModelConfig
	stage1 StageScorer
	stage2 StageScorer
}

func NewClassifier(cfg ModelConfig, stage1, stage2 StageScorer) (*Classifier, error) {
	if stage1 == nil {
		return nil, fmt.Errorf("model %d has no first stage: %w", cfg.ID, ErrConfiguration)
	}
	if cfg.Chained && stage2 == nil {
		return nil, fmt.Errorf("chained model %d has no second stage: %w", cfg.ID, ErrConfiguration)
	}
	return &Classifier{config: cfg, stage1: stage1, stage2: stage2}, nil
}

func (c *Classifier) Config() ModelConfig {
	return c.config
}

// Score returns probabilities for each text. An empty batch returns an
// empty result without invoking any stage.
func (c *Classifier) Score(ctx context.Context, texts []string) (Result, error) {
	if len(texts) == 0 {
		return Result{Stage1: []float64{}, Stage2: []float64{}, Combined: []float64{}}, nil
	}

	stage1, err := c.stage1.Score(ctx, texts)
	if err != nil {
		return Result{}, fmt.Errorf("model %d stage 1: %w", c.config.ID, err)
	}
	if len(stage1) != len(texts) {
		return Result{}, fmt.Errorf("model %d stage 1 returned %d scores for %d texts", c.config.ID, len(stage1), len(texts))
	}

	if c.stage2 == nil {
		combined := make([]float64, len(stage1))
		copy(combined, stage1)
		return Result{Stage1: stage1, Combined: combined}, nil
	}

	stage2, err := c.stage2.Score(ctx, texts)
	if err != nil {
		return Result{}, fmt.Errorf("model %d stage 2: %w", c.config.ID, err)
	}
	if len(stage2) != len(texts) {
		return Result{}, fmt.Errorf("model %d stage 2 returned %d scores for %d texts", c.config.ID, len(stage2), len(texts))
	}

	combined := make([]float64, len(texts))
	for i := range texts {
		combined[i] = stage1[i] * stage2[i]
	}
	return Result{Stage1: stage1, Stage2: stage2, Combined: combined}, nil
}
