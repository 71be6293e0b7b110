package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultScoringTimeout = 45 * time.Second

	scoringPath = "/score"
)

type scoreRequest struct {
	Model string   `json:"model"`
	Stage int      `json:"stage"`
	Texts []string `json:"texts"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
	Error  string    `json:"error,omitempty"`
}

// httpStage scores batches against the remote scoring service, which
// holds the actual model artifacts.
type httpStage struct {
	endpoint string
	client   *http.Client
	model    string
	stage    int
}

// NewHTTPStageFactory builds stage scorers that call the scoring service
// at endpoint. The service selects the artifact by filename prefix and
// stage number.
func NewHTTPStageFactory(endpoint string, client *http.Client) StageFactory {
	if client == nil {
		client = &http.Client{Timeout: DefaultScoringTimeout}
	}
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")

	return func(cfg ModelConfig, stage int) (StageScorer, error) {
		if endpoint == "" {
			return nil, fmt.Errorf("scoring endpoint is empty: %w", ErrConfiguration)
		}
		return &httpStage{
			endpoint: endpoint,
			client:   client,
			model:    cfg.FilenamePrefix,
			stage:    stage,
		}, nil
	}
}

func (s *httpStage) Score(ctx context.Context, texts []string) ([]float64, error) {
	body, err := json.Marshal(scoreRequest{Model: s.model, Stage: s.stage, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+scoringPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("score %s stage %d: %w", s.model, s.stage, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read score response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("score %s stage %d: status %d: %s", s.model, s.stage, resp.StatusCode, truncateForError(payload))
	}

	var decoded scoreResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decode score response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("score %s stage %d: %s", s.model, s.stage, decoded.Error)
	}
	if len(decoded.Scores) != len(texts) {
		return nil, fmt.Errorf("score %s stage %d: got %d scores for %d texts", s.model, s.stage, len(decoded.Scores), len(texts))
	}
	return decoded.Scores, nil
}

func truncateForError(payload []byte) string {
	const limit = 200
	text := strings.TrimSpace(string(payload))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}
