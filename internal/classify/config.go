package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	modelschema "github.com/counterdata-network/story-processor/schema"
)

// Stage model kinds and vectorizer kinds as named in the model list.
const (
	ModelLogisticRegression = "lr"
	ModelNaiveBayes         = "nb"

	VectorizerTFIDF      = "tfidf"
	VectorizerEmbeddings = "embeddings"
)

// Languages the embedding vectorizer has models for.
var embeddingLanguages = map[string]struct{}{
	"en": {},
	"ko": {},
}

// ModelListFilename is the on-disk cache of the model-list document.
const ModelListFilename = "language-models.json"

// ModelConfig describes one classifier in the model list. Chained
// configs run two stages whose probabilities are multiplied.
type ModelConfig struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Version        int    `json:"version"`
	FilenamePrefix string `json:"filename_prefix"`
	Language       string `json:"language"`
	Chained        bool   `json:"chained"`
	Model1         string `json:"model_1"`
	Vectorizer1    string `json:"vectorizer_1"`
	Model2         string `json:"model_2,omitempty"`
	Vectorizer2    string `json:"vectorizer_2,omitempty"`
}

// LoadModelList reads the cached model list from configDir.
func LoadModelList(configDir string) ([]ModelConfig, error) {
	path := filepath.Join(configDir, ModelListFilename)
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model list %s: %w", path, err)
	}
	return parseModelList(payload)
}

// FetchModelList downloads the model list, validates it, and replaces the
// cached copy atomically. Version bumps against the previous cache are
// logged so operators can see which models changed.
func FetchModelList(ctx context.Context, client *http.Client, url, configDir string, logger zerolog.Logger) ([]ModelConfig, error) {
	if url == "" {
		return nil, fmt.Errorf("model list URL is empty: %w", ErrConfiguration)
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build model list request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch model list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch model list: unexpected status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read model list response: %w", err)
	}

	models, err := parseModelList(payload)
	if err != nil {
		return nil, err
	}

	logVersionChanges(configDir, models, logger)

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("create config dir %s: %w", configDir, err)
	}
	path := filepath.Join(configDir, ModelListFilename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return nil, fmt.Errorf("write model list cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("replace model list cache: %w", err)
	}

	return models, nil
}

func parseModelList(payload []byte) ([]ModelConfig, error) {
	if err := modelschema.ValidateModelList(payload); err != nil {
		return nil, fmt.Errorf("invalid model list: %w", err)
	}

	var models []ModelConfig
	if err := json.Unmarshal(payload, &models); err != nil {
		return nil, fmt.Errorf("unmarshal model list: %w", err)
	}
	return models, nil
}

func logVersionChanges(configDir string, fetched []ModelConfig, logger zerolog.Logger) {
	previous, err := LoadModelList(configDir)
	if err != nil {
		return
	}

	previousVersions := make(map[int64]int, len(previous))
	for _, model := range previous {
		previousVersions[model.ID] = model.Version
	}
	for _, model := range fetched {
		if old, ok := previousVersions[model.ID]; ok && old != model.Version {
			logger.Info().
				Int64("model_id", model.ID).
				Str("name", model.Name).
				Int("old_version", old).
				Int("new_version", model.Version).
				Msg("model version changed")
		}
	}
}

func supportsEmbeddings(language string) bool {
	_, ok := embeddingLanguages[language]
	return ok
}
