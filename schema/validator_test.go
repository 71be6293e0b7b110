package modelschema

import (
	"encoding/json"
	"testing"
)

const validModelList = `[
  {
    "id": 1,
    "name": "english-chained",
    "version": 3,
    "filename_prefix": "en_chained_v3",
    "language": "en",
    "chained": true,
    "model_1": "lr",
    "vectorizer_1": "tfidf",
    "model_2": "nb",
    "vectorizer_2": "embeddings"
  },
  {
    "id": 2,
    "name": "korean-single",
    "version": 1,
    "filename_prefix": "ko_single_v1",
    "language": "ko",
    "model_1": "nb",
    "vectorizer_1": "embeddings"
  }
]`

func TestValidateModelListAccepted(t *testing.T) {
	t.Parallel()

	if err := ValidateModelList(json.RawMessage(validModelList)); err != nil {
		t.Fatalf("valid model list rejected: %v", err)
	}
}

func TestValidateModelListRejected(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload string
	}{
		{name: "empty list", payload: `[]`},
		{name: "not a list", payload: `{"id": 1}`},
		{
			name:    "missing filename_prefix",
			payload: `[{"id": 1, "name": "m", "version": 1, "language": "en", "model_1": "lr", "vectorizer_1": "tfidf"}]`,
		},
		{
			name:    "bad model kind",
			payload: `[{"id": 1, "name": "m", "version": 1, "filename_prefix": "p", "language": "en", "model_1": "svm", "vectorizer_1": "tfidf"}]`,
		},
		{
			name:    "chained without second stage",
			payload: `[{"id": 1, "name": "m", "version": 1, "filename_prefix": "p", "language": "en", "chained": true, "model_1": "lr", "vectorizer_1": "tfidf"}]`,
		},
		{name: "trailing data", payload: `[] []`},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := ValidateModelList(json.RawMessage(tc.payload)); err == nil {
				t.Fatalf("expected rejection for %s", tc.name)
			}
		})
	}
}
