package llm

import "fmt"

// ModelID identifies one of the closed set of selectable models
type ModelID string

const (
	// ModelFast is the fast inference provider (Groq, Llama family)
	ModelFast ModelID = "fast"
	// ModelHosted is the hosted multimodal provider (Google Gemini)
	ModelHosted ModelID = "hosted"
	// ModelRetrieval is the retrieval-augmented generation backend
	ModelRetrieval ModelID = "retrieval"
)

// DefaultModel is substituted for any identifier outside the closed set
const DefaultModel = ModelFast

// AllModels lists every selectable model in display order
var AllModels = []ModelID{ModelFast, ModelHosted, ModelRetrieval}

// Provider names for the upstream services behind each model
const (
	ProviderGroq      = "groq"
	ProviderGemini    = "gemini"
	ProviderRetrieval = "rag"
	ProviderFallback  = "fallback"
)

// ModelInfo describes a model for selection UIs
type ModelInfo struct {
	ID          ModelID `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Icon        string  `json:"icon"`
	Configured  bool    `json:"isConfigured"`
}

var catalog = map[ModelID]ModelInfo{
	ModelFast: {
		ID:          ModelFast,
		Name:        "Groq (Llama)",
		Description: "Fast and efficient language model",
		Icon:        "🚀",
	},
	ModelHosted: {
		ID:          ModelHosted,
		Name:        "Google Gemini",
		Description: "Google's advanced AI model",
		Icon:        "💎",
	},
	ModelRetrieval: {
		ID:          ModelRetrieval,
		Name:        "RAG Model",
		Description: "Retrieval-Augmented Generation",
		Icon:        "📚",
	},
}

// Valid reports whether m belongs to the closed set
func (m ModelID) Valid() bool {
	_, ok := catalog[m]
	return ok
}

func (m ModelID) String() string { return string(m) }

// ParseModel returns the ModelID named by s or an error if s is not one of
// the known identifiers. Matching is exact: "Hosted" is not "hosted".
func ParseModel(s string) (ModelID, error) {
	m := ModelID(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown model %q", s)
	}
	return m, nil
}

// NormalizeModel coerces s into the closed set, substituting DefaultModel
// for anything unrecognized (including the empty string).
func NormalizeModel(s string) ModelID {
	m := ModelID(s)
	if !m.Valid() {
		return DefaultModel
	}
	return m
}

// GetModelInfo returns catalog metadata for m
func GetModelInfo(m ModelID) (ModelInfo, error) {
	info, ok := catalog[m]
	if !ok {
		return ModelInfo{}, fmt.Errorf("model %s not found", m)
	}
	return info, nil
}
