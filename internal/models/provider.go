package models

import (
	"fmt"
	"slices"
	"time"
)

// AIProvider identifies a tagging or embedding backend
type AIProvider string

const (
	ProviderOpenAI      AIProvider = "openAI"
	ProviderAzure       AIProvider = "azure"
	ProviderGoogle      AIProvider = "google"
	ProviderAppleVision AIProvider = "appleVision"
	ProviderLocalCLIP   AIProvider = "localCLIP"
)

// AllProviders lists every known provider in display order
var AllProviders = []AIProvider{
	ProviderOpenAI,
	ProviderAzure,
	ProviderGoogle,
	ProviderAppleVision,
	ProviderLocalCLIP,
}

// IsCloud reports whether the provider sends data off the machine
func (p AIProvider) IsCloud() bool {
	switch p {
	case ProviderOpenAI, ProviderAzure, ProviderGoogle:
		return true
	}
	return false
}

// DisplayName returns a human-readable provider name
func (p AIProvider) DisplayName() string {
	switch p {
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderAzure:
		return "Azure Vision"
	case ProviderGoogle:
		return "Google Vision"
	case ProviderAppleVision:
		return "Apple Vision"
	case ProviderLocalCLIP:
		return "Local CLIP"
	}
	return string(p)
}

// Valid reports whether p is a known provider
func (p AIProvider) Valid() bool {
	return slices.Contains(AllProviders, p)
}

// ParseAIProvider converts a configuration string into a provider
func ParseAIProvider(s string) (AIProvider, error) {
	p := AIProvider(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown AI provider: %q", s)
	}
	return p, nil
}

// AITag is one annotation produced by an AI provider
type AITag struct {
	ID         string     `json:"id"`
	Provider   AIProvider `json:"provider"`
	Labels     []string   `json:"labels"`
	Caption    string     `json:"caption"`
	Confidence float64    `json:"confidence"` // 0.0 - 1.0
	Timestamp  time.Time  `json:"timestamp"`
}

// Clone returns a deep copy of the tag
func (t AITag) Clone() AITag {
	t.Labels = slices.Clone(t.Labels)
	return t
}

// Embedding is a provider-specific feature vector
type Embedding struct {
	Provider AIProvider `json:"provider"`
	Vector   []float32  `json:"vector"`
}

// Clone returns a deep copy of the embedding
func (e Embedding) Clone() Embedding {
	e.Vector = slices.Clone(e.Vector)
	return e
}
