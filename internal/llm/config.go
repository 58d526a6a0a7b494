// Package llm wraps the model provider used by the llm_generate processor.
package llm

import (
	"fmt"
	"strings"
)

// ModelTier lets pipeline definitions ask for a class of model instead of a
// provider-specific model name.
type ModelTier string

const (
	TierLite     ModelTier = "lite"
	TierStandard ModelTier = "standard"
	TierAdvanced ModelTier = "advanced"
)

// ParseTier accepts a tier name in any case. An empty string is TierStandard.
func ParseTier(s string) (ModelTier, error) {
	switch t := ModelTier(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TierStandard, nil
	case TierLite, TierStandard, TierAdvanced:
		return t, nil
	default:
		return "", fmt.Errorf("unknown model tier %q (want lite, standard or advanced)", s)
	}
}

// Provider represents an LLM provider
type Provider string

// ProviderGemini is the Google Gemini provider
const ProviderGemini Provider = "gemini"

// Config maps tiers to model names for one provider.
type Config struct {
	Provider Provider
	Models   map[ModelTier]string
}

// DefaultConfig returns the Gemini tier mapping.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
	}
}

// Resolve picks the model for req: an explicit Model wins, then the tier's
// model, then the standard tier.
func (c *Config) Resolve(req Request) (string, error) {
	if req.Model != "" {
		return req.Model, nil
	}
	tier := req.Tier
	if tier == "" {
		tier = TierStandard
	}
	if model := c.Models[tier]; model != "" {
		return model, nil
	}
	if model := c.Models[TierStandard]; model != "" {
		return model, nil
	}
	return "", fmt.Errorf("no model configured for tier %s", tier)
}
