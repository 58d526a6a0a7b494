package processors

import (
	"context"
	"encoding/json"

	"github.com/jonathan/pipeline-orchestrator/internal/errclass"
	"github.com/jonathan/pipeline-orchestrator/internal/llm"
)

// llmGenerate completes config.prompt. config.json asks the model for JSON and
// returns the decoded document under "json" as well as the raw "text".
type llmGenerate struct {
	client llm.Client
}

func (p *llmGenerate) Execute(ctx context.Context, config map[string]any, _ map[string]any) (map[string]any, error) {
	if p.client == nil {
		return nil, errclass.Validation("llm_generate: no model client configured (set GEMINI_API_KEY)")
	}
	prompt, err := requireString(LLMGenerate, config, "prompt")
	if err != nil {
		return nil, err
	}
	wantJSON, err := boolValue(config, "json")
	if err != nil {
		return nil, err
	}
	maxTokens, err := floatValue(config, "max_output_tokens", 0)
	if err != nil {
		return nil, err
	}

	tier, err := llm.ParseTier(stringValue(config, "tier"))
	if err != nil {
		return nil, errclass.Validation("llm_generate: %v", err)
	}

	req := llm.Request{
		Prompt:          prompt,
		Model:           stringValue(config, "model"),
		Tier:            tier,
		JSON:            wantJSON,
		MaxOutputTokens: int32(maxTokens),
	}
	if _, ok := config["temperature"]; ok {
		t, err := floatValue(config, "temperature", 0)
		if err != nil {
			return nil, err
		}
		temp := float32(t)
		req.Temperature = &temp
	}

	resp, err := p.client.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"text":          resp.Text,
		"model":         resp.Model,
		"prompt_tokens": int(resp.PromptTokens),
		"output_tokens": int(resp.OutputTokens),
	}
	if wantJSON {
		var doc any
		if err := json.Unmarshal([]byte(resp.Text), &doc); err != nil {
			return nil, errclass.Wrap(errclass.KindTransient, "llm_generate: model returned malformed JSON", err)
		}
		out["json"] = doc
	}
	return out, nil
}
