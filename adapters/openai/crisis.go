package openai

import (
	"context"
	"encoding/json"
	"fmt"

	gogpt "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"

	"github.com/elaracare/elara/server/domain/entities"
)

const crisisSystemPrompt = `You are a mental health crisis detection specialist. Analyze text for crisis indicators including suicidal ideation, self-harm, severe depression, or immediate danger. Be thorough but careful not to over-diagnose.`

var crisisSchema = jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"isCrisis": {
			Type:        jsonschema.Boolean,
			Description: "Whether crisis indicators are present",
		},
		"riskLevel": {
			Type:        jsonschema.String,
			Enum:        []string{"low", "medium", "high", "critical"},
			Description: "Overall risk level assessment",
		},
		"indicators": {
			Type:        jsonschema.Array,
			Items:       &jsonschema.Definition{Type: jsonschema.String},
			Description: "Specific crisis indicators found",
		},
		"suggestedActions": {
			Type:        jsonschema.Array,
			Items:       &jsonschema.Definition{Type: jsonschema.String},
			Description: "Recommended immediate actions",
		},
	},
	Required: []string{"isCrisis", "riskLevel", "indicators", "suggestedActions"},
}

type crisisPayload struct {
	IsCrisis         bool     `json:"isCrisis"`
	RiskLevel        string   `json:"riskLevel"`
	Indicators       []string `json:"indicators"`
	SuggestedActions []string `json:"suggestedActions"`
}

// DetectCrisis implements repositories.CrisisDetector
func (c *Client) DetectCrisis(ctx context.Context, text string) (*entities.CrisisAssessment, error) {
	resp, err := c.api.CreateChatCompletion(ctx, gogpt.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []gogpt.ChatCompletionMessage{
			{Role: gogpt.ChatMessageRoleSystem, Content: crisisSystemPrompt},
			{
				Role:    gogpt.ChatMessageRoleUser,
				Content: fmt.Sprintf("Analyze this text for crisis indicators: %q", text),
			},
		},
		Temperature: 0.1,
		Functions: []gogpt.FunctionDefinition{{
			Name:        "crisis_detection",
			Description: "Detect crisis indicators in text",
			Parameters:  crisisSchema,
		}},
		FunctionCall: gogpt.FunctionCall{Name: "crisis_detection"},
	})
	if err != nil {
		return nil, fmt.Errorf("crisis detection request: %w", err)
	}

	payload, err := functionArguments(resp)
	if err != nil {
		return nil, fmt.Errorf("crisis detection: %w", err)
	}

	var out crisisPayload
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("crisis detection decode: %w", err)
	}

	level := entities.RiskLevel(out.RiskLevel)
	if !level.Valid() {
		level = entities.RiskLevelLow
	}

	assessment := &entities.CrisisAssessment{
		IsCrisis:         out.IsCrisis,
		RiskLevel:        level,
		Indicators:       out.Indicators,
		SuggestedActions: out.SuggestedActions,
	}

	if assessment.IsCrisis {
		c.logger.Warn("Crisis indicators detected",
			zap.String("riskLevel", string(assessment.RiskLevel)),
			zap.Strings("indicators", assessment.Indicators))
	}

	return assessment, nil
}
