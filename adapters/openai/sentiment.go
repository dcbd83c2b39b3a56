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

var sentimentSchema = jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"sentiment": {
			Type:        jsonschema.Number,
			Description: "Overall sentiment score from -1 (negative) to 1 (positive)",
		},
		"emotions": {
			Type:        jsonschema.Object,
			Description: "Emotion scores from 0 to 1",
			Properties: map[string]jsonschema.Definition{
				"joy":      {Type: jsonschema.Number},
				"sadness":  {Type: jsonschema.Number},
				"anger":    {Type: jsonschema.Number},
				"fear":     {Type: jsonschema.Number},
				"surprise": {Type: jsonschema.Number},
				"disgust":  {Type: jsonschema.Number},
			},
		},
		"keywords": {
			Type:        jsonschema.Array,
			Items:       &jsonschema.Definition{Type: jsonschema.String},
			Description: "Key emotional words or phrases",
		},
	},
	Required: []string{"sentiment", "emotions", "keywords"},
}

type sentimentPayload struct {
	Sentiment float64            `json:"sentiment"`
	Emotions  map[string]float64 `json:"emotions"`
	Keywords  []string           `json:"keywords"`
}

// AnalyzeSentiment implements repositories.SentimentAnalyzer
func (c *Client) AnalyzeSentiment(ctx context.Context, text string) (*entities.SentimentResult, error) {
	resp, err := c.api.CreateChatCompletion(ctx, gogpt.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []gogpt.ChatCompletionMessage{
			{
				Role:    gogpt.ChatMessageRoleSystem,
				Content: "You are a sentiment analysis expert. Analyze the emotional content of the text.",
			},
			{
				Role:    gogpt.ChatMessageRoleUser,
				Content: fmt.Sprintf("Analyze the sentiment and emotions in this text: %q", text),
			},
		},
		Temperature: 0.3,
		Functions: []gogpt.FunctionDefinition{{
			Name:        "sentiment_analysis",
			Description: "Analyze sentiment and emotions in text",
			Parameters:  sentimentSchema,
		}},
		FunctionCall: gogpt.FunctionCall{Name: "sentiment_analysis"},
	})
	if err != nil {
		return nil, fmt.Errorf("sentiment analysis request: %w", err)
	}

	payload, err := functionArguments(resp)
	if err != nil {
		return nil, fmt.Errorf("sentiment analysis: %w", err)
	}

	var out sentimentPayload
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("sentiment analysis decode: %w", err)
	}

	result := &entities.SentimentResult{
		Score:    clamp(out.Sentiment, -1, 1),
		Emotions: out.Emotions,
		Keywords: out.Keywords,
	}

	c.logger.Debug("Sentiment analyzed",
		zap.Float64("score", result.Score),
		zap.String("dominant", result.DominantEmotion()))

	return result, nil
}

func functionArguments(resp gogpt.ChatCompletionResponse) (json.RawMessage, error) {
	if len(resp.Choices) == 0 || resp.Choices[0].Message.FunctionCall == nil {
		return nil, fmt.Errorf("no function call in response")
	}
	return json.RawMessage(resp.Choices[0].Message.FunctionCall.Arguments), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
