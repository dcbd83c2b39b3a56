package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	gogpt "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"

	"github.com/elaracare/elara/server/domain/repositories"
)

var replySchema = jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"response": {
			Type:        jsonschema.String,
			Description: "The main therapeutic response to the user",
		},
		"suggestedTechniques": {
			Type:        jsonschema.Array,
			Items:       &jsonschema.Definition{Type: jsonschema.String},
			Description: "Therapeutic techniques being applied",
		},
		"emotionalTone": {
			Type:        jsonschema.String,
			Description: "The emotional tone of the response (supportive, encouraging, calming, etc.)",
		},
		"followUpQuestions": {
			Type:        jsonschema.Array,
			Items:       &jsonschema.Definition{Type: jsonschema.String},
			Description: "Follow-up questions to deepen the conversation",
		},
	},
	Required: []string{"response", "suggestedTechniques", "emotionalTone", "followUpQuestions"},
}

type replyPayload struct {
	Response            string   `json:"response"`
	SuggestedTechniques []string `json:"suggestedTechniques"`
	EmotionalTone       string   `json:"emotionalTone"`
	FollowUpQuestions   []string `json:"followUpQuestions"`
}

// GenerateReply implements repositories.ResponseGenerator
func (c *Client) GenerateReply(ctx context.Context, history []repositories.ChatMessage, mood repositories.MoodContext) (*repositories.Reply, error) {
	messages := make([]gogpt.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, gogpt.ChatCompletionMessage{
		Role:    gogpt.ChatMessageRoleSystem,
		Content: buildSystemPrompt(mood),
	})
	for _, m := range history {
		messages = append(messages, gogpt.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, gogpt.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    messages,
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
		Functions: []gogpt.FunctionDefinition{{
			Name:        "therapeutic_response",
			Description: "Generate a therapeutic response with techniques and follow-up questions",
			Parameters:  replySchema,
		}},
		FunctionCall: gogpt.FunctionCall{Name: "therapeutic_response"},
	})
	if err != nil {
		return nil, fmt.Errorf("reply generation request: %w", err)
	}

	payload, err := functionArguments(resp)
	if err != nil {
		return nil, fmt.Errorf("reply generation: %w", err)
	}

	var out replyPayload
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("reply generation decode: %w", err)
	}
	if out.Response == "" {
		return nil, fmt.Errorf("reply generation: empty response")
	}

	c.logger.Info("Reply generated",
		zap.Strings("techniques", out.SuggestedTechniques),
		zap.String("tone", out.EmotionalTone))

	return &repositories.Reply{
		Text:       out.Response,
		Techniques: out.SuggestedTechniques,
		Tone:       out.EmotionalTone,
		FollowUps:  out.FollowUpQuestions,
	}, nil
}

func buildSystemPrompt(mood repositories.MoodContext) string {
	techniques := "CBT, active listening, empathy"
	if len(mood.Techniques) > 0 {
		techniques = strings.Join(mood.Techniques, ", ")
	}
	userMood := mood.UserMood
	if userMood == "" {
		userMood = "unknown"
	}

	var b strings.Builder
	b.WriteString("You are a compassionate and professional AI therapeutic assistant. ")
	b.WriteString("Your role is to provide supportive, empathetic responses while maintaining appropriate boundaries.\n\n")
	b.WriteString("Guidelines:\n")
	b.WriteString("1. Use therapeutic techniques including: " + techniques + "\n")
	b.WriteString("2. Be empathetic and non-judgmental\n")
	b.WriteString("3. Ask open-ended questions to encourage self-reflection\n")
	b.WriteString("4. Validate feelings while encouraging healthy coping strategies\n")
	b.WriteString("5. Never provide medical diagnoses or medication advice\n")
	b.WriteString("6. If you detect crisis indicators, express concern and suggest professional help\n")
	b.WriteString("7. Maintain a warm, professional tone\n")
	b.WriteString("8. Focus on the user's strengths and resilience\n")
	b.WriteString("9. Current user mood: " + userMood + "\n")
	if mood.InCrisis {
		b.WriteString("10. Crisis language has been detected in this conversation: prioritize safety, express concern, and gently point to professional and emergency resources\n")
	}
	b.WriteString("\nRemember: You are not a replacement for professional therapy. Encourage users to seek professional help when appropriate.")
	return b.String()
}
