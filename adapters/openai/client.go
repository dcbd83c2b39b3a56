package openai

import (
	"go.uber.org/zap"

	gogpt "github.com/sashabaranov/go-openai"
)

// Config holds the OpenAI connection settings
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
}

// Client backs the analysis pipeline and the response generator with the
// OpenAI chat completion API. Structured outputs use function calling so the
// model is forced into the expected JSON shape.
type Client struct {
	api    *gogpt.Client
	config Config
	logger *zap.Logger
}

// NewClient creates an OpenAI-backed client
func NewClient(config Config, logger *zap.Logger) *Client {
	clientConfig := gogpt.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	if config.Model == "" {
		config.Model = gogpt.GPT4TurboPreview
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.Temperature == 0 {
		config.Temperature = 0.7
	}

	return &Client{
		api:    gogpt.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
	}
}
