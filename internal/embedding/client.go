package embedding

import (
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Client wraps the OpenAI client for embedding generation.
type Client struct {
	client *openai.Client
}

// NewClient creates an OpenAI client. baseURL may point at any
// OpenAI-compatible embeddings endpoint; empty means the public API.
func NewClient(apiKey, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set (OPENAI_API_KEY)")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	return &Client{client: &client}, nil
}

// OpenAI returns the underlying OpenAI client for non-embedding calls.
func (c *Client) OpenAI() *openai.Client {
	return c.client
}
