// Package extract asks a chat completion model to turn a debt message
// into an intent.Draft.
package extract

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/susu3304/qarzbot/internal/intent"
)

const DefaultModel = openai.GPT4oMini

const systemPrompt = `You read short chat messages about money between friends and return one JSON object describing them. Messages mix Uzbek, Russian and English.

Shared expense (one person paid, several people share it):
{"is_group": true, "payer_name": "<name or Men>", "participants": ["<name>", "Men"], "total_amount": <number>, "reason": "<text>", "currency": "som"}
Always list the payer among the participants. The speaker is written as "Men".

Debt between the speaker and one other person:
{"amount": <number>, "currency": "som", "creditor_name": "<lender>", "debtor_name": "<borrower>", "reason": "<text>", "direction": "i_owe" | "owe_me"}
"owe_me" means the other person owes the speaker. "i_owe" means the speaker owes the other person.

Not enough information:
{"clarification_needed": true, "clarification_question": "<one short question>"}

Numbers: "50 ming" is 50000, "150 min" is 150000, "230.000" is 230000. Keep usernames as @username.
Use null for anything the message does not say. Return only the JSON object.`

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
}

// Option configures a Client.
type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func NewClient(apiKey, baseURL string, opts ...Option) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	c := &Client{
		client:      openai.NewClientWithConfig(cfg),
		model:       DefaultModel,
		temperature: 0.3,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Extract returns the model's draft for text. Transport failures are
// returned as they are; an unusable answer wraps intent.ErrExtraction.
func (c *Client) Extract(ctx context.Context, text string) (intent.Draft, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: c.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return intent.Draft{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return intent.Draft{}, fmt.Errorf("%w: empty completion", intent.ErrExtraction)
	}
	return intent.ParseDraft(resp.Choices[0].Message.Content)
}
