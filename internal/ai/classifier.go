package ai

import (
	"context"
	"log"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// sentinelUnknown is returned whenever the oracle cannot be reached or gives
// nothing usable. Downstream parsing treats it like any other delimiter-free
// string, so classifier failure never becomes a pipeline error.
const sentinelUnknown = "UNKNOWN"

const systemPrompt = `You are an inventory assistant for a shop in Kenya.
Users will speak in English, Swahili, or Sheng.
Your job is to classify their intent into one of these strict formats:

1. If they want to SELL something: return "SELL|ItemName|Quantity"
2. If they want to ADD/RESTOCK:   return "ADD|ItemName|Quantity"
3. If they want to CHECK stock:   return "CHECK|ItemName"

Rules:
- Default quantity is 1 if not specified.
- Extract the Item Name cleanly (e.g., "mkate" -> "Bread").
- If you don't understand, return "UNKNOWN".`

// IntentService converts free text into a raw intent string matching the
// pipe-delimited grammar above. Implementations must absorb their own
// failures and return the UNKNOWN sentinel instead of an error.
type IntentService interface {
	Classify(ctx context.Context, userText string) string
}

// Classifier calls the OpenAI chat completion API once per message with the
// fixed instruction prompt at temperature zero. Stateless: no retries, no
// caching, no history.
type Classifier struct {
	client *openai.Client
	model  openai.ChatModel
}

// NewClassifier builds a Classifier from an API key. Extra request options
// (custom base URL, HTTP client) are appended after the key, which lets tests
// point the client at a local server.
func NewClassifier(apiKey string, opts ...option.RequestOption) *Classifier {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := openai.NewClient(opts...)
	return &Classifier{
		client: &client,
		model:  openai.ChatModelGPT4oMini,
	}
}

// Classify sends the user text to the oracle and returns its raw intent
// string. Any transport error or empty completion yields the UNKNOWN
// sentinel.
func (c *Classifier) Classify(ctx context.Context, userText string) string {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userText),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		log.Printf("classifier: %v", err)
		return sentinelUnknown
	}
	if len(resp.Choices) == 0 {
		return sentinelUnknown
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return sentinelUnknown
	}
	return content
}
