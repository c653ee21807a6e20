package services

import (
	"slices"
	"unicode/utf8"

	"github.com/MegaGrindStone/thread-chat-ui/internal/models"
	"github.com/pkoukk/tiktoken-go"
)

// messageTokenOverhead is the per-message framing cost chat models charge on top of the content.
const messageTokenOverhead = 4

// TokenCounter estimates how many tokens a conversation costs. The zero value, or a counter whose
// encoding could not be loaded, estimates four characters per token.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter picks the tiktoken encoding of model, falling back to cl100k_base and then to the
// character estimate.
func NewTokenCounter(model string) TokenCounter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			return TokenCounter{}
		}
	}
	return TokenCounter{enc: enc}
}

// Count returns the token cost of messages.
func (c TokenCounter) Count(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += messageTokenOverhead + c.countText(models.RenderContents(msg.Contents, false))
	}
	return total
}

func (c TokenCounter) countText(text string) int {
	if c.enc == nil {
		return (utf8.RuneCountInString(text) + 3) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// TrimHistory drops the oldest messages until the conversation fits in budget tokens. The last message
// is always kept, and the result starts with a user message whenever the input has one. A budget <= 0
// disables trimming.
func TrimHistory(messages []models.Message, budget int, counter TokenCounter) []models.Message {
	if budget <= 0 || len(messages) == 0 {
		return messages
	}

	start := 0
	for start < len(messages)-1 && counter.Count(messages[start:]) > budget {
		start++
	}
	if messages[start].Role == models.RoleUser {
		return messages[start:]
	}
	if i := slices.IndexFunc(messages[start:], isUserMessage); i >= 0 {
		return messages[start+i:]
	}
	// The tail is a single turn still in its tool rounds; it keeps the user message that opened it even
	// past the budget.
	for start > 0 && messages[start].Role != models.RoleUser {
		start--
	}
	return messages[start:]
}

func isUserMessage(msg models.Message) bool {
	return msg.Role == models.RoleUser
}
