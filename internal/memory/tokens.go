package memory

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

const DefaultTokenEncoding = "cl100k_base"

// TokenCounter measures prompt length the way the backend bills it.
type TokenCounter interface {
	Count(text string) (int, error)
}

// TiktokenCounter counts BPE tokens with an OpenAI encoding.
type TiktokenCounter struct {
	codec tokenizer.Codec
}

func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultTokenEncoding
	}
	codec, err := tokenizer.Get(tokenizer.Encoding(encoding))
	if err != nil {
		return nil, fmt.Errorf("failed to load token encoding %q: %w", encoding, err)
	}
	return &TiktokenCounter{codec: codec}, nil
}

func (c *TiktokenCounter) Count(text string) (int, error) {
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
