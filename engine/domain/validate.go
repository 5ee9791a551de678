package domain

import (
	"fmt"
	"strings"
)

// ValidateQuery checks a raw user query before any embedding is computed.
func ValidateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: empty query", ErrInvalidQuery)
	}
	return nil
}

// ValidateChunk checks a chunk before ingestion. Dimension checks against
// the collection happen in the store; this gate only rejects chunks that
// could never be stored.
func ValidateChunk(c Chunk) error {
	if c.ID == "" {
		return fmt.Errorf("validate: chunk id is empty")
	}
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("validate: chunk %s: text is empty", c.ID)
	}
	if len(c.Embedding) == 0 {
		return fmt.Errorf("validate: chunk %s: embedding is empty", c.ID)
	}
	return nil
}
