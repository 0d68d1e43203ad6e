package core

import "github.com/google/uuid"

// NewID returns a random identifier for batches, runs and prompts.
func NewID() string {
	return uuid.NewString()
}
