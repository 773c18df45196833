package models

import (
	"strings"

	"github.com/google/uuid"
)

// NewID generates the compact hex token used for message, session and row ids.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
