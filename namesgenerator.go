package fixtures

import (
	"fmt"
	"strings"

	"github.com/docker/docker/pkg/namesgenerator"
	"github.com/google/uuid"
)

// GetRandomName returns a docker-style name with a short unique suffix.
func GetRandomName(retry int) string {
	return fmt.Sprint(namesgenerator.GetRandomName(retry), "_", uuid.NewString()[:8])
}

// GenerateString returns 32 random lowercase hex characters.
func GenerateString() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
