package cmd

import (
	"strings"

	"github.com/tracewatch/sentinel/pkg/persistence"
	"github.com/tracewatch/sentinel/pkg/persistence/file"
	"github.com/tracewatch/sentinel/pkg/persistence/redis"
)

var supportedPersistenceProviders = []string{"file", "redis"}

// NewPersistence picks a persistence backend from the database URL scheme.
// A bare path or a file:// URL selects the file store; redis:// selects
// Redis.
func NewPersistence(databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "redis":
		return redis.NewPersistence(databaseURL)
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://")), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.Split(databaseURL, "://")

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
