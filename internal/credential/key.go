package credential

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2/google"
)

// IndexingScope is the OAuth scope URL publish notifications require.
const IndexingScope = "https://www.googleapis.com/auth/indexing"

// ParseKey validates service-account key material and returns the client
// email it is issued to. Keys of any other type are rejected.
func ParseKey(jsonKey []byte) (string, error) {
	cfg, err := google.JWTConfigFromJSON(jsonKey, IndexingScope)
	if err != nil {
		return "", fmt.Errorf("parse service-account key: %w", err)
	}
	if cfg.Email == "" {
		return "", errors.New("service-account key has no client_email")
	}
	return cfg.Email, nil
}
