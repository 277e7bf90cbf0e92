package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"metergate/internal/types"
)

const (
	apiKeySecretLength = 32
	apiKeyBcryptCost   = 12
)

// MintAPIKey generates a new API key for the user. It returns the plaintext
// token (shown to the caller exactly once) and the record to persist. The
// plaintext stays under bcrypt's 72-byte input limit: 3-byte tag plus 43
// bytes of base64.
func MintAPIKey(userID string, clock types.Clock) (plaintext string, record *types.APIKey, err error) {
	if clock == nil {
		clock = types.RealClock{}
	}

	randomBytes := make([]byte, apiKeySecretLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", nil, fmt.Errorf("crypto/rand read failed: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	plaintext = apiKeyTokenPrefix + encoded

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(plaintext), apiKeyBcryptCost)
	if err != nil {
		return "", nil, fmt.Errorf("bcrypt hash failed: %w", err)
	}

	record = &types.APIKey{
		ID:        uuid.NewString(),
		Prefix:    apiKeyTokenPrefix + encoded[:apiKeyPrefixLength],
		KeyHash:   string(hashBytes),
		UserID:    userID,
		CreatedAt: clock.Now(),
	}
	return plaintext, record, nil
}
