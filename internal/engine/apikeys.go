package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"annotrack/internal/domain"
	"annotrack/internal/repo"
)

// CreateAPIKey mints a key for an employee. The plaintext is returned
// exactly once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, employeeID, name, actorID string) (domain.APIKey, string, error) {
	emp, err := e.Repo.GetEmployee(ctx, employeeID)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate key: %w", err)
	}
	plaintext := "atk_" + hex.EncodeToString(raw)
	key := domain.APIKey{
		ID:         newID(),
		EmployeeID: emp.ID,
		Name:       name,
		KeyHash:    repo.HashAPIKey(plaintext),
		CreatedAt:  e.nowStr(),
	}
	if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plaintext, nil
}
