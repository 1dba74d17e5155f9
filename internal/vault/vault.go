// Package vault stores per-channel credentials with field-level encryption
// delegated to an edge function. Decryption degrades gracefully: a failed
// decrypt returns the stored value unchanged rather than an error.
package vault

import (
	"context"
	"fmt"
	"time"

	"studiodesk.app/internal/obs"
	"studiodesk.app/internal/remote"
)

const (
	credentialsTable = "credentials"
	encryptFn        = "encrypt-credential"
	decryptFn        = "decrypt-credential"
)

// Credential is one stored login. Secret is encrypted at rest.
type Credential struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Service   string    `json:"service"`
	Username  string    `json:"username"`
	Secret    string    `json:"secret"`
	CreatedAt time.Time `json:"created_at"`
}

type cipherPayload struct {
	Value string `json:"value"`
}

// Vault reads and writes credentials scoped to an effective owner.
type Vault struct {
	data remote.Data
	fns  remote.Functions
}

// New creates a vault over the remote row store and function runner.
func New(data remote.Data, fns remote.Functions) *Vault {
	return &Vault{data: data, fns: fns}
}

// Save encrypts the secret and stores the credential under ownerID. An
// encryption failure surfaces as an error; plaintext is never written.
func (v *Vault) Save(ctx context.Context, ownerID string, cred Credential) (*Credential, error) {
	var encrypted cipherPayload
	if err := v.fns.Invoke(ctx, encryptFn, cipherPayload{Value: cred.Secret}, &encrypted); err != nil {
		return nil, fmt.Errorf("vault: encrypt secret: %w", err)
	}

	var stored Credential
	err := v.data.Insert(ctx, credentialsTable, remote.Row{
		"user_id":  ownerID,
		"service":  cred.Service,
		"username": cred.Username,
		"secret":   encrypted.Value,
	}, &stored)
	if err != nil {
		return nil, fmt.Errorf("vault: store credential: %w", err)
	}
	return &stored, nil
}

// List returns ownerID's credentials with secrets decrypted where possible.
func (v *Vault) List(ctx context.Context, ownerID string) ([]Credential, error) {
	var rows []Credential
	err := v.data.Select(ctx, remote.Query{
		Table:  credentialsTable,
		Filter: remote.Filter{"user_id": ownerID},
		Order:  []remote.Order{{Column: "created_at"}},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("vault: list credentials: %w", err)
	}
	for i := range rows {
		var plain cipherPayload
		if err := v.fns.Invoke(ctx, decryptFn, cipherPayload{Value: rows[i].Secret}, &plain); err != nil {
			obs.LogError("vault.decrypt", err, map[string]any{"credential_id": rows[i].ID})
			continue // keep the stored value unchanged
		}
		rows[i].Secret = plain.Value
	}
	return rows, nil
}

// Delete removes a credential scoped by owner.
func (v *Vault) Delete(ctx context.Context, ownerID, id string) error {
	err := v.data.Delete(ctx, credentialsTable, remote.Filter{"id": id, "user_id": ownerID})
	if err != nil {
		return fmt.Errorf("vault: delete credential: %w", err)
	}
	return nil
}
