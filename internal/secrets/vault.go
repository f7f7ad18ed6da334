// Package secrets seals per-organization provider credentials so API keys
// never sit in the database as plaintext.
package secrets

import "context"

// Credentials is the per-organization credential bundle: model provider
// and CRM access. Zero fields fall back to the process-level configuration.
type Credentials struct {
	LLMAPIKey  string `json:"llm_api_key,omitempty"`
	LLMBaseURL string `json:"llm_base_url,omitempty"`
	LLMModel   string `json:"llm_model,omitempty"`
	CRMToken   string `json:"crm_token,omitempty"`
	CRMBaseURL string `json:"crm_base_url,omitempty"`
}

// Vault seals and opens credential bundles. Bundles are encrypted at rest
// (AES-256-GCM) and decrypted in-memory only.
type Vault interface {
	Put(ctx context.Context, orgID string, creds *Credentials) error
	Get(ctx context.Context, orgID string) (*Credentials, error)
	Delete(ctx context.Context, orgID string) error
}

// CredentialStore is the minimal persistence interface needed by the vault.
// Satisfied by store.Store.
type CredentialStore interface {
	PutCredential(ctx context.Context, orgID string, ciphertext []byte) error
	GetCredential(ctx context.Context, orgID string) ([]byte, error)
	DeleteCredential(ctx context.Context, orgID string) error
}
