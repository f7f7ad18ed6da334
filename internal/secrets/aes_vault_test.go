package secrets

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/schema"
)

// mapStore is a simple in-memory CredentialStore for vault tests.
type mapStore struct {
	data map[string][]byte
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte)}
}

func (m *mapStore) PutCredential(_ context.Context, orgID string, ciphertext []byte) error {
	cp := make([]byte, len(ciphertext))
	copy(cp, ciphertext)
	m.data[orgID] = cp
	return nil
}

func (m *mapStore) GetCredential(_ context.Context, orgID string) ([]byte, error) {
	v, ok := m.data[orgID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "credentials for org %q not found", orgID)
	}
	return v, nil
}

func (m *mapStore) DeleteCredential(_ context.Context, orgID string) error {
	if _, ok := m.data[orgID]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "credentials for org %q not found", orgID)
	}
	delete(m.data, orgID)
	return nil
}

func testVault(t *testing.T) (*AESVault, *mapStore) {
	t.Helper()
	s := newMapStore()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	v, err := NewAESVault(s, VaultConfig{MasterKey: key})
	require.NoError(t, err)
	return v, s
}

func testCreds() *Credentials {
	return &Credentials{
		LLMAPIKey: "sk-secret-123",
		LLMModel:  "gpt-4o-mini",
		CRMToken:  "ghl-token-456",
	}
}

func TestAESVault_PutAndGet(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "org-1", testCreds()))

	got, err := v.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "sk-secret-123", got.LLMAPIKey)
	assert.Equal(t, "gpt-4o-mini", got.LLMModel)
	assert.Equal(t, "ghl-token-456", got.CRMToken)
}

func TestAESVault_EncryptedAtRest(t *testing.T) {
	v, s := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "org-1", testCreds()))

	// Raw bytes in store should NOT contain the plaintext key.
	raw := s.data["org-1"]
	assert.NotContains(t, string(raw), "sk-secret-123")
	assert.NotContains(t, string(raw), "ghl-token-456")
}

func TestAESVault_PassphraseDerivation(t *testing.T) {
	s := newMapStore()
	salt := []byte("test-salt-16byte")
	v, err := NewAESVault(s, VaultConfig{
		Passphrase: "my-secure-passphrase",
		Salt:       salt,
		Iterations: 1000, // low for test speed
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "org-1", testCreds()))
	got, err := v.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "sk-secret-123", got.LLMAPIKey)
}

func TestAESVault_WrongKeyCannotDecrypt(t *testing.T) {
	s := newMapStore()
	ctx := context.Background()

	key1 := make([]byte, 32)
	key2 := make([]byte, 32)
	key2[0] = 0xFF

	v1, _ := NewAESVault(s, VaultConfig{MasterKey: key1})
	require.NoError(t, v1.Put(ctx, "org-1", testCreds()))

	v2, _ := NewAESVault(s, VaultConfig{MasterKey: key2})
	_, err := v2.Get(ctx, "org-1")
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeVault, flowErr.Code)
}

func TestAESVault_Delete(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "org-1", testCreds()))
	require.NoError(t, v.Delete(ctx, "org-1"))

	_, err := v.Get(ctx, "org-1")
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeNotFound, flowErr.Code)
}

func TestAESVault_Overwrite(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "org-1", &Credentials{CRMToken: "v1"}))
	require.NoError(t, v.Put(ctx, "org-1", &Credentials{CRMToken: "v2"}))

	got, err := v.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.CRMToken)
}

func TestAESVault_GetNotFound(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()

	_, err := v.Get(ctx, "nonexistent")
	require.Error(t, err)
}

func TestAESVault_InvalidKeyLength(t *testing.T) {
	_, err := NewAESVault(newMapStore(), VaultConfig{MasterKey: []byte("too-short")})
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeVault, flowErr.Code)
}

func TestAESVault_UniqueNonces(t *testing.T) {
	v, s := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "org-1", testCreds()))
	ct1 := make([]byte, len(s.data["org-1"]))
	copy(ct1, s.data["org-1"])

	require.NoError(t, v.Put(ctx, "org-2", testCreds()))
	ct2 := s.data["org-2"]

	// Same plaintext must produce different ciphertext (random nonce).
	assert.False(t, bytes.Equal(ct1, ct2))
}

func TestAESVault_NilCredentials(t *testing.T) {
	v, _ := testVault(t)
	err := v.Put(context.Background(), "org-1", nil)
	require.Error(t, err)
}

func TestAESVault_NoKeyOrPassphrase(t *testing.T) {
	_, err := NewAESVault(newMapStore(), VaultConfig{})
	require.Error(t, err)
}

func TestAESVault_PassphraseWithoutSalt(t *testing.T) {
	_, err := NewAESVault(newMapStore(), VaultConfig{Passphrase: "pass"})
	require.Error(t, err)
}
