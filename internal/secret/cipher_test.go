package secret

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestSealOpenRoundTrip(t *testing.T) {
	c := NewCipherFromSecret("s3cret")

	sealed, err := c.SealString(PurposeBillingCredential, "sk_test_abc123")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "sk_test_abc123")

	var env encryptedPayload
	require.NoError(t, json.Unmarshal(sealed, &env))
	assert.Equal(t, 1, env.Version)

	plain, err := c.OpenString(PurposeBillingCredential, sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk_test_abc123", plain)
}

func TestSealUsesFreshNonce(t *testing.T) {
	c := NewCipherFromSecret("s3cret")
	a, err := c.SealString(PurposeBillingCredential, "same")
	require.NoError(t, err)
	b, err := c.SealString(PurposeBillingCredential, "same")
	require.NoError(t, err)
	assert.NotEqual(t, string(a), string(b))
}

func TestOpenRejectsOtherPurpose(t *testing.T) {
	c := NewCipherFromSecret("s3cret")
	sealed, err := c.SealString(PurposeAlertWebhook, "https://hooks.slack.com/services/x")
	require.NoError(t, err)

	_, err = c.Open(PurposeBillingCredential, sealed)
	assert.Error(t, err)
}

func TestOpenRejectsOtherSecret(t *testing.T) {
	sealed, err := NewCipherFromSecret("one").SealString(PurposeBillingCredential, "sk_test_x")
	require.NoError(t, err)

	_, err = NewCipherFromSecret("two").Open(PurposeBillingCredential, sealed)
	assert.Error(t, err)
}

func TestMissingKey(t *testing.T) {
	c := NewCipherFromSecret("  ")
	assert.False(t, c.Configured())

	_, err := c.SealString(PurposeBillingCredential, "x")
	if !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("expected ErrKeyMissing, got %v", err)
	}
}

func TestOpenMalformed(t *testing.T) {
	c := NewCipherFromSecret("s3cret")

	_, err := c.Open(PurposeBillingCredential, datatypes.JSON(`not json`))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	_, err = c.Open(PurposeBillingCredential, datatypes.JSON(`{"version":9,"nonce":"","ciphertext":""}`))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}
