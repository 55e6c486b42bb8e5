package jwt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse_RoundTrip(t *testing.T) {
	token, err := Generate("s3cr3t", "client-1", "sriemisor", 60)
	require.NoError(t, err)

	clientID, err := Parse("s3cr3t", token)
	require.NoError(t, err)
	assert.Equal(t, "client-1", clientID)
}

func TestParse_RejectsWrongSecret(t *testing.T) {
	token, err := Generate("s3cr3t", "client-1", "sriemisor", 60)
	require.NoError(t, err)

	_, err = Parse("otro-secreto", token)
	require.Error(t, err)
}

func TestParse_RejectsExpiredToken(t *testing.T) {
	token, err := Generate("s3cr3t", "client-1", "sriemisor", -1)
	require.NoError(t, err)

	_, err = Parse("s3cr3t", token)
	require.Error(t, err)
}

func TestGenerate_RejectsEmptySecret(t *testing.T) {
	_, err := Generate("", "client-1", "sriemisor", 60)
	require.Error(t, err)
}
