package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := New("passphrase", "salt")
	require.NoError(t, err)

	ct, err := c.EncryptToString("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", ct)

	pt, err := c.DecryptString(ct)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pt)
}

func TestCipherNonDeterministic(t *testing.T) {
	c, err := New("passphrase", "salt")
	require.NoError(t, err)

	a, err := c.EncryptToString("same input")
	require.NoError(t, err)
	b, err := c.EncryptToString("same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCipherWrongKeyFails(t *testing.T) {
	c1, err := New("passphrase", "salt")
	require.NoError(t, err)
	c2, err := New("other-passphrase", "salt")
	require.NoError(t, err)

	ct, err := c1.EncryptToString("secret")
	require.NoError(t, err)

	_, err = c2.DecryptString(ct)
	assert.Error(t, err)
}

func TestCipherRejectsGarbage(t *testing.T) {
	c, err := New("passphrase", "salt")
	require.NoError(t, err)

	_, err = c.DecryptString("not base64!!!")
	assert.Error(t, err)

	_, err = c.DecryptString("c2hvcnQ")
	assert.Error(t, err)
}

func TestNewRequiresSecrets(t *testing.T) {
	_, err := New("", "salt")
	assert.Error(t, err)

	_, err = New("passphrase", "")
	assert.Error(t, err)
}
