package credentials

import (
	"crypto/ed25519"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"
)

func TestGenerateEd25519Keypair(t *testing.T) {
	pub, priv, err := GenerateEd25519Keypair()
	require.NoError(t, err)
	assert.Len(t, pub, ed25519.PublicKeySize)
	assert.Len(t, priv, ed25519.PrivateKeySize)
	assert.True(t, ed25519.Verify(pub, []byte("message"), ed25519.Sign(priv, []byte("message"))))
}

func TestAuthorizedKeyLine(t *testing.T) {
	pub, _, err := GenerateEd25519Keypair()
	require.NoError(t, err)

	line := AuthorizedKeyLine(pub, "test@example.com")
	assert.Contains(t, line, "ssh-ed25519")
	assert.Contains(t, line, "test@example.com")

	// Must round-trip through x/crypto/ssh's own authorized-keys parser.
	parsed, _, _, _, err := gossh.ParseAuthorizedKey([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, "ssh-ed25519", parsed.Type())
}

func TestLoadPrivateKeyUnencrypted(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	pemBlock, err := gossh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(pemBlock), 0600))

	got, err := LoadPrivateKey(path)
	require.NoError(t, err)
	assert.Equal(t, priv, got)
}

func TestLoadPrivateKeyRejectsNonKeyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-a-key")
	require.NoError(t, os.WriteFile(path, []byte("not a key at all"), 0600))

	_, err := LoadPrivateKey(path)
	assert.Error(t, err)
}

