// Package credentials is the external collaborator that produces and
// loads the Ed25519 key material this client authenticates with; it's
// not part of the core transport/channel/auth path (spec.md §6).
package credentials

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// GenerateEd25519Keypair produces a fresh keypair suitable for
// tinyssh.New and for writing an authorized_keys entry with
// AuthorizedKeyLine.
func GenerateEd25519Keypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	return pub, priv, nil
}

// AuthorizedKeyLine renders pub in the one-line authorized_keys format
// ("ssh-ed25519 AAAA... comment"), grounded on
// CyberPanther232-goshell/user_auth.go's marshalRSAPublicKeyBlob, but
// using x/crypto/ssh's own marshaler instead of hand-rolling the mpint
// encoding, since ed25519 public keys have no mpint fields to encode.
func AuthorizedKeyLine(pub ed25519.PublicKey, comment string) string {
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		// pub is always 32 bytes coming out of GenerateEd25519Keypair or a
		// parsed identity file, so NewPublicKey cannot fail in practice.
		return ""
	}
	line := string(ssh.MarshalAuthorizedKey(sshPub))
	line = line[:len(line)-1] // MarshalAuthorizedKey appends a trailing newline
	if comment != "" {
		line += " " + comment
	}
	return line
}

// LoadPrivateKey reads an OpenSSH-format identity file at path and
// returns its Ed25519 private key. If the key is passphrase-protected,
// the caller is prompted on the controlling terminal without echo
// (grounded on CyberPanther232-goshell/main.go's term.ReadPassword use).
// Any non-Ed25519 key is rejected: spec.md §4.4 defines only the
// ssh-ed25519 publickey method.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity file %s: %w", path, err)
	}

	raw, err := ssh.ParseRawPrivateKey(data)
	if err != nil {
		passphrase, perr := promptPassphrase(fmt.Sprintf("Enter passphrase for %s: ", path))
		if perr != nil {
			return nil, fmt.Errorf("parse identity file %s: %w", path, err)
		}
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase(data, passphrase)
		if err != nil {
			return nil, fmt.Errorf("parse identity file %s with passphrase: %w", path, err)
		}
	}

	switch k := raw.(type) {
	case *ed25519.PrivateKey:
		return *k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("identity file %s is not an ed25519 key (only ssh-ed25519 publickey auth is supported)", path)
	}
}

// promptPassphrase reads a line from the controlling terminal with echo
// disabled.
func promptPassphrase(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("identity file is encrypted and stdin is not a terminal to prompt for a passphrase")
	}
	fmt.Print(prompt)
	passphrase, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return passphrase, nil
}
