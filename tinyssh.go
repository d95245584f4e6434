// Package tinyssh is the client-facing surface of a minimal SSH 2.0 core:
// version exchange, Curve25519 key exchange, Ed25519 host-key verification,
// publickey authentication, AES-256-CTR/HMAC-SHA-256 session encryption,
// and one "session" channel that execs a single remote command.
package tinyssh

import (
	"crypto/ed25519"
	"net"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/nullstream/tinyssh/internal/transport"
)

// RunResult is the captured output of one remote command (spec.md §6).
type RunResult struct {
	Stdout     []byte
	Stderr     []byte
	ExitStatus *uint32
}

// Connection is a negotiated, authenticated SSH session ready to run
// exactly one command. It is not safe for concurrent use.
type Connection struct {
	handshaker *transport.Handshaker
	user       string
	ran        bool
}

// New performs the full handshake and authentication sequence over stream
// (version exchange, KEXINIT, Curve25519 ECDH, Ed25519 host-key
// verification, AES-256-CTR/HMAC-SHA-256 activation, then publickey
// authentication as user using signer) and returns a Connection ready for
// one Run call.
func New(stream net.Conn, user string, signer ed25519.PrivateKey) (*Connection, error) {
	h, err := transport.Handshake(stream)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("user", user).Msg("handshake complete, authenticating")

	if err := transport.Authenticate(h, user, signer); err != nil {
		return nil, err
	}

	return &Connection{handshaker: h, user: user}, nil
}

// Run opens the single session channel this core supports, execs command,
// and blocks until the channel closes, returning everything captured.
//
// Calling Run a second time on the same Connection is a usage error
// (spec.md §9, Open Question (a)): this core supports exactly one command
// per connection, and nothing resets the channel state for reuse. On a
// mid-stream remote disconnect, the stdout/stderr captured up to that
// point is still returned alongside the error (Open Question (b)).
func (c *Connection) Run(command string) (RunResult, error) {
	if c.ran {
		return RunResult{}, transport.NewError(transport.KindUsage, "Run called more than once on this Connection")
	}
	c.ran = true

	result, err := transport.RunChannel(c.handshaker, command)
	out := RunResult{
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		ExitStatus: result.ExitStatus,
	}
	return out, err
}

// RunString is a convenience wrapper over Run for callers who know the
// remote command's stdout is text: it returns stdout decoded as a string
// and errors if the bytes aren't valid UTF-8, rather than handing back a
// mis-decoded result silently.
func (c *Connection) RunString(command string) (string, *uint32, error) {
	result, err := c.Run(command)
	if err != nil {
		return "", result.ExitStatus, err
	}
	if !utf8.Valid(result.Stdout) {
		return "", result.ExitStatus, transport.NewError(transport.KindProtocol, "command output is not valid UTF-8")
	}
	return string(result.Stdout), result.ExitStatus, nil
}

// MutateStream grants controlled access to the underlying net.Conn, for
// callers that need to tune deadlines or inspect peer addressing (spec.md
// §4.6); f must not read or write the stream directly, since doing so
// would desynchronize the binary packet framing.
func (c *Connection) MutateStream(f func(net.Conn)) error {
	if c.handshaker == nil || c.handshaker.Session == nil {
		return transport.NewError(transport.KindUsage, "MutateStream called before a connection was established")
	}
	f(c.handshaker.Session.Conn())
	return nil
}
