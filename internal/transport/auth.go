package transport

import (
	"crypto/ed25519"

	"github.com/rs/zerolog/log"

	"github.com/nullstream/tinyssh/internal/wire"
)

const (
	serviceUserauth   = "ssh-userauth"
	serviceConnection = "ssh-connection"
)

// Authenticate implements spec.md §4.4: request the ssh-userauth
// service, then send one publickey USERAUTH_REQUEST signed with the
// caller's Ed25519 key, over the canonical session-id-prefixed blob.
func Authenticate(h *Handshaker, username string, priv ed25519.PrivateKey) error {
	s := h.Session

	if err := s.WritePacket((&wire.ServiceRequest{Name: serviceUserauth}).Marshal()); err != nil {
		return err
	}
	payload, err := readMessage(s)
	if err != nil {
		return err
	}
	if wire.MessageType(payload[0]) != wire.MsgServiceAccept {
		return NewError(KindProtocol, "expected SSH_MSG_SERVICE_ACCEPT")
	}
	accept, err := wire.ParseServiceAccept(payload)
	if err != nil || accept.Name != serviceUserauth {
		return NewError(KindProtocol, "unexpected service in SSH_MSG_SERVICE_ACCEPT")
	}
	log.Debug().Msg("ssh-userauth service accepted")

	pub := priv.Public().(ed25519.PublicKey)
	pubKeyBlob := (&wire.Ed25519Blob{Algorithm: "ssh-ed25519", Content: pub}).Marshal()

	req := &wire.UserauthRequestPublicKey{
		Username:  username,
		Service:   serviceConnection,
		Algorithm: "ssh-ed25519",
		PublicKey: pubKeyBlob,
	}
	signed := req.SignedPayload(h.SessionID)
	req.Signature = ed25519.Sign(priv, signed)

	if err := s.WritePacket(req.Marshal()); err != nil {
		return err
	}
	log.Debug().Str("user", username).Msg("sent publickey USERAUTH_REQUEST")

	result, err := readMessage(s)
	if err != nil {
		return err
	}
	switch wire.MessageType(result[0]) {
	case wire.MsgUserauthSuccess:
		log.Debug().Msg("authentication succeeded")
		return nil
	case wire.MsgUserauthFailure:
		return NewError(KindAuth, "server rejected publickey authentication")
	default:
		return NewError(KindProtocol, "unexpected message type during authentication")
	}
}
