package transport

import (
	"bytes"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/nullstream/tinyssh/internal/wire"
)

// ClientVersion is the fixed identification string this client sends
// (spec.md §4.3 step 1).
const ClientVersion = "SSH-2.0-tinyssh_1.0"

// The one algorithm this client offers per category (spec.md §1, §4.3).
const (
	algoKex         = "curve25519-sha256"
	algoHostKey     = "ssh-ed25519"
	algoCipher      = "aes256-ctr"
	algoMAC         = "hmac-sha2-256"
	algoCompression = "none"
)

// Handshaker drives the TH+AUTH+CH sequence for one Connection. It holds
// the bits that outlive a single key exchange: the session, the fixed
// session id, and the identification strings V_C/V_S (retained because
// every exchange hash, a rekey's included, covers them).
type Handshaker struct {
	Session   *Session
	SessionID []byte

	clientVersion []byte
	serverVersion []byte
}

// Handshake performs spec.md §4.3 steps 1-6 (version exchange through
// NEWKEYS) over conn and returns a Handshaker ready for AUTH.
func Handshake(conn net.Conn) (*Handshaker, error) {
	vc, vs, err := exchangeVersions(conn, ClientVersion)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("server_version", string(vs)).Msg("version exchange complete")

	h := &Handshaker{
		Session:       NewSession(conn),
		clientVersion: vc,
		serverVersion: vs,
	}

	if err := h.exchangeKeys(nil); err != nil {
		return nil, err
	}
	return h, nil
}

// Rekey completes a server-initiated key re-exchange mid-session
// (spec.md §5: "if the server initiates a new KEXINIT, the client
// completes it before sending further payload"). serverKexPayload is the
// KEXINIT payload already read off the wire by the caller (the channel
// relay loop), since by the time it's recognized as a KEXINIT it has
// already been consumed from the Session.
func (h *Handshaker) Rekey(serverKexPayload []byte) error {
	log.Debug().Msg("server-initiated rekey")
	return h.exchangeKeys(serverKexPayload)
}

// exchangeKeys implements spec.md §4.3 steps 2-6. When serverKexPayload
// is nil this is the initial exchange: the client sends its KEXINIT
// first, then reads the server's. When non-nil, it's a rekey: the
// server's KEXINIT already arrived out of band, and this client now
// answers it. SessionID is set only on the very first exchange
// (spec.md §3 invariant 5).
func (h *Handshaker) exchangeKeys(serverKexPayload []byte) error {
	s := h.Session

	clientKex := buildKexInit()
	clientKexPayload := clientKex.Marshal()
	if err := s.WritePacket(clientKexPayload); err != nil {
		return err
	}
	log.Debug().Msg("sent KEXINIT")

	if serverKexPayload == nil {
		payload, err := readMessage(s)
		if err != nil {
			return err
		}
		if wire.MessageType(payload[0]) != wire.MsgKexInit {
			return NewError(KindProtocol, "expected SSH_MSG_KEXINIT")
		}
		serverKexPayload = payload
	}
	log.Debug().Msg("received KEXINIT")

	serverKex, err := wire.ParseKexInit(serverKexPayload)
	if err != nil {
		return WrapError(KindProtocol, "parse server KEXINIT", err)
	}
	if err := checkNegotiation(serverKex); err != nil {
		return err
	}

	curve := ecdh.X25519()
	ephemeral, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return WrapError(KindCrypto, "generate ECDH key", err)
	}
	clientPub := ephemeral.PublicKey().Bytes()

	if err := s.WritePacket((&wire.KexEcdhInit{ClientPublicKey: clientPub}).Marshal()); err != nil {
		return err
	}
	log.Debug().Msg("sent KEX_ECDH_INIT")

	replyPayload, err := readMessage(s)
	if err != nil {
		return err
	}
	if wire.MessageType(replyPayload[0]) != wire.MsgKexEcdhReply {
		return NewError(KindProtocol, "expected SSH_MSG_KEX_ECDH_REPLY")
	}
	reply, err := wire.ParseKexEcdhReply(replyPayload)
	if err != nil {
		return WrapError(KindProtocol, "parse KEX_ECDH_REPLY", err)
	}
	log.Debug().Msg("received KEX_ECDH_REPLY")

	hostBlob, err := wire.ParseEd25519Blob(reply.HostKeyBlob)
	if err != nil || hostBlob.Algorithm != algoHostKey || len(hostBlob.Content) != ed25519.PublicKeySize {
		return NewError(KindProtocol, "malformed host key blob")
	}
	sigBlob, err := wire.ParseEd25519Blob(reply.Signature)
	if err != nil || sigBlob.Algorithm != algoHostKey || len(sigBlob.Content) != ed25519.SignatureSize {
		return NewError(KindProtocol, "malformed signature blob")
	}
	if len(reply.ServerPublicKey) != 32 {
		return NewError(KindProtocol, "malformed server ephemeral public key")
	}

	serverPub, err := curve.NewPublicKey(reply.ServerPublicKey)
	if err != nil {
		return WrapError(KindCrypto, "invalid server ephemeral public key", err)
	}
	sharedSecret, err := ephemeral.ECDH(serverPub)
	if err != nil {
		return WrapError(KindCrypto, "ECDH failed", err)
	}
	if isAllZero(sharedSecret) {
		return NewError(KindCrypto, "all-zero ECDH shared secret")
	}

	hw := wire.NewWriter()
	hw.String(h.clientVersion)
	hw.String(h.serverVersion)
	hw.String(clientKexPayload)
	hw.String(serverKexPayload)
	hw.String(reply.HostKeyBlob)
	hw.String(clientPub)
	hw.String(reply.ServerPublicKey)
	hw.MPIntBytes(sharedSecret)
	exchangeHash := sha256.Sum256(hw.Bytes())

	if !ed25519.Verify(ed25519.PublicKey(hostBlob.Content), exchangeHash[:], sigBlob.Content) {
		return NewError(KindCrypto, "host key signature verification failed")
	}
	log.Debug().Msg("host key signature verified")

	if h.SessionID == nil {
		h.SessionID = append([]byte(nil), exchangeHash[:]...)
	}

	if err := s.WritePacket([]byte{byte(wire.MsgNewKeys)}); err != nil {
		return err
	}

	civ := deriveKey(sharedSecret, exchangeHash[:], h.SessionID, 'A', 16)
	siv := deriveKey(sharedSecret, exchangeHash[:], h.SessionID, 'B', 16)
	ckey := deriveKey(sharedSecret, exchangeHash[:], h.SessionID, 'C', 32)
	skey := deriveKey(sharedSecret, exchangeHash[:], h.SessionID, 'D', 32)
	cmac := deriveKey(sharedSecret, exchangeHash[:], h.SessionID, 'E', 32)
	smac := deriveKey(sharedSecret, exchangeHash[:], h.SessionID, 'F', 32)

	if err := s.InstallSendKeys(ckey, civ, cmac); err != nil {
		return err
	}
	log.Debug().Msg("sent NEWKEYS, send-side encryption active")

	newKeysPayload, err := readMessage(s)
	if err != nil {
		return err
	}
	if wire.MessageType(newKeysPayload[0]) != wire.MsgNewKeys {
		return NewError(KindProtocol, "expected SSH_MSG_NEWKEYS")
	}

	if err := s.InstallRecvKeys(skey, siv, smac); err != nil {
		return err
	}
	log.Debug().Msg("received NEWKEYS, receive-side encryption active")

	return nil
}

func buildKexInit() *wire.KexInit {
	var cookie [16]byte
	_, _ = rand.Read(cookie[:])
	return &wire.KexInit{
		Cookie:                    cookie,
		KexAlgorithms:             []string{algoKex},
		ServerHostKeyAlgorithms:   []string{algoHostKey},
		EncryptionClientToServer:  []string{algoCipher},
		EncryptionServerToClient:  []string{algoCipher},
		MACClientToServer:         []string{algoMAC},
		MACServerToClient:         []string{algoMAC},
		CompressionClientToServer: []string{algoCompression},
		CompressionServerToClient: []string{algoCompression},
		LanguagesClientToServer:   nil,
		LanguagesServerToClient:   nil,
		FirstKexPacketFollows:     false,
	}
}

// checkNegotiation aborts if the server's first preference in any
// category this client offers disagrees with the client's sole offer
// (spec.md §4.3 step 2).
func checkNegotiation(server *wire.KexInit) error {
	check := func(name string, serverList []string, want string) error {
		if len(serverList) == 0 || serverList[0] != want {
			return NewError(KindNegotiation, "server's preferred "+name+" does not match client offer "+want)
		}
		return nil
	}
	if err := check("kex algorithm", server.KexAlgorithms, algoKex); err != nil {
		return err
	}
	if err := check("host key algorithm", server.ServerHostKeyAlgorithms, algoHostKey); err != nil {
		return err
	}
	if err := check("client-to-server cipher", server.EncryptionClientToServer, algoCipher); err != nil {
		return err
	}
	if err := check("server-to-client cipher", server.EncryptionServerToClient, algoCipher); err != nil {
		return err
	}
	if err := check("client-to-server MAC", server.MACClientToServer, algoMAC); err != nil {
		return err
	}
	if err := check("server-to-client MAC", server.MACServerToClient, algoMAC); err != nil {
		return err
	}
	if err := check("client-to-server compression", server.CompressionClientToServer, algoCompression); err != nil {
		return err
	}
	if err := check("server-to-client compression", server.CompressionServerToClient, algoCompression); err != nil {
		return err
	}
	return nil
}

// deriveKey implements spec.md §4.3 step 5's key-derivation loop.
// Grounded on CyberPanther232-goshell/session.go: deriveKey, which
// matches original_source/src/connection.rs: KeyExchangeOutput::fill_array.
func deriveKey(sharedSecret, exchangeHash, sessionID []byte, tag byte, length int) []byte {
	mp := wire.EncodeMPIntBytes(sharedSecret)

	h := sha256.New()
	h.Write(mp)
	h.Write(exchangeHash)
	h.Write([]byte{tag})
	h.Write(sessionID)
	key := h.Sum(nil)

	for len(key) < length {
		h2 := sha256.New()
		h2.Write(mp)
		h2.Write(exchangeHash)
		h2.Write(key)
		key = append(key, h2.Sum(nil)...)
	}
	return key[:length]
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// exchangeVersions implements spec.md §4.3 step 1: send the client's
// identification line, then read lines discarding any that don't start
// with "SSH-" until the server's identification line, rejecting
// SSH-1.x. Reads one byte at a time (grounded on
// CyberPanther232-goshell/connection.go: setupConnection) so as never to
// over-read into the first binary packet, since SSH gives no length
// prefix for this line-oriented preamble.
func exchangeVersions(conn net.Conn, clientVersion string) (vc, vs []byte, err error) {
	if _, err := conn.Write([]byte(clientVersion + "\r\n")); err != nil {
		return nil, nil, WrapError(KindIO, "send client identification", err)
	}

	for {
		line, err := readLine(conn)
		if err != nil {
			return nil, nil, err
		}
		if !bytes.HasPrefix(line, []byte("SSH-")) {
			continue
		}
		if !bytes.HasPrefix(line, []byte("SSH-2.0-")) {
			return nil, nil, NewError(KindProtocol, "unsupported server protocol version: "+string(line))
		}
		return []byte(clientVersion), line, nil
	}
}

func readLine(conn net.Conn) ([]byte, error) {
	var line []byte
	tmp := make([]byte, 1)
	for {
		if _, err := conn.Read(tmp); err != nil {
			return nil, WrapError(KindIO, "read identification line", err)
		}
		if tmp[0] == '\n' {
			break
		}
		line = append(line, tmp[0])
	}
	return bytes.TrimRight(line, "\r"), nil
}

// readMessage reads packets until one of interest arrives, silently
// accepting IGNORE/DEBUG/USERAUTH_BANNER at any time and turning
// DISCONNECT into a KindDisconnect error, per spec.md §7.
func readMessage(s *Session) ([]byte, error) {
	for {
		payload, err := s.ReadPacket()
		if err != nil {
			return nil, err
		}
		switch wire.MessageType(payload[0]) {
		case wire.MsgIgnore, wire.MsgDebug, wire.MsgUserauthBanner:
			continue
		case wire.MsgDisconnect:
			d, perr := wire.ParseDisconnect(payload)
			if perr != nil {
				return nil, WrapError(KindProtocol, "parse SSH_MSG_DISCONNECT", perr)
			}
			return nil, DisconnectError(d.ReasonCode, d.Description)
		default:
			return payload, nil
		}
	}
}
