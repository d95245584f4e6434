package wire

// MessageType is the single leading byte of every SSH message, per
// RFC 4251/4253/4252/4254. Only the types this client emits or accepts
// are named; anything else is handled generically in the transport layer
// (IGNORE/DEBUG accepted anywhere, UNIMPLEMENTED/DISCONNECT fatal, any
// other unknown type in range is a protocol violation).
type MessageType byte

const (
	MsgDisconnect     MessageType = 1
	MsgIgnore         MessageType = 2
	MsgUnimplemented  MessageType = 3
	MsgDebug          MessageType = 4
	MsgServiceRequest MessageType = 5
	MsgServiceAccept  MessageType = 6

	MsgKexInit      MessageType = 20
	MsgNewKeys      MessageType = 21
	MsgKexEcdhInit  MessageType = 30
	MsgKexEcdhReply MessageType = 31

	MsgUserauthRequest MessageType = 50
	MsgUserauthFailure MessageType = 51
	MsgUserauthSuccess MessageType = 52
	MsgUserauthBanner  MessageType = 53
	MsgUserauthPkOk    MessageType = 60

	MsgGlobalRequest  MessageType = 80
	MsgRequestSuccess MessageType = 81
	MsgRequestFailure MessageType = 82

	MsgChannelOpen             MessageType = 90
	MsgChannelOpenConfirmation MessageType = 91
	MsgChannelOpenFailure      MessageType = 92
	MsgChannelWindowAdjust     MessageType = 93
	MsgChannelData             MessageType = 94
	MsgChannelExtendedData     MessageType = 95
	MsgChannelEOF              MessageType = 96
	MsgChannelClose            MessageType = 97
	MsgChannelRequest          MessageType = 98
	MsgChannelSuccess          MessageType = 99
	MsgChannelFailure          MessageType = 100
)

func (t MessageType) String() string {
	switch t {
	case MsgDisconnect:
		return "SSH_MSG_DISCONNECT"
	case MsgIgnore:
		return "SSH_MSG_IGNORE"
	case MsgUnimplemented:
		return "SSH_MSG_UNIMPLEMENTED"
	case MsgDebug:
		return "SSH_MSG_DEBUG"
	case MsgServiceRequest:
		return "SSH_MSG_SERVICE_REQUEST"
	case MsgServiceAccept:
		return "SSH_MSG_SERVICE_ACCEPT"
	case MsgKexInit:
		return "SSH_MSG_KEXINIT"
	case MsgNewKeys:
		return "SSH_MSG_NEWKEYS"
	case MsgKexEcdhInit:
		return "SSH_MSG_KEX_ECDH_INIT"
	case MsgKexEcdhReply:
		return "SSH_MSG_KEX_ECDH_REPLY"
	case MsgUserauthRequest:
		return "SSH_MSG_USERAUTH_REQUEST"
	case MsgUserauthFailure:
		return "SSH_MSG_USERAUTH_FAILURE"
	case MsgUserauthSuccess:
		return "SSH_MSG_USERAUTH_SUCCESS"
	case MsgUserauthBanner:
		return "SSH_MSG_USERAUTH_BANNER"
	case MsgUserauthPkOk:
		return "SSH_MSG_USERAUTH_PK_OK"
	case MsgGlobalRequest:
		return "SSH_MSG_GLOBAL_REQUEST"
	case MsgRequestSuccess:
		return "SSH_MSG_REQUEST_SUCCESS"
	case MsgRequestFailure:
		return "SSH_MSG_REQUEST_FAILURE"
	case MsgChannelOpen:
		return "SSH_MSG_CHANNEL_OPEN"
	case MsgChannelOpenConfirmation:
		return "SSH_MSG_CHANNEL_OPEN_CONFIRMATION"
	case MsgChannelOpenFailure:
		return "SSH_MSG_CHANNEL_OPEN_FAILURE"
	case MsgChannelWindowAdjust:
		return "SSH_MSG_CHANNEL_WINDOW_ADJUST"
	case MsgChannelData:
		return "SSH_MSG_CHANNEL_DATA"
	case MsgChannelExtendedData:
		return "SSH_MSG_CHANNEL_EXTENDED_DATA"
	case MsgChannelEOF:
		return "SSH_MSG_CHANNEL_EOF"
	case MsgChannelClose:
		return "SSH_MSG_CHANNEL_CLOSE"
	case MsgChannelRequest:
		return "SSH_MSG_CHANNEL_REQUEST"
	case MsgChannelSuccess:
		return "SSH_MSG_CHANNEL_SUCCESS"
	case MsgChannelFailure:
		return "SSH_MSG_CHANNEL_FAILURE"
	default:
		return "SSH_MSG_UNKNOWN"
	}
}

// KexInit is the algorithm-negotiation message (RFC 4253 §7.1). This
// client always offers exactly one algorithm per category (spec.md §4.3).
type KexInit struct {
	Cookie                    [16]byte
	KexAlgorithms             []string
	ServerHostKeyAlgorithms   []string
	EncryptionClientToServer  []string
	EncryptionServerToClient  []string
	MACClientToServer         []string
	MACServerToClient         []string
	CompressionClientToServer []string
	CompressionServerToClient []string
	LanguagesClientToServer   []string
	LanguagesServerToClient   []string
	FirstKexPacketFollows     bool
}

// Marshal renders the full payload (including the leading message-type
// byte), which is also what the exchange hash calls I_C / I_S.
func (k *KexInit) Marshal() []byte {
	w := NewWriter()
	w.Byte(byte(MsgKexInit))
	w.Raw(k.Cookie[:])
	w.NameList(k.KexAlgorithms)
	w.NameList(k.ServerHostKeyAlgorithms)
	w.NameList(k.EncryptionClientToServer)
	w.NameList(k.EncryptionServerToClient)
	w.NameList(k.MACClientToServer)
	w.NameList(k.MACServerToClient)
	w.NameList(k.CompressionClientToServer)
	w.NameList(k.CompressionServerToClient)
	w.NameList(k.LanguagesClientToServer)
	w.NameList(k.LanguagesServerToClient)
	w.Bool(k.FirstKexPacketFollows)
	w.Uint32(0) // reserved
	return w.Bytes()
}

// ParseKexInit parses a full KEXINIT payload (leading type byte included).
func ParseKexInit(payload []byte) (*KexInit, error) {
	r := NewReader(payload)
	typ := MessageType(r.Byte())
	if typ != MsgKexInit {
		return nil, unexpectedType(MsgKexInit, typ)
	}
	k := &KexInit{}
	copy(k.Cookie[:], r.Raw(16))
	k.KexAlgorithms = r.NameList()
	k.ServerHostKeyAlgorithms = r.NameList()
	k.EncryptionClientToServer = r.NameList()
	k.EncryptionServerToClient = r.NameList()
	k.MACClientToServer = r.NameList()
	k.MACServerToClient = r.NameList()
	k.CompressionClientToServer = r.NameList()
	k.CompressionServerToClient = r.NameList()
	k.LanguagesClientToServer = r.NameList()
	k.LanguagesServerToClient = r.NameList()
	k.FirstKexPacketFollows = r.Bool()
	r.Uint32() // reserved
	if r.Err() != nil {
		return nil, r.Err()
	}
	return k, nil
}

// KexEcdhInit carries the client's ephemeral ECDH public key.
type KexEcdhInit struct {
	ClientPublicKey []byte
}

func (m *KexEcdhInit) Marshal() []byte {
	w := NewWriter()
	w.Byte(byte(MsgKexEcdhInit))
	w.String(m.ClientPublicKey)
	return w.Bytes()
}

// KexEcdhReply carries the server's host key blob, ephemeral public key,
// and its signature over the exchange hash.
type KexEcdhReply struct {
	HostKeyBlob     []byte
	ServerPublicKey []byte
	Signature       []byte
}

func ParseKexEcdhReply(payload []byte) (*KexEcdhReply, error) {
	r := NewReader(payload)
	typ := MessageType(r.Byte())
	if typ != MsgKexEcdhReply {
		return nil, unexpectedType(MsgKexEcdhReply, typ)
	}
	m := &KexEcdhReply{
		HostKeyBlob:     r.String(),
		ServerPublicKey: r.String(),
		Signature:       r.String(),
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return m, nil
}

// Ed25519Blob is the SSH encoding of an Ed25519 public key or signature:
// string("ssh-ed25519") || string(content).
type Ed25519Blob struct {
	Algorithm string
	Content   []byte
}

func (b *Ed25519Blob) Marshal() []byte {
	w := NewWriter()
	w.Text(b.Algorithm)
	w.String(b.Content)
	return w.Bytes()
}

func ParseEd25519Blob(raw []byte) (*Ed25519Blob, error) {
	r := NewReader(raw)
	b := &Ed25519Blob{
		Algorithm: r.Text(),
		Content:   r.String(),
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return b, nil
}

// ServiceRequest/ServiceAccept negotiate the ssh-userauth service.
type ServiceRequest struct{ Name string }

func (m *ServiceRequest) Marshal() []byte {
	w := NewWriter()
	w.Byte(byte(MsgServiceRequest))
	w.Text(m.Name)
	return w.Bytes()
}

type ServiceAccept struct{ Name string }

func ParseServiceAccept(payload []byte) (*ServiceAccept, error) {
	r := NewReader(payload)
	typ := MessageType(r.Byte())
	if typ != MsgServiceAccept {
		return nil, unexpectedType(MsgServiceAccept, typ)
	}
	m := &ServiceAccept{Name: r.Text()}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return m, nil
}

// UserauthRequestPublicKey is the publickey USERAUTH_REQUEST this client
// sends (spec.md §4.4). Signature is nil on none of this client's
// requests: spec.md fixes has_signature = true always.
type UserauthRequestPublicKey struct {
	Username  string
	Service   string
	Algorithm string
	PublicKey []byte
	Signature []byte
}

// SignedPayload returns the bytes that get Ed25519-signed, prefixed by
// the session id encoded as a length-prefixed string, per spec.md §4.4.
func (m *UserauthRequestPublicKey) SignedPayload(sessionID []byte) []byte {
	w := NewWriter()
	w.String(sessionID)
	w.Byte(byte(MsgUserauthRequest))
	w.Text(m.Username)
	w.Text(m.Service)
	w.Text("publickey")
	w.Bool(true)
	w.Text(m.Algorithm)
	w.String(m.PublicKey)
	return w.Bytes()
}

func (m *UserauthRequestPublicKey) Marshal() []byte {
	w := NewWriter()
	w.Byte(byte(MsgUserauthRequest))
	w.Text(m.Username)
	w.Text(m.Service)
	w.Text("publickey")
	w.Bool(true)
	w.Text(m.Algorithm)
	w.String(m.PublicKey)
	sig := NewWriter()
	sig.Text(m.Algorithm)
	sig.String(m.Signature)
	w.String(sig.Bytes())
	return w.Bytes()
}

// Disconnect is SSH_MSG_DISCONNECT (spec.md §7: remote disconnect).
type Disconnect struct {
	ReasonCode  uint32
	Description string
	Language    string
}

func ParseDisconnect(payload []byte) (*Disconnect, error) {
	r := NewReader(payload)
	typ := MessageType(r.Byte())
	if typ != MsgDisconnect {
		return nil, unexpectedType(MsgDisconnect, typ)
	}
	d := &Disconnect{
		ReasonCode:  r.Uint32(),
		Description: r.Text(),
		Language:    r.Text(),
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return d, nil
}

// ChannelOpen opens a new channel (spec.md §4.5 step 1).
type ChannelOpen struct {
	ChannelType       string
	SenderChannel     uint32
	InitialWindowSize uint32
	MaxPacketSize     uint32
}

func (m *ChannelOpen) Marshal() []byte {
	w := NewWriter()
	w.Byte(byte(MsgChannelOpen))
	w.Text(m.ChannelType)
	w.Uint32(m.SenderChannel)
	w.Uint32(m.InitialWindowSize)
	w.Uint32(m.MaxPacketSize)
	return w.Bytes()
}

type ChannelOpenConfirmation struct {
	RecipientChannel  uint32
	SenderChannel     uint32
	InitialWindowSize uint32
	MaxPacketSize     uint32
}

func ParseChannelOpenConfirmation(payload []byte) (*ChannelOpenConfirmation, error) {
	r := NewReader(payload)
	typ := MessageType(r.Byte())
	if typ != MsgChannelOpenConfirmation {
		return nil, unexpectedType(MsgChannelOpenConfirmation, typ)
	}
	m := &ChannelOpenConfirmation{
		RecipientChannel:  r.Uint32(),
		SenderChannel:     r.Uint32(),
		InitialWindowSize: r.Uint32(),
		MaxPacketSize:     r.Uint32(),
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return m, nil
}

type ChannelOpenFailure struct {
	RecipientChannel uint32
	ReasonCode       uint32
	Description      string
}

func ParseChannelOpenFailure(payload []byte) (*ChannelOpenFailure, error) {
	r := NewReader(payload)
	typ := MessageType(r.Byte())
	if typ != MsgChannelOpenFailure {
		return nil, unexpectedType(MsgChannelOpenFailure, typ)
	}
	m := &ChannelOpenFailure{
		RecipientChannel: r.Uint32(),
		ReasonCode:       r.Uint32(),
		Description:      r.Text(),
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return m, nil
}

// ChannelRequestExec is the "exec" CHANNEL_REQUEST (spec.md §4.5 step 2).
type ChannelRequestExec struct {
	RecipientChannel uint32
	WantReply        bool
	Command          string
}

func (m *ChannelRequestExec) Marshal() []byte {
	w := NewWriter()
	w.Byte(byte(MsgChannelRequest))
	w.Uint32(m.RecipientChannel)
	w.Text("exec")
	w.Bool(m.WantReply)
	w.Text(m.Command)
	return w.Bytes()
}

// ChannelRequestHeader is the common prefix of any inbound CHANNEL_REQUEST,
// parsed first so the caller can switch on RequestType before decoding the
// type-specific tail (exit-status, exit-signal, ...).
type ChannelRequestHeader struct {
	RecipientChannel uint32
	RequestType      string
	WantReply        bool
	Tail             []byte
}

func ParseChannelRequestHeader(payload []byte) (*ChannelRequestHeader, error) {
	r := NewReader(payload)
	typ := MessageType(r.Byte())
	if typ != MsgChannelRequest {
		return nil, unexpectedType(MsgChannelRequest, typ)
	}
	h := &ChannelRequestHeader{
		RecipientChannel: r.Uint32(),
		RequestType:      r.Text(),
		WantReply:        r.Bool(),
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	h.Tail = r.Remaining()
	return h, nil
}

// ParseExitStatus decodes the tail of an "exit-status" CHANNEL_REQUEST.
func ParseExitStatus(tail []byte) (uint32, error) {
	r := NewReader(tail)
	status := r.Uint32()
	if r.Err() != nil {
		return 0, r.Err()
	}
	return status, nil
}

// ExitSignal is the decoded tail of an "exit-signal" CHANNEL_REQUEST, as
// returned by ParseExitSignal.
type ExitSignal struct {
	SignalName   string
	CoreDumped   bool
	ErrorMessage string
	Language     string
}

func ParseExitSignal(tail []byte) (*ExitSignal, error) {
	r := NewReader(tail)
	s := &ExitSignal{
		SignalName:   r.Text(),
		CoreDumped:   r.Bool(),
		ErrorMessage: r.Text(),
		Language:     r.Text(),
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return s, nil
}

// ChannelWindowAdjust grants the peer more send credit.
type ChannelWindowAdjust struct {
	RecipientChannel uint32
	BytesToAdd       uint32
}

func (m *ChannelWindowAdjust) Marshal() []byte {
	w := NewWriter()
	w.Byte(byte(MsgChannelWindowAdjust))
	w.Uint32(m.RecipientChannel)
	w.Uint32(m.BytesToAdd)
	return w.Bytes()
}

func ParseChannelWindowAdjust(payload []byte) (*ChannelWindowAdjust, error) {
	r := NewReader(payload)
	typ := MessageType(r.Byte())
	if typ != MsgChannelWindowAdjust {
		return nil, unexpectedType(MsgChannelWindowAdjust, typ)
	}
	m := &ChannelWindowAdjust{
		RecipientChannel: r.Uint32(),
		BytesToAdd:       r.Uint32(),
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return m, nil
}

// ChannelData carries stdin/stdout bytes.
type ChannelData struct {
	RecipientChannel uint32
	Data             []byte
}

func (m *ChannelData) Marshal() []byte {
	w := NewWriter()
	w.Byte(byte(MsgChannelData))
	w.Uint32(m.RecipientChannel)
	w.String(m.Data)
	return w.Bytes()
}

func ParseChannelData(payload []byte) (*ChannelData, error) {
	r := NewReader(payload)
	typ := MessageType(r.Byte())
	if typ != MsgChannelData {
		return nil, unexpectedType(MsgChannelData, typ)
	}
	m := &ChannelData{
		RecipientChannel: r.Uint32(),
		Data:             r.String(),
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return m, nil
}

// ExtendedDataStderr is the data_type_code for stderr (RFC 4254 §5.2).
const ExtendedDataStderr = 1

type ChannelExtendedData struct {
	RecipientChannel uint32
	DataTypeCode     uint32
	Data             []byte
}

func ParseChannelExtendedData(payload []byte) (*ChannelExtendedData, error) {
	r := NewReader(payload)
	typ := MessageType(r.Byte())
	if typ != MsgChannelExtendedData {
		return nil, unexpectedType(MsgChannelExtendedData, typ)
	}
	m := &ChannelExtendedData{
		RecipientChannel: r.Uint32(),
		DataTypeCode:     r.Uint32(),
		Data:             r.String(),
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return m, nil
}

// ChannelEOF / ChannelClose carry only the recipient channel.
type ChannelEOF struct{ RecipientChannel uint32 }

func ParseChannelEOF(payload []byte) (*ChannelEOF, error) {
	r := NewReader(payload)
	typ := MessageType(r.Byte())
	if typ != MsgChannelEOF {
		return nil, unexpectedType(MsgChannelEOF, typ)
	}
	m := &ChannelEOF{RecipientChannel: r.Uint32()}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return m, nil
}

type ChannelClose struct{ RecipientChannel uint32 }

func (m *ChannelClose) Marshal() []byte {
	w := NewWriter()
	w.Byte(byte(MsgChannelClose))
	w.Uint32(m.RecipientChannel)
	return w.Bytes()
}

func ParseChannelClose(payload []byte) (*ChannelClose, error) {
	r := NewReader(payload)
	typ := MessageType(r.Byte())
	if typ != MsgChannelClose {
		return nil, unexpectedType(MsgChannelClose, typ)
	}
	m := &ChannelClose{RecipientChannel: r.Uint32()}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return m, nil
}

// ChannelSuccess / ChannelFailure reply to a CHANNEL_REQUEST.
type ChannelSuccess struct{ RecipientChannel uint32 }

func ParseChannelSuccess(payload []byte) (*ChannelSuccess, error) {
	r := NewReader(payload)
	typ := MessageType(r.Byte())
	if typ != MsgChannelSuccess {
		return nil, unexpectedType(MsgChannelSuccess, typ)
	}
	m := &ChannelSuccess{RecipientChannel: r.Uint32()}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return m, nil
}

type ChannelFailure struct{ RecipientChannel uint32 }

// Marshal lets the client reply SSH_MSG_CHANNEL_FAILURE to a
// CHANNEL_REQUEST type it doesn't recognise (RFC 4254 §4: "implementations
// ... MUST respond with SSH_MSG_CHANNEL_FAILURE" when want_reply is set).
func (m *ChannelFailure) Marshal() []byte {
	w := NewWriter()
	w.Byte(byte(MsgChannelFailure))
	w.Uint32(m.RecipientChannel)
	return w.Bytes()
}

func ParseChannelFailure(payload []byte) (*ChannelFailure, error) {
	r := NewReader(payload)
	typ := MessageType(r.Byte())
	if typ != MsgChannelFailure {
		return nil, unexpectedType(MsgChannelFailure, typ)
	}
	m := &ChannelFailure{RecipientChannel: r.Uint32()}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return m, nil
}

func unexpectedType(want, got MessageType) error {
	return &UnexpectedTypeError{Want: want, Got: got}
}

// UnexpectedTypeError is returned by the Parse* helpers when the leading
// message-type byte doesn't match. The transport layer wraps it into the
// protocol-violation error kind, except where spec.md §7 calls for special
// handling (IGNORE/DEBUG/USERAUTH_BANNER skipped and DISCONNECT turned
// into a disconnect error by the caller before re-parsing; UNIMPLEMENTED
// gets no special case and ends as a protocol violation).
type UnexpectedTypeError struct {
	Want MessageType
	Got  MessageType
}

func (e *UnexpectedTypeError) Error() string {
	return "wire: expected " + e.Want.String() + " but got " + e.Got.String()
}
