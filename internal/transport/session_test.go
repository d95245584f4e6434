package transport

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memConn is a minimal net.Conn backed by a bytes.Buffer, used so these
// tests can drive WritePacket/ReadPacket deterministically without a real
// socket or goroutine rendezvous.
type memConn struct {
	*bytes.Buffer
}

func (memConn) Close() error                       { return nil }
func (memConn) LocalAddr() net.Addr                 { return nil }
func (memConn) RemoteAddr() net.Addr                { return nil }
func (memConn) SetDeadline(time.Time) error         { return nil }
func (memConn) SetReadDeadline(time.Time) error     { return nil }
func (memConn) SetWriteDeadline(time.Time) error    { return nil }

func newMemConn() memConn {
	return memConn{Buffer: &bytes.Buffer{}}
}

func TestSessionWriteReadPlaintext(t *testing.T) {
	conn := newMemConn()
	s := NewSession(conn)

	payload := []byte("hello, ssh")
	require.NoError(t, s.WritePacket(payload))

	got, err := s.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSessionWriteReadEncrypted(t *testing.T) {
	conn := newMemConn()
	sendSide := NewSession(conn)
	recvSide := NewSession(conn)

	key := bytes.Repeat([]byte{0x11}, 32)
	iv := bytes.Repeat([]byte{0x22}, 16)
	mac := bytes.Repeat([]byte{0x33}, 32)

	require.NoError(t, sendSide.InstallSendKeys(key, iv, mac))
	require.NoError(t, recvSide.InstallRecvKeys(key, iv, mac))

	payload := []byte("exec git-upload-pack '/repo.git'")
	require.NoError(t, sendSide.WritePacket(payload))

	got, err := recvSide.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSessionReadRejectsTamperedMAC(t *testing.T) {
	conn := newMemConn()
	sendSide := NewSession(conn)

	key := bytes.Repeat([]byte{0x44}, 32)
	iv := bytes.Repeat([]byte{0x55}, 16)
	mac := bytes.Repeat([]byte{0x66}, 32)
	require.NoError(t, sendSide.InstallSendKeys(key, iv, mac))
	require.NoError(t, sendSide.WritePacket([]byte("tampered")))

	raw := conn.Bytes()
	raw[len(raw)-1] ^= 0xFF // flip a bit of the trailing MAC tag

	recvSide := NewSession(memConn{Buffer: bytes.NewBuffer(raw)})
	require.NoError(t, recvSide.InstallRecvKeys(key, iv, mac))

	_, err := recvSide.ReadPacket()
	require.Error(t, err)
	var tErr *Error
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, KindCrypto, tErr.Kind)
}

func TestSessionRejectsOversizedPacketLength(t *testing.T) {
	conn := newMemConn()
	conn.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF})

	s := NewSession(conn)
	_, err := s.ReadPacket()
	require.Error(t, err)
	var tErr *Error
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, KindProtocol, tErr.Kind)
}

func TestSessionRejectsMisalignedPacketLength(t *testing.T) {
	conn := newMemConn()
	// 4-byte header claims packet_length=5, which makes 4+5=9, not a
	// multiple of the 8-byte plaintext block size.
	conn.Write([]byte{0, 0, 0, 5, 4, 'a', 'b', 'c', 'd'})

	s := NewSession(conn)
	_, err := s.ReadPacket()
	require.Error(t, err)
	var tErr *Error
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, KindProtocol, tErr.Kind)
}
