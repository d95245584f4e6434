package transport

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstream/tinyssh/internal/wire"
)

// scriptedConn lets a test pre-script the bytes a "server" would send
// (toClient) while capturing whatever the client under test writes
// (fromClient), without needing a real socket or goroutines.
type scriptedConn struct {
	toClient   *bytes.Buffer
	fromClient *bytes.Buffer
}

func (c *scriptedConn) Read(p []byte) (int, error)  { return c.toClient.Read(p) }
func (c *scriptedConn) Write(p []byte) (int, error) { return c.fromClient.Write(p) }
func (c *scriptedConn) Close() error                { return nil }
func (c *scriptedConn) LocalAddr() net.Addr          { return nil }
func (c *scriptedConn) RemoteAddr() net.Addr         { return nil }
func (c *scriptedConn) SetDeadline(time.Time) error     { return nil }
func (c *scriptedConn) SetReadDeadline(time.Time) error { return nil }
func (c *scriptedConn) SetWriteDeadline(time.Time) error { return nil }

func newScriptedConn() *scriptedConn {
	return &scriptedConn{toClient: &bytes.Buffer{}, fromClient: &bytes.Buffer{}}
}

// appendScripted frames payload exactly as a peer would and appends it to
// conn.toClient, reusing Session.WritePacket (plaintext, no keys
// installed) so the test doesn't hand-roll packet framing.
func appendScripted(t *testing.T, conn *scriptedConn, payload []byte) {
	t.Helper()
	scratch := &scriptedConn{toClient: &bytes.Buffer{}, fromClient: &bytes.Buffer{}}
	s := NewSession(scratch)
	require.NoError(t, s.WritePacket(payload))
	conn.toClient.Write(scratch.fromClient.Bytes())
}

func TestRunChannelHappyPath(t *testing.T) {
	conn := newScriptedConn()

	// SSH_MSG_CHANNEL_OPEN_CONFIRMATION
	w := wire.NewWriter()
	w.Byte(byte(wire.MsgChannelOpenConfirmation))
	w.Uint32(0) // recipient channel (client's local id)
	w.Uint32(42) // sender channel (server's id)
	w.Uint32(1 << 20)
	w.Uint32(32768)
	appendScripted(t, conn, w.Bytes())

	// SSH_MSG_CHANNEL_SUCCESS (reply to exec)
	w = wire.NewWriter()
	w.Byte(byte(wire.MsgChannelSuccess))
	w.Uint32(0)
	appendScripted(t, conn, w.Bytes())

	// stdout data
	appendScripted(t, conn, (&wire.ChannelData{RecipientChannel: 0, Data: []byte("line one\n")}).Marshal())

	// stderr data
	w = wire.NewWriter()
	w.Byte(byte(wire.MsgChannelExtendedData))
	w.Uint32(0)
	w.Uint32(wire.ExtendedDataStderr)
	w.String([]byte("a warning\n"))
	appendScripted(t, conn, w.Bytes())

	// exit-status request, want_reply=false
	w = wire.NewWriter()
	w.Byte(byte(wire.MsgChannelRequest))
	w.Uint32(0)
	w.Text("exit-status")
	w.Bool(false)
	w.Uint32(0)
	appendScripted(t, conn, w.Bytes())

	// close
	appendScripted(t, conn, (&wire.ChannelClose{RecipientChannel: 0}).Marshal())

	h := &Handshaker{Session: NewSession(conn)}
	result, err := RunChannel(h, "git-upload-pack '/repo.git'")
	require.NoError(t, err)
	assert.Equal(t, []byte("line one\n"), result.Stdout)
	assert.Equal(t, []byte("a warning\n"), result.Stderr)
	require.NotNil(t, result.ExitStatus)
	assert.Equal(t, uint32(0), *result.ExitStatus)

	// exec request and channel open request should have gone out
	sent := conn.fromClient.Bytes()
	assert.Greater(t, len(sent), 0)
}

func TestRunChannelOpenFailure(t *testing.T) {
	conn := newScriptedConn()

	w := wire.NewWriter()
	w.Byte(byte(wire.MsgChannelOpenFailure))
	w.Uint32(0)
	w.Uint32(2)
	w.Text("administratively prohibited")
	w.Text("")
	appendScripted(t, conn, w.Bytes())

	h := &Handshaker{Session: NewSession(conn)}
	_, err := RunChannel(h, "whoami")
	require.Error(t, err)
	var tErr *Error
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, KindChannel, tErr.Kind)
}

func TestRunChannelReturnsPartialResultOnDisconnect(t *testing.T) {
	conn := newScriptedConn()

	w := wire.NewWriter()
	w.Byte(byte(wire.MsgChannelOpenConfirmation))
	w.Uint32(0)
	w.Uint32(1)
	w.Uint32(1 << 20)
	w.Uint32(32768)
	appendScripted(t, conn, w.Bytes())

	w = wire.NewWriter()
	w.Byte(byte(wire.MsgChannelSuccess))
	w.Uint32(0)
	appendScripted(t, conn, w.Bytes())

	appendScripted(t, conn, (&wire.ChannelData{RecipientChannel: 0, Data: []byte("partial output")}).Marshal())

	w = wire.NewWriter()
	w.Byte(byte(wire.MsgDisconnect))
	w.Uint32(11) // SSH_DISCONNECT_BY_APPLICATION
	w.Text("server going away")
	w.Text("")
	appendScripted(t, conn, w.Bytes())

	h := &Handshaker{Session: NewSession(conn)}
	result, err := RunChannel(h, "git-upload-pack '/repo.git'")
	require.Error(t, err)
	var tErr *Error
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, KindDisconnect, tErr.Kind)
	assert.Equal(t, []byte("partial output"), result.Stdout)
}

func TestRunChannelDisconnectErrorCarriesStderrTrace(t *testing.T) {
	conn := newScriptedConn()

	w := wire.NewWriter()
	w.Byte(byte(wire.MsgChannelOpenConfirmation))
	w.Uint32(0)
	w.Uint32(1)
	w.Uint32(1 << 20)
	w.Uint32(32768)
	appendScripted(t, conn, w.Bytes())

	w = wire.NewWriter()
	w.Byte(byte(wire.MsgChannelSuccess))
	w.Uint32(0)
	appendScripted(t, conn, w.Bytes())

	w = wire.NewWriter()
	w.Byte(byte(wire.MsgChannelExtendedData))
	w.Uint32(0)
	w.Uint32(wire.ExtendedDataStderr)
	w.String([]byte("fatal: repository not found\n"))
	appendScripted(t, conn, w.Bytes())

	w = wire.NewWriter()
	w.Byte(byte(wire.MsgDisconnect))
	w.Uint32(11)
	w.Text("server going away")
	w.Text("")
	appendScripted(t, conn, w.Bytes())

	h := &Handshaker{Session: NewSession(conn)}
	_, err := RunChannel(h, "git-upload-pack '/repo.git'")
	require.Error(t, err)
	var tErr *Error
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, []byte("fatal: repository not found\n"), tErr.Trace)
}

func TestRunChannelWindowReplenishOnLargeTransfer(t *testing.T) {
	conn := newScriptedConn()

	w := wire.NewWriter()
	w.Byte(byte(wire.MsgChannelOpenConfirmation))
	w.Uint32(0)
	w.Uint32(9)
	w.Uint32(1 << 20)
	w.Uint32(32768)
	appendScripted(t, conn, w.Bytes())

	w = wire.NewWriter()
	w.Byte(byte(wire.MsgChannelSuccess))
	w.Uint32(0)
	appendScripted(t, conn, w.Bytes())

	// Exceed the 1 MiB initial window with chunks under the 32 KiB max
	// packet size, forcing at least one CHANNEL_WINDOW_ADJUST.
	const chunk = 16000
	total := 0
	for total < 2*initialWindow {
		data := bytes.Repeat([]byte{'x'}, chunk)
		appendScripted(t, conn, (&wire.ChannelData{RecipientChannel: 0, Data: data}).Marshal())
		total += chunk
	}
	appendScripted(t, conn, (&wire.ChannelClose{RecipientChannel: 0}).Marshal())

	h := &Handshaker{Session: NewSession(conn)}
	result, err := RunChannel(h, "cat big-file")
	require.NoError(t, err)
	assert.Equal(t, total, len(result.Stdout))

	adjustCount := countWindowAdjusts(t, conn.fromClient.Bytes())
	assert.Greater(t, adjustCount, 0, "a transfer exceeding the initial window must trigger at least one CHANNEL_WINDOW_ADJUST")
}

// countWindowAdjusts parses the client's outbound plaintext packet stream
// and counts CHANNEL_WINDOW_ADJUST messages.
func countWindowAdjusts(t *testing.T, raw []byte) int {
	t.Helper()
	conn := &scriptedConn{toClient: bytes.NewBuffer(raw), fromClient: &bytes.Buffer{}}
	s := NewSession(conn)
	count := 0
	for {
		payload, err := s.ReadPacket()
		if err != nil {
			break
		}
		if wire.MessageType(payload[0]) == wire.MsgChannelWindowAdjust {
			count++
		}
	}
	return count
}
