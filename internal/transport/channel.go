package transport

import (
	"bytes"

	"github.com/armon/circbuf"
	"github.com/rs/zerolog/log"

	"github.com/nullstream/tinyssh/internal/wire"
)

// Window and packet-size choices for the one channel this client opens.
// spec.md §4.5 step 1 leaves these implementation-chosen but documented;
// initialWindow is kept well below 2^31-1 deliberately so that a large
// transfer (spec.md §8 scenario 5, a 10 MB stdout run) exercises
// CHANNEL_WINDOW_ADJUST instead of never needing one.
const (
	initialWindow   = 1 << 20 // 1 MiB
	refillThreshold = initialWindow / 2
	localMaxPacket  = 32768

	stderrTraceSize = 4096
)

// Channel is the single-session-channel state of spec.md §3's "channel"
// field, open only between CHANNEL_OPEN and CHANNEL_CLOSE.
type Channel struct {
	localID  uint32
	remoteID uint32

	localWindow  int64
	remoteWindow int64

	localMaxPacket  uint32
	remoteMaxPacket uint32

	stdout bytes.Buffer
	stderr bytes.Buffer

	// stderrTrace is a bounded ring of the most recent stderr bytes,
	// attached to any *Error that ends the relay loop, for operator
	// diagnosis (open/exec failures happen before any stderr and carry
	// none); it is
	// never itself returned as channel output (see DESIGN.md).
	stderrTrace *circbuf.Buffer

	exitStatus *uint32
	exitSignal *ExitSignalInfo

	eofSent       bool
	eofReceived   bool
	closeSent     bool
	closeReceived bool
}

// ExitSignalInfo records an "exit-signal" CHANNEL_REQUEST (spec.md §4.5
// step 3), treated as terminal like an exit-status.
type ExitSignalInfo struct {
	SignalName   string
	CoreDumped   bool
	ErrorMessage string
}

// ChannelResult is what the channel layer hands back to the façade.
type ChannelResult struct {
	Stdout     []byte
	Stderr     []byte
	ExitStatus *uint32
	ExitSignal *ExitSignalInfo
}

// RunChannel implements spec.md §4.5 in full: open a session channel,
// exec command, relay data/extended-data/window-adjust/exit-status/EOF/
// close, and return the captured result. On a mid-stream remote
// DISCONNECT, the partial result captured so far is returned alongside
// the error (spec.md §9 Open Question (b): this implementation returns
// partial data rather than discarding it).
func RunChannel(h *Handshaker, command string) (ChannelResult, error) {
	s := h.Session

	trace, err := circbuf.NewBuffer(stderrTraceSize)
	if err != nil {
		return ChannelResult{}, WrapError(KindIO, "allocate stderr trace buffer", err)
	}

	ch := &Channel{
		localID:        0,
		localWindow:    initialWindow,
		localMaxPacket: localMaxPacket,
		stderrTrace:    trace,
	}

	if err := s.WritePacket((&wire.ChannelOpen{
		ChannelType:       "session",
		SenderChannel:     ch.localID,
		InitialWindowSize: uint32(ch.localWindow),
		MaxPacketSize:     ch.localMaxPacket,
	}).Marshal()); err != nil {
		return ChannelResult{}, err
	}

	payload, err := readMessage(s)
	if err != nil {
		return ChannelResult{}, err
	}
	switch wire.MessageType(payload[0]) {
	case wire.MsgChannelOpenConfirmation:
		conf, perr := wire.ParseChannelOpenConfirmation(payload)
		if perr != nil {
			return ChannelResult{}, WrapError(KindProtocol, "parse CHANNEL_OPEN_CONFIRMATION", perr)
		}
		ch.remoteID = conf.SenderChannel
		ch.remoteWindow = int64(conf.InitialWindowSize)
		ch.remoteMaxPacket = conf.MaxPacketSize
	case wire.MsgChannelOpenFailure:
		fail, _ := wire.ParseChannelOpenFailure(payload)
		msg := "channel open refused"
		if fail != nil {
			msg = "channel open refused: " + fail.Description
		}
		return ChannelResult{}, NewError(KindChannel, msg)
	default:
		return ChannelResult{}, NewError(KindProtocol, "expected CHANNEL_OPEN_CONFIRMATION or CHANNEL_OPEN_FAILURE")
	}
	log.Debug().Uint32("remote_channel", ch.remoteID).Msg("channel opened")

	if err := s.WritePacket((&wire.ChannelRequestExec{
		RecipientChannel: ch.remoteID,
		WantReply:        true,
		Command:          command,
	}).Marshal()); err != nil {
		return ChannelResult{}, err
	}

	payload, err = readMessage(s)
	if err != nil {
		return ChannelResult{}, err
	}
	switch wire.MessageType(payload[0]) {
	case wire.MsgChannelSuccess:
		if _, perr := wire.ParseChannelSuccess(payload); perr != nil {
			return ChannelResult{}, WrapError(KindProtocol, "parse CHANNEL_SUCCESS", perr)
		}
	case wire.MsgChannelFailure:
		if _, perr := wire.ParseChannelFailure(payload); perr != nil {
			return ChannelResult{}, WrapError(KindProtocol, "parse CHANNEL_FAILURE", perr)
		}
		return ChannelResult{}, NewError(KindChannel, "server refused exec request")
	default:
		return ChannelResult{}, NewError(KindProtocol, "expected CHANNEL_SUCCESS or CHANNEL_FAILURE")
	}
	log.Debug().Str("command", command).Msg("exec accepted, relaying")

	return ch.relay(h)
}

// relay is spec.md §4.5 step 3-4: the blocking read loop until the
// channel closes.
func (ch *Channel) relay(h *Handshaker) (ChannelResult, error) {
	s := h.Session

	partial := func() ChannelResult {
		return ChannelResult{
			Stdout:     ch.stdout.Bytes(),
			Stderr:     ch.stderr.Bytes(),
			ExitStatus: ch.exitStatus,
			ExitSignal: ch.exitSignal,
		}
	}

	for {
		payload, err := s.ReadPacket()
		if err != nil {
			return partial(), ch.fail(err)
		}

		switch wire.MessageType(payload[0]) {
		case wire.MsgIgnore, wire.MsgDebug, wire.MsgUserauthBanner:
			continue

		case wire.MsgDisconnect:
			d, perr := wire.ParseDisconnect(payload)
			if perr != nil {
				return partial(), ch.fail(WrapError(KindProtocol, "parse SSH_MSG_DISCONNECT", perr))
			}
			return partial(), ch.fail(DisconnectError(d.ReasonCode, d.Description))

		case wire.MsgKexInit:
			if err := h.Rekey(payload); err != nil {
				return partial(), ch.fail(err)
			}

		case wire.MsgChannelData:
			m, perr := wire.ParseChannelData(payload)
			if perr != nil {
				return partial(), ch.fail(WrapError(KindProtocol, "parse CHANNEL_DATA", perr))
			}
			if ch.eofReceived {
				return partial(), ch.fail(NewError(KindProtocol, "CHANNEL_DATA received after CHANNEL_EOF"))
			}
			if len(m.Data) > int(ch.localMaxPacket) {
				return partial(), ch.fail(NewError(KindProtocol, "CHANNEL_DATA exceeds local max packet size"))
			}
			if int64(len(m.Data)) > ch.localWindow {
				return partial(), ch.fail(NewError(KindProtocol, "CHANNEL_DATA would underflow local window"))
			}
			ch.localWindow -= int64(len(m.Data))
			ch.stdout.Write(m.Data)
			if err := ch.replenishIfLow(s); err != nil {
				return partial(), ch.fail(err)
			}

		case wire.MsgChannelExtendedData:
			m, perr := wire.ParseChannelExtendedData(payload)
			if perr != nil {
				return partial(), ch.fail(WrapError(KindProtocol, "parse CHANNEL_EXTENDED_DATA", perr))
			}
			if ch.eofReceived {
				return partial(), ch.fail(NewError(KindProtocol, "CHANNEL_EXTENDED_DATA received after CHANNEL_EOF"))
			}
			if len(m.Data) > int(ch.localMaxPacket) {
				return partial(), ch.fail(NewError(KindProtocol, "CHANNEL_EXTENDED_DATA exceeds local max packet size"))
			}
			if int64(len(m.Data)) > ch.localWindow {
				return partial(), ch.fail(NewError(KindProtocol, "CHANNEL_EXTENDED_DATA would underflow local window"))
			}
			ch.localWindow -= int64(len(m.Data))
			if m.DataTypeCode == wire.ExtendedDataStderr {
				ch.stderr.Write(m.Data)
				_, _ = ch.stderrTrace.Write(m.Data)
			}
			if err := ch.replenishIfLow(s); err != nil {
				return partial(), ch.fail(err)
			}

		case wire.MsgChannelWindowAdjust:
			m, perr := wire.ParseChannelWindowAdjust(payload)
			if perr != nil {
				return partial(), ch.fail(WrapError(KindProtocol, "parse CHANNEL_WINDOW_ADJUST", perr))
			}
			ch.remoteWindow += int64(m.BytesToAdd)

		case wire.MsgChannelRequest:
			hdr, perr := wire.ParseChannelRequestHeader(payload)
			if perr != nil {
				return partial(), ch.fail(WrapError(KindProtocol, "parse CHANNEL_REQUEST", perr))
			}
			switch hdr.RequestType {
			case "exit-status":
				status, serr := wire.ParseExitStatus(hdr.Tail)
				if serr != nil {
					return partial(), ch.fail(WrapError(KindProtocol, "parse exit-status", serr))
				}
				s2 := status
				ch.exitStatus = &s2
			case "exit-signal":
				sig, serr := wire.ParseExitSignal(hdr.Tail)
				if serr != nil {
					return partial(), ch.fail(WrapError(KindProtocol, "parse exit-signal", serr))
				}
				ch.exitSignal = &ExitSignalInfo{
					SignalName:   sig.SignalName,
					CoreDumped:   sig.CoreDumped,
					ErrorMessage: sig.ErrorMessage,
				}
			default:
				if hdr.WantReply {
					if err := s.WritePacket((&wire.ChannelFailure{RecipientChannel: ch.remoteID}).Marshal()); err != nil {
						return partial(), ch.fail(err)
					}
				}
			}

		case wire.MsgChannelEOF:
			eof, perr := wire.ParseChannelEOF(payload)
			if perr != nil {
				return partial(), ch.fail(WrapError(KindProtocol, "parse CHANNEL_EOF", perr))
			}
			_ = eof
			ch.eofReceived = true

		case wire.MsgChannelClose:
			closeMsg, perr := wire.ParseChannelClose(payload)
			if perr != nil {
				return partial(), ch.fail(WrapError(KindProtocol, "parse CHANNEL_CLOSE", perr))
			}
			_ = closeMsg
			ch.closeReceived = true
			if !ch.closeSent {
				if err := s.WritePacket((&wire.ChannelClose{RecipientChannel: ch.remoteID}).Marshal()); err != nil {
					return partial(), ch.fail(err)
				}
				ch.closeSent = true
			}
			log.Debug().Msg("channel closed")
			return partial(), nil

		default:
			return partial(), ch.fail(NewError(KindProtocol, "unexpected message type in channel relay loop"))
		}
	}
}

// fail attaches the most recent stderr bytes to err for operator
// diagnosis when err is a *Error and none is attached yet (see
// stderrTrace and DESIGN.md).
func (ch *Channel) fail(err error) error {
	if err == nil {
		return nil
	}
	tErr, ok := err.(*Error)
	if !ok || tErr.Trace != nil {
		return err
	}
	if b := ch.stderrTrace.Bytes(); len(b) > 0 {
		tErr.Trace = append([]byte(nil), b...)
	}
	return err
}

// replenishIfLow sends CHANNEL_WINDOW_ADJUST once local_window drops
// below half the initial grant, restoring it back to initialWindow
// (spec.md §4.5 step 3).
func (ch *Channel) replenishIfLow(s *Session) error {
	if ch.localWindow >= refillThreshold {
		return nil
	}
	add := int64(initialWindow) - ch.localWindow
	if add <= 0 {
		return nil
	}
	if err := s.WritePacket((&wire.ChannelWindowAdjust{
		RecipientChannel: ch.remoteID,
		BytesToAdd:       uint32(add),
	}).Marshal()); err != nil {
		return err
	}
	ch.localWindow += add
	return nil
}
