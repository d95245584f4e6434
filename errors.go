package tinyssh

import "github.com/nullstream/tinyssh/internal/transport"

// Kind categorizes a returned error without string matching (spec.md §7).
type Kind = transport.Kind

const (
	KindIO          = transport.KindIO
	KindProtocol    = transport.KindProtocol
	KindCrypto      = transport.KindCrypto
	KindNegotiation = transport.KindNegotiation
	KindAuth        = transport.KindAuth
	KindDisconnect  = transport.KindDisconnect
	KindChannel     = transport.KindChannel
	KindUsage       = transport.KindUsage
)

// Error is the single error type returned by this package's API. It is a
// type alias for the transport-internal error so callers can use
// errors.As(err, &e) with e declared as *tinyssh.Error, without this
// package wrapping every cause a second time.
type Error = transport.Error
