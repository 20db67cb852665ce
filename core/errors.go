package core

import "errors"

// ErrorKind classifies every failure the core can produce into the taxonomy
// named in the design: each kind has one disposition (retry, drop, AE probe,
// wait, surface, back off, log). A CoreError pairs one of these kinds with a
// sentinel error below (matched via errors.Is), so callers can branch on
// disposition without string matching.
type ErrorKind uint8

const (
	KindTransport ErrorKind = iota
	KindSignature
	KindAERequired
	KindNotEnough
	KindNotFound
	KindCapacity
	KindProtocol
	KindConsensus
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindSignature:
		return "signature"
	case KindAERequired:
		return "ae-required"
	case KindNotEnough:
		return "not-enough"
	case KindNotFound:
		return "not-found"
	case KindCapacity:
		return "capacity"
	case KindProtocol:
		return "protocol"
	case KindConsensus:
		return "consensus"
	default:
		return "unknown"
	}
}

// CoreError is the typed error every fallible incoming operation returns.
// The core never panics on network input; handlers type-switch or
// errors.As on CoreError to decide disposition.
type CoreError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *CoreError) Error() string {
	if e.Err == nil {
		return e.Kind.String() + ": " + e.Op
	}
	return e.Kind.String() + ": " + e.Op + ": " + e.Err.Error()
}

func (e *CoreError) Unwrap() error { return e.Err }

func newErr(kind ErrorKind, op string, err error) *CoreError {
	return &CoreError{Kind: kind, Op: op, Err: err}
}

// Sentinel leaf errors used as the Err field / compared with errors.Is.
var (
	ErrUnknownKey       = errors.New("signing key not known")
	ErrForgedSignature  = errors.New("signature does not verify")
	ErrStaleDstKey      = errors.New("destination key is stale")
	ErrWrongPrefix      = errors.New("destination prefix does not match")
	ErrInvalidShare     = errors.New("share from elder outside signing set")
	ErrNotEnoughShares  = errors.New("fewer than threshold shares observed")
	ErrNoQuorum         = errors.New("no quorum of matching responses")
	ErrNoResponse       = errors.New("no elder responded before timeout")
	ErrChunkNotFound    = errors.New("chunk not found")
	ErrEntryNotFound    = errors.New("entry not found")
	ErrStorageFull      = errors.New("storage capacity exceeded")
	ErrRateLimited      = errors.New("rate limited")
	ErrMalformedMessage = errors.New("malformed wire message")
	ErrWrongKind        = errors.New("unexpected message kind")
	ErrDKGFailed        = errors.New("distributed key generation failed")
	ErrConflictingDecision = errors.New("conflicting membership decision")
	ErrAbandoned        = errors.New("message abandoned after max AE rounds")
	ErrHashMismatch     = errors.New("content hash does not match address")
)

// AEAction is what an Anti-Entropy check decided to do with an incoming
// message. It never fails the caller outright (see KindAERequired).
type AEAction int

const (
	AEAccept AEAction = iota
	AERedirect
	AERetry
	AEProbeDrop
)

// Public-facing error enum. Internal ErrorKind categorisations collapse into
// this small set at the client boundary, per the propagation policy.
type ClientError string

const (
	ClientErrNotFound         ClientError = "not_found"
	ClientErrNoResponse       ClientError = "no_response"
	ClientErrNotEnoughParts   ClientError = "not_enough_responses"
	ClientErrRateLimited      ClientError = "rate_limited"
	ClientErrInvalidArgument  ClientError = "invalid_argument"
	ClientErrInternal         ClientError = "internal"
)

func (c ClientError) Error() string { return string(c) }

// ToClientError collapses an internal CoreError into the small public enum.
func ToClientError(err error) ClientError {
	var ce *CoreError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case KindNotFound:
			return ClientErrNotFound
		case KindNotEnough:
			return ClientErrNotEnoughParts
		case KindCapacity:
			return ClientErrRateLimited
		case KindProtocol, KindSignature:
			return ClientErrInvalidArgument
		}
	}
	if errors.Is(err, ErrNoResponse) {
		return ClientErrNoResponse
	}
	return ClientErrInternal
}
