// Package qerr implements the error taxonomy from spec §7: transport
// errors carrying a QUIC transport error code, application errors
// surfaced from the upper layer, and client-local errors for failures
// that never cross the wire.
package qerr

import "fmt"

// ErrorCode is a QUIC transport error code (RFC 9000 §20.1).
type ErrorCode uint64

const (
	NoError ErrorCode = iota
	InternalError
	ConnectionRefused
	FlowControlError
	StreamLimitError
	StreamStateError
	FinalSizeError
	FrameEncodingError
	TransportParameterError
	ConnectionIDLimitError
	ProtocolViolation
	InvalidToken
	ApplicationErrorCode
	CryptoBufferExceeded
	KeyUpdateError
	AEADLimitReached
	NoViablePath
)

func (e ErrorCode) String() string {
	switch e {
	case NoError:
		return "NO_ERROR"
	case InternalError:
		return "INTERNAL_ERROR"
	case ConnectionRefused:
		return "CONNECTION_REFUSED"
	case FlowControlError:
		return "FLOW_CONTROL_ERROR"
	case StreamLimitError:
		return "STREAM_LIMIT_ERROR"
	case StreamStateError:
		return "STREAM_STATE_ERROR"
	case FinalSizeError:
		return "FINAL_SIZE_ERROR"
	case FrameEncodingError:
		return "FRAME_ENCODING_ERROR"
	case TransportParameterError:
		return "TRANSPORT_PARAMETER_ERROR"
	case ConnectionIDLimitError:
		return "CONNECTION_ID_LIMIT_ERROR"
	case ProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case InvalidToken:
		return "INVALID_TOKEN"
	case ApplicationErrorCode:
		return "APPLICATION_ERROR"
	case CryptoBufferExceeded:
		return "CRYPTO_BUFFER_EXCEEDED"
	case KeyUpdateError:
		return "KEY_UPDATE_ERROR"
	case AEADLimitReached:
		return "AEAD_LIMIT_REACHED"
	case NoViablePath:
		return "NO_VIABLE_PATH"
	default:
		return fmt.Sprintf("unknown error code: %d", uint64(e))
	}
}

// CryptoAlertError wraps the TLS alert value that triggered a CRYPTO_ERROR.
func CryptoAlertError(alert uint8) ErrorCode {
	// CRYPTO_ERROR codes occupy 0x0100-0x01ff, offset by the alert description.
	return ErrorCode(0x100 + uint64(alert))
}

// TransportError is an error that must be signalled to the peer via a
// CONNECTION_CLOSE frame carrying a transport error code.
type TransportError struct {
	ErrorCode    ErrorCode
	FrameType    uint64
	ErrorMessage string
}

func (e *TransportError) Error() string {
	if e.ErrorMessage == "" {
		return e.ErrorCode.String()
	}
	return fmt.Sprintf("%s: %s", e.ErrorCode, e.ErrorMessage)
}

// ApplicationError is an error code surfaced by the upper (stream) layer,
// closed out with an application-level CONNECTION_CLOSE.
type ApplicationError struct {
	ErrorCode    uint64
	ErrorMessage string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("application error %#x: %s", e.ErrorCode, e.ErrorMessage)
}

// LocalErrorCode enumerates client-local failures that never become a QUIC
// wire error code directly, though some (EarlyDataRejected) still cause a
// CONNECTION_CLOSE under a synthesized transport code.
type LocalErrorCode uint8

const (
	EarlyDataRejected LocalErrorCode = iota
	ConnectionReset
	IdleTimeout
	HandshakeFailed
)

func (c LocalErrorCode) String() string {
	switch c {
	case EarlyDataRejected:
		return "EARLY_DATA_REJECTED"
	case ConnectionReset:
		return "CONNECTION_RESET"
	case IdleTimeout:
		return "IDLE_TIMEOUT"
	case HandshakeFailed:
		return "HANDSHAKE_FAILED"
	default:
		return "UNKNOWN_LOCAL_ERROR"
	}
}

// LocalError is a client-local failure: it never crossed the wire as such,
// but may still cause the transport to emit a CONNECTION_CLOSE.
type LocalError struct {
	ErrorCode LocalErrorCode
	Wrapped   error
}

func (e *LocalError) Error() string {
	if e.Wrapped == nil {
		return e.ErrorCode.String()
	}
	return fmt.Sprintf("%s: %v", e.ErrorCode, e.Wrapped)
}

func (e *LocalError) Unwrap() error { return e.Wrapped }
