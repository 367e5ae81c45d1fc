package att

import "fmt"

type Error uint8

// Vol 3, Part F, Section 3.4.1.1 of the Bluetooth Core Specification
const (
	ErrInvalidHandle       Error = 0x01
	ErrReadNotPermitted    Error = 0x02
	ErrWriteNotPermitted   Error = 0x03
	ErrInvalidPDU          Error = 0x04
	ErrAuthentication      Error = 0x05
	ErrRequestNotSupported Error = 0x06
	ErrInvalidOffset       Error = 0x07
	ErrAuthorization       Error = 0x08
	ErrPrepareQueueFull    Error = 0x09
	ErrAttributeNotFound   Error = 0x0A
	ErrAttributeNotLong    Error = 0x0B
	ErrEncryptionKeySize   Error = 0x0C
	ErrInvalidAttributeLen Error = 0x0D
	ErrUnlikely            Error = 0x0E
	ErrInsufficientEnc     Error = 0x0F
	ErrUnsupportedGroup    Error = 0x10
	ErrInsufficientRes     Error = 0x11
)

func (e Error) Error() string {
	switch e {
	case ErrInvalidHandle:
		return "invalid handle"
	case ErrReadNotPermitted:
		return "read not permitted"
	case ErrWriteNotPermitted:
		return "write not permitted"
	case ErrInvalidPDU:
		return "invalid pdu"
	case ErrAuthentication:
		return "insufficient authentication"
	case ErrRequestNotSupported:
		return "request not supported"
	case ErrInvalidOffset:
		return "invalid offset"
	case ErrAuthorization:
		return "insufficient authorization"
	case ErrPrepareQueueFull:
		return "prepare queue full"
	case ErrAttributeNotFound:
		return "attribute not found"
	case ErrAttributeNotLong:
		return "attribute not long"
	case ErrEncryptionKeySize:
		return "insufficient encryption key size"
	case ErrInvalidAttributeLen:
		return "invalid attribute value length"
	case ErrUnlikely:
		return "unlikely error"
	case ErrInsufficientEnc:
		return "insufficient encryption"
	case ErrUnsupportedGroup:
		return "unsupported group type"
	case ErrInsufficientRes:
		return "insufficient resources"
	default:
		return fmt.Sprintf("att error 0x%02x", uint8(e))
	}
}
