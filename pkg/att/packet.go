package att

type Packet interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

// MaxAttributeLen is the largest attribute value the protocol allows.
// Vol 3, Part F, Section 3.2.9 of the Bluetooth Core Specification.
const MaxAttributeLen = 512
