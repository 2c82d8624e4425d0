package quicclient

import (
	"github.com/quicclient/quicclient/internal/ackhandler"
	"github.com/quicclient/quicclient/internal/protocol"
	"github.com/quicclient/quicclient/internal/wire"
)

// FrameCodec is the external frame layer spec §6 names ("the frame codecs
// themselves are external"): the dispatch loop stages ackhandler.Frame
// values and calls EncodePacket to turn them into the ciphertext-ready
// plaintext payload it hands to the handshake's AEAD, and calls
// DecodePacket on an already-decrypted payload to recover the frames it
// carried so it can route CRYPTO frames to the handshake, ACK frames to
// the ackhandler, and everything else to the (likewise external) stream
// layer.
type FrameCodec interface {
	EncodePacket(frames []ackhandler.Frame, maxSize protocol.ByteCount) (payload []byte, encoded []ackhandler.Frame, err error)
	DecodePacket(payload []byte) ([]DecodedFrame, error)
}

// DecodedFrame is a tagged union over the frame kinds the dispatch loop
// itself understands and must route. StreamData carries everything the
// codec parsed that belongs to the (external) stream layer, opaque to
// this package.
type DecodedFrame struct {
	Crypto *CryptoFrameData
	Ack    *wire.AckFrame

	StreamID   uint64
	StreamData []byte
	IsStream   bool
}

// CryptoFrameData is a parsed CRYPTO frame: the encryption level it
// arrived at (implied by which packet it was coalesced into, filled in by
// the caller) and its payload bytes.
type CryptoFrameData struct {
	EncryptionLevel protocol.EncryptionLevel
	Data            []byte
}
