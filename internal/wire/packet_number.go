package wire

import "github.com/quicclient/quicclient/internal/protocol"

// DecodePacketNumber reconstructs a full packet number from its
// on-the-wire truncated form, per RFC 9000 Appendix A: the truncated
// value is widened into the candidate nearest largestPN+1.
func DecodePacketNumber(largestPN protocol.PacketNumber, truncatedPN uint32, pnLen int) protocol.PacketNumber {
	expectedPN := int64(largestPN) + 1
	pnWin := int64(1) << uint(8*pnLen)
	pnHwin := pnWin / 2
	pnMask := pnWin - 1

	candidatePN := (expectedPN &^ pnMask) | int64(truncatedPN)
	switch {
	case candidatePN <= expectedPN-pnHwin && candidatePN < (int64(1)<<62)-pnWin:
		candidatePN += pnWin
	case candidatePN > expectedPN+pnHwin && candidatePN >= pnWin:
		candidatePN -= pnWin
	}
	return protocol.PacketNumber(candidatePN)
}

// EncodePacketNumberLength returns the fewest bytes (1-4) needed to
// encode pn such that it unambiguously decodes relative to
// largestAcked, mirroring protocol.GetPacketNumberLengthForHeader but
// exposed here for the write path's header construction.
func EncodePacketNumberLength(pn, largestAcked protocol.PacketNumber) protocol.PacketNumberLen {
	return protocol.GetPacketNumberLengthForHeader(pn, largestAcked)
}
