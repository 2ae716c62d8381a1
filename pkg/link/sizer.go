package link

// ChunkSize computes the maximum payload bytes per send that fit both the
// negotiated ATT MTU and a single link-layer data PDU.
//
// The result is the min of the ATT payload bound (MTU minus the notification
// header, capped at the attribute value maximum) and the per-PDU bound
// (octets minus L2CAP+ATT headers and, on an encrypted link, the MIC),
// floored at MinChunkBytes so the sender always makes progress.
//
// The profile is accepted for signature stability: a throughput profile may
// eventually span multiple PDUs per notification, but the single-PDU policy
// is currently applied for every profile.
func ChunkSize(mtu, llOctets uint16, encrypted bool, _ Profile) int {
	attPayload := 0
	if mtu > ATTHeaderBytes {
		attPayload = int(mtu) - ATTHeaderBytes
	}
	if attPayload > MaxAttValueBytes {
		attPayload = MaxAttValueBytes
	}

	overhead := ATTHeaderBytes + L2CAPHeaderBytes
	if encrypted {
		overhead += MICBytes
	}
	perPDU := 0
	if int(llOctets) > overhead {
		perPDU = int(llOctets) - overhead
	}

	chunk := attPayload
	if perPDU < chunk {
		chunk = perPDU
	}
	if chunk < MinChunkBytes {
		chunk = MinChunkBytes
	}
	return chunk
}

// Over-the-air framing overhead per data PDU, in bytes: access address (4),
// PDU header (2), CRC (3). The preamble is 1 byte at 1M and 2 bytes at 2M.
const (
	aaHeaderCrcBytes = 4 + 2 + 3
	preamble1MBytes  = 1
	preamble2MBytes  = 2

	// tIFSUs is the inter-frame space between consecutive PDUs.
	tIFSUs = 150

	// codedFixedUs covers the coded PHY's uncompressible FEC block 1:
	// 80us preamble + 256us access address + 16us CI + 24us TERM1.
	codedFixedUs = 376
)

// PDUTimeUs models the over-the-air transmit time of one link-layer data
// PDU carrying llOctets payload bytes, in microseconds.
//
// Uncoded PHYs transmit 8 bits per byte at the symbol rate (1 or 2 Msym/s).
// The coded PHY repeats every payload symbol S times on top of a fixed
// FEC preamble block. The inter-frame space is included since the pacing
// floor is about how fast back-to-back PDUs can drain.
func PDUTimeUs(llOctets uint16, phy PHY, coding Coding) uint32 {
	switch phy {
	case PHY2M:
		bits := 8 * uint32(preamble2MBytes+aaHeaderCrcBytes+int(llOctets))
		return bits/2 + tIFSUs
	case PHYCoded:
		s := coding.Factor()
		if s == 1 {
			s = 8 // coded link with unknown scheme: assume the robust one
		}
		bits := 8 * uint32(2+3+int(llOctets)) // header + CRC + payload in FEC block 2
		return codedFixedUs + bits*s + tIFSUs
	default: // PHY1M
		bits := 8 * uint32(preamble1MBytes+aaHeaderCrcBytes+int(llOctets))
		return bits + tIFSUs
	}
}

// MinSendIntervalUs computes the minimum time between sends so the link
// layer can drain one staged chunk before the next arrives.
//
// The chunk plus L2CAP and ATT headers is fragmented across
// ceil(total/usable) PDUs, where usable excludes the MIC on encrypted
// links; the per-profile guard percentage absorbs scheduling jitter and
// controller overhead the model does not capture.
func MinSendIntervalUs(chunkSize int, llOctets uint16, llTimeUs uint32, profile Profile, encrypted bool) uint32 {
	usable := int(llOctets)
	if encrypted {
		usable -= MICBytes
	}
	if usable < 1 {
		usable = 1
	}

	total := chunkSize + L2CAPHeaderBytes + ATTHeaderBytes
	numPDUs := uint32((total + usable - 1) / usable)
	if numPDUs == 0 {
		numPDUs = 1
	}

	return numPDUs * llTimeUs * profile.guardPct() / 100
}
