// Package link models the negotiated BLE link parameters and derives frame
// sizing and pacing floors from them.
//
// All derivation functions are pure; the owner recomputes them on every MTU,
// PHY, or data-length change event and resets dependent pacing state.
package link

import "fmt"

// Protocol sizing constants (BLE 4.2/5.x, ATT over L2CAP).
const (
	ATTHeaderBytes   = 3 // opcode + handle of a notification
	L2CAPHeaderBytes = 4
	MICBytes         = 4 // link-layer auth tag when the link is encrypted

	MinMTU           = 23
	DefaultMTU       = 247
	MaxMTU           = 517
	MaxAttValueBytes = 512 // attribute value cap regardless of MTU

	// MinChunkBytes guarantees forward progress even under worst-case
	// negotiation (MTU 23 leaves exactly 20 payload bytes).
	MinChunkBytes = 20

	LLMinOctets uint16 = 27
	LLMaxOctets uint16 = 251
)

// PHY identifies the radio modulation in use.
type PHY uint8

const (
	PHY1M PHY = iota
	PHY2M
	PHYCoded
)

func (p PHY) String() string {
	switch p {
	case PHY1M:
		return "1M"
	case PHY2M:
		return "2M"
	case PHYCoded:
		return "Coded"
	default:
		return fmt.Sprintf("PHY(%d)", uint8(p))
	}
}

// Coding is the redundancy factor of the coded PHY.
type Coding uint8

const (
	CodingNone Coding = iota
	CodingS2
	CodingS8
)

func (c Coding) String() string {
	switch c {
	case CodingNone:
		return "none"
	case CodingS2:
		return "S2"
	case CodingS8:
		return "S8"
	default:
		return fmt.Sprintf("Coding(%d)", uint8(c))
	}
}

// Factor returns the symbol redundancy multiplier (1 when uncoded).
func (c Coding) Factor() uint32 {
	switch c {
	case CodingS2:
		return 2
	case CodingS8:
		return 8
	default:
		return 1
	}
}

// Profile selects the transport tuning: how aggressively the sender paces
// relative to the modeled link-layer drain time.
type Profile uint8

const (
	ProfileFast Profile = iota
	ProfileBalanced
	ProfileLongRange
	ProfileLowPower
)

func (p Profile) String() string {
	switch p {
	case ProfileFast:
		return "fast"
	case ProfileBalanced:
		return "balanced"
	case ProfileLongRange:
		return "longrange"
	case ProfileLowPower:
		return "lowpower"
	default:
		return fmt.Sprintf("Profile(%d)", uint8(p))
	}
}

// ParseProfile converts a profile name as accepted on the command line.
func ParseProfile(s string) (Profile, error) {
	switch s {
	case "fast":
		return ProfileFast, nil
	case "balanced":
		return ProfileBalanced, nil
	case "longrange", "long-range":
		return ProfileLongRange, nil
	case "lowpower", "low-power":
		return ProfileLowPower, nil
	default:
		return ProfileBalanced, fmt.Errorf("unknown profile %q (must be fast, balanced, longrange, or lowpower)", s)
	}
}

// guardPct returns the per-profile safety guard applied to the modeled
// drain time, in percent. Tighter for throughput profiles, looser where
// scheduling jitter dominates.
func (p Profile) guardPct() uint32 {
	switch p {
	case ProfileFast:
		return 103
	case ProfileBalanced:
		return 108
	case ProfileLongRange:
		return 115
	case ProfileLowPower:
		return 112
	default:
		return 110
	}
}

// Params holds the currently negotiated link parameters. They are mutated
// only by link-parameter-change events (connect, disconnect, MTU update,
// PHY update, data-length update) and read by the sizing functions.
type Params struct {
	MTU       uint16
	LLOctets  uint16
	LLTimeUs  uint32
	PHY       PHY
	Coding    Coding
	Encrypted bool
}

// DefaultParams returns the conservative pre-negotiation assumption:
// minimum MTU, maximum proposed octets, uncoded 1M timing.
func DefaultParams() Params {
	return Params{
		MTU:      MinMTU,
		LLOctets: LLMaxOctets,
		LLTimeUs: PDUTimeUs(LLMaxOctets, PHY1M, CodingNone),
		PHY:      PHY1M,
		Coding:   CodingNone,
	}
}

func (p Params) String() string {
	enc := ""
	if p.Encrypted {
		enc = " enc"
	}
	if p.PHY == PHYCoded {
		return fmt.Sprintf("mtu=%d ll=%d/%dus phy=Coded(%s)%s", p.MTU, p.LLOctets, p.LLTimeUs, p.Coding, enc)
	}
	return fmt.Sprintf("mtu=%d ll=%d/%dus phy=%s%s", p.MTU, p.LLOctets, p.LLTimeUs, p.PHY, enc)
}
