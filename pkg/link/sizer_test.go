package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkSize(t *testing.T) {
	tests := []struct {
		name      string
		mtu       uint16
		llOctets  uint16
		encrypted bool
		want      int
	}{
		{
			// Scenario: worst-case negotiation clamps to the practical floor
			// instead of going negative or zero.
			name:     "minimum MTU clamps to floor",
			mtu:      23,
			llOctets: 27,
			want:     20,
		},
		{
			name:     "default MTU bounded by single PDU",
			mtu:      247,
			llOctets: 251,
			want:     244, // 251 - 7 header bytes
		},
		{
			name:     "ATT payload is the binding constraint",
			mtu:      100,
			llOctets: 251,
			want:     97, // mtu - 3
		},
		{
			name:      "encryption subtracts the MIC",
			mtu:       247,
			llOctets:  251,
			encrypted: true,
			want:      240, // 251 - 7 - 4
		},
		{
			name:     "huge MTU capped at attribute value maximum",
			mtu:      MaxMTU,
			llOctets: 1000,
			want:     MaxAttValueBytes,
		},
		{
			name:     "tiny octets clamp to floor",
			mtu:      247,
			llOctets: 10,
			want:     20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChunkSize(tt.mtu, tt.llOctets, tt.encrypted, ProfileBalanced)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Holding MTU fixed, the chunk never grows when octets shrink or when
// encryption turns on.
func TestChunkSizeMonotonicity(t *testing.T) {
	const mtu = 247

	prev := ChunkSize(mtu, 251, false, ProfileBalanced)
	for oct := uint16(250); oct >= 27; oct-- {
		cur := ChunkSize(mtu, oct, false, ProfileBalanced)
		assert.LessOrEqual(t, cur, prev, "octets %d", oct)
		prev = cur
	}

	for _, oct := range []uint16{27, 100, 251} {
		plain := ChunkSize(mtu, oct, false, ProfileBalanced)
		enc := ChunkSize(mtu, oct, true, ProfileBalanced)
		assert.LessOrEqual(t, enc, plain, "octets %d", oct)
	}
}

func TestPDUTimeUs(t *testing.T) {
	// Full-size PDU times should land near the classic DLE planning
	// numbers: ~2120us at 1M, ~1060us at 2M, ~17000us coded S8.
	t1m := PDUTimeUs(251, PHY1M, CodingNone)
	assert.InDelta(t, 2120, float64(t1m), 200)

	t2m := PDUTimeUs(251, PHY2M, CodingNone)
	assert.InDelta(t, 1060, float64(t2m), 200)

	ts8 := PDUTimeUs(251, PHYCoded, CodingS8)
	assert.InDelta(t, 16960, float64(ts8), 800)

	ts2 := PDUTimeUs(251, PHYCoded, CodingS2)
	assert.Less(t, ts2, ts8)
	assert.Greater(t, ts2, t1m)

	// 2M is strictly faster than 1M for the same payload.
	assert.Less(t, t2m, t1m)

	// Coded with unknown scheme assumes S=8.
	assert.Equal(t, ts8, PDUTimeUs(251, PHYCoded, CodingNone))
}

func TestPDUTimeGrowsWithOctets(t *testing.T) {
	for _, phy := range []PHY{PHY1M, PHY2M, PHYCoded} {
		prev := PDUTimeUs(27, phy, CodingS2)
		for oct := uint16(28); oct <= 251; oct += 16 {
			cur := PDUTimeUs(oct, phy, CodingS2)
			assert.Greater(t, cur, prev, "phy %s octets %d", phy, oct)
			prev = cur
		}
	}
}

func TestMinSendIntervalUs(t *testing.T) {
	const llTime = 2120

	// 244-byte chunk + 7 header bytes fits exactly one 251-octet PDU.
	one := MinSendIntervalUs(244, 251, llTime, ProfileFast, false)
	assert.Equal(t, uint32(llTime*103/100), one)

	// One byte more forces a second PDU.
	two := MinSendIntervalUs(245, 251, llTime, ProfileFast, false)
	assert.Equal(t, uint32(2*llTime*103/100), two)

	// Encryption shrinks the usable octets and can add a PDU.
	encrypted := MinSendIntervalUs(244, 251, llTime, ProfileFast, true)
	assert.Equal(t, uint32(2*llTime*103/100), encrypted)
}

// Holding link parameters fixed, the interval never shrinks as the chunk
// grows.
func TestMinSendIntervalMonotonicity(t *testing.T) {
	prev := MinSendIntervalUs(20, 251, 2120, ProfileBalanced, false)
	for chunk := 21; chunk <= 512; chunk++ {
		cur := MinSendIntervalUs(chunk, 251, 2120, ProfileBalanced, false)
		assert.GreaterOrEqual(t, cur, prev, "chunk %d", chunk)
		prev = cur
	}
}

func TestGuardFactorOrdering(t *testing.T) {
	// The throughput profile paces tightest; the long-range profile loosest.
	fast := MinSendIntervalUs(244, 251, 2120, ProfileFast, false)
	balanced := MinSendIntervalUs(244, 251, 2120, ProfileBalanced, false)
	lowPower := MinSendIntervalUs(244, 251, 2120, ProfileLowPower, false)
	longRange := MinSendIntervalUs(244, 251, 2120, ProfileLongRange, false)

	assert.Less(t, fast, balanced)
	assert.Less(t, balanced, lowPower)
	assert.Less(t, lowPower, longRange)
}

func TestParseProfile(t *testing.T) {
	for name, want := range map[string]Profile{
		"fast":       ProfileFast,
		"balanced":   ProfileBalanced,
		"longrange":  ProfileLongRange,
		"long-range": ProfileLongRange,
		"lowpower":   ProfileLowPower,
	} {
		got, err := ParseProfile(name)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseProfile("turbo")
	assert.Error(t, err)
}

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, uint16(MinMTU), p.MTU)
	assert.Equal(t, LLMaxOctets, p.LLOctets)
	assert.Equal(t, PHY1M, p.PHY)
	assert.Equal(t, PDUTimeUs(LLMaxOctets, PHY1M, CodingNone), p.LLTimeUs)
	assert.False(t, p.Encrypted)
}
