package fair

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// GROWTH_RATE is the exponent of the live curve: multiplier(t) = e^(rate*t).
	// At 0.07/s the multiplier doubles roughly every ten seconds.
	GROWTH_RATE = 0.07

	// HASH_BITS is how many leading bits of the round hash are mapped
	// onto [0,1). 52 bits keeps the uniform step well below the 0.01x
	// multiplier resolution.
	HASH_BITS = 52
)

var (
	// HOUSE_EDGE is the statistical edge encoded in the crash distribution.
	// It is not a fee line item; settlement never recomputes it.
	HOUSE_EDGE = decimal.RequireFromString("0.03")

	MIN_MULTIPLIER = decimal.RequireFromString("1.00")
	MAX_MULTIPLIER = decimal.RequireFromString("10000.00")

	one      = decimal.NewFromInt(1)
	hashSpan = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), HASH_BITS), 0)
)

// CrashPoint derives the crash multiplier for a round from the revealed
// seed. The whole path is fixed-point decimal arithmetic so any third
// party reproduces the exact same value from the published seed:
//
//	u     = first 52 bits of HMAC-SHA256(key=seed, msg=roundID) / 2^52
//	crash = trunc2((1 - HOUSE_EDGE) / (1 - u)), clamped to [1.00, MAX]
//
// Instant crashes (1.00x) are the floor of this distribution, not a
// special-cased draw: every u below ~0.04 truncates under 1.01.
func CrashPoint(seed string, roundID int64) decimal.Decimal {
	h := hmac.New(sha256.New, []byte(seed))
	fmt.Fprintf(h, "%d", roundID)
	sum := h.Sum(nil)

	raw := new(big.Int).SetBytes(sum[:8])
	raw.Rsh(raw, 64-HASH_BITS)
	u := decimal.NewFromBigInt(raw, 0).Div(hashSpan)

	crash := one.Sub(HOUSE_EDGE).Div(one.Sub(u)).Truncate(2)

	if crash.LessThan(MIN_MULTIPLIER) {
		return MIN_MULTIPLIER
	}
	if crash.GreaterThan(MAX_MULTIPLIER) {
		return MAX_MULTIPLIER
	}
	return crash
}

// Verify recomputes the crash point from a published seed and compares it
// against a claimed value. Decimal arithmetic makes this an exact match,
// no tolerance needed.
func Verify(seed string, roundID int64, claimed decimal.Decimal) bool {
	return CrashPoint(seed, roundID).Equal(claimed)
}

// MultiplierAt returns the live multiplier after the given rising time,
// truncated to two decimals. The crash transition and the cash-out
// boundary check both go through this function so they can never disagree
// about where the curve is.
func MultiplierAt(elapsed time.Duration) decimal.Decimal {
	if elapsed <= 0 {
		return MIN_MULTIPLIER
	}
	m := math.Exp(GROWTH_RATE * elapsed.Seconds())
	return decimal.NewFromFloat(m).Truncate(2)
}

// CrashDelay returns how long after the rising anchor the curve reaches
// the crash multiplier: t = ln(crash) / GROWTH_RATE. Deterministic the
// moment the seed is revealed.
func CrashDelay(crash decimal.Decimal) time.Duration {
	secs := math.Log(crash.InexactFloat64()) / GROWTH_RATE
	return time.Duration(secs * float64(time.Second))
}

// ElapsedAt inverts the curve: given an observed multiplier it returns
// the rising time that produced it. Lets a reconnecting client resync its
// animation from a single authoritative value.
func ElapsedAt(multiplier float64) time.Duration {
	if multiplier <= 1.0 {
		return 0
	}
	secs := math.Log(multiplier) / GROWTH_RATE
	return time.Duration(secs * float64(time.Second))
}

// GenerateSeed creates a cryptographically secure random seed.
func GenerateSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HashCommitment creates a SHA256 hash of a seed for pre-publication.
func HashCommitment(seed string) string {
	h := sha256.New()
	h.Write([]byte(seed))
	return hex.EncodeToString(h.Sum(nil))
}
