package pricing

import (
	"regexp"
	"strings"
)

// Prices are USD per token for each token kind
type Prices struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheWrite float64 `json:"cacheWrite"`
	CacheRead  float64 `json:"cacheRead"`
}

func perMillion(input, output, cacheWrite, cacheRead float64) Prices {
	return Prices{
		Input:      input / 1_000_000,
		Output:     output / 1_000_000,
		CacheWrite: cacheWrite / 1_000_000,
		CacheRead:  cacheRead / 1_000_000,
	}
}

// DefaultKey is the family used when nothing else matches (Sonnet tier)
const DefaultKey = "sonnet"

// fallbackPrices is the static table used until a remote catalog has been merged in.
// Keys are normalized family keys, see NormalizeModel.
var fallbackPrices = map[string]Prices{
	"opus-4-5":   perMillion(5, 25, 6.25, 0.50),
	"opus-4-1":   perMillion(15, 75, 18.75, 1.50),
	"opus-4":     perMillion(15, 75, 18.75, 1.50),
	"opus-3":     perMillion(15, 75, 18.75, 1.50),
	"sonnet-4-5": perMillion(3, 15, 3.75, 0.30),
	"sonnet-4":   perMillion(3, 15, 3.75, 0.30),
	"sonnet-3-7": perMillion(3, 15, 3.75, 0.30),
	"sonnet-3-5": perMillion(3, 15, 3.75, 0.30),
	"haiku-4-5":  perMillion(1, 5, 1.25, 0.10),
	"haiku-3-5":  perMillion(0.80, 4, 1.0, 0.08),
	"haiku-3":    perMillion(0.25, 1.25, 0.30, 0.03),

	"opus":   perMillion(15, 75, 18.75, 1.50),
	"sonnet": perMillion(3, 15, 3.75, 0.30),
	"haiku":  perMillion(0.80, 4, 1.0, 0.08),
}

var (
	// claude-opus-4-5-20251101, claude-sonnet-4-20250514, claude-haiku-4.5
	familyFirst = regexp.MustCompile(`(opus|sonnet|haiku)[-_ ]?(\d)(?:[-.](\d))?(?:\D|$)`)
	// claude-3-5-sonnet-20241022, claude-3-opus-20240229
	versionFirst = regexp.MustCompile(`(\d)(?:[-.](\d))?-(opus|sonnet|haiku)`)
	familyOnly   = regexp.MustCompile(`opus|sonnet|haiku`)
)

// NormalizeModel maps a model id onto its canonical family key, e.g.
// "claude-opus-4-5-20251101" -> "opus-4-5" and "claude-3-5-sonnet-20241022" -> "sonnet-3-5".
// Unknown models return "".
func NormalizeModel(model string) string {
	lower := strings.ToLower(strings.TrimSpace(model))
	if lower == "" {
		return ""
	}

	if m := familyFirst.FindStringSubmatch(lower); m != nil {
		return joinKey(m[1], m[2], m[3])
	}
	if m := versionFirst.FindStringSubmatch(lower); m != nil {
		return joinKey(m[3], m[1], m[2])
	}
	return familyOnly.FindString(lower)
}

func joinKey(family, major, minor string) string {
	key := family + "-" + major
	if minor != "" {
		key += "-" + minor
	}
	return key
}

// candidateKeys lists the lookup keys for model from most to least specific
func candidateKeys(model string) []string {
	keys := make([]string, 0, 4)
	if trimmed := strings.TrimSpace(model); trimmed != "" {
		keys = append(keys, trimmed)
	}

	normalized := NormalizeModel(model)
	if normalized == "" {
		return keys
	}
	keys = append(keys, normalized)

	// family-major, then family alone
	parts := strings.Split(normalized, "-")
	if len(parts) == 3 {
		keys = append(keys, parts[0]+"-"+parts[1])
	}
	if len(parts) >= 2 {
		keys = append(keys, parts[0])
	}
	return keys
}
