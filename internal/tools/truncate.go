package tools

import (
	"fmt"

	"github.com/jeanpaul/redel/internal/provider"
)

// Truncate cuts s to roughly maxTokens estimated tokens. A non-positive
// budget leaves s untouched.
func Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 || provider.EstimateTokens(s) <= maxTokens {
		return s
	}
	cut := maxTokens * 4
	// back up to a rune boundary
	for cut > 0 && cut < len(s) && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return fmt.Sprintf("%s\n\n[output truncated: %d of ~%d tokens shown]", s[:cut], maxTokens, provider.EstimateTokens(s))
}
