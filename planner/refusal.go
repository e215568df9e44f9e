package planner

import (
	"strings"

	"github.com/PipeOpsHQ/vnc-use-go/types"
)

var refusalIndicators = []string{
	"i cannot",
	"i can't",
	"i'm not able to",
	"unsafe",
	"dangerous",
	"i shouldn't",
	"i won't",
	"cannot comply",
}

// DetectRefusal synthesizes a block verdict for providers without native
// safety signalling. It only fires when the model proposed no calls and its
// text reads like a refusal.
func DetectRefusal(text string, calls int) *types.SafetyVerdict {
	if calls > 0 {
		return nil
	}
	lower := strings.ToLower(strings.ReplaceAll(text, "\u2019", "'"))
	for _, indicator := range refusalIndicators {
		if strings.Contains(lower, indicator) {
			return &types.SafetyVerdict{
				Action: types.VerdictBlock,
				Reason: "Model refused: " + truncateRunes(text, 200),
			}
		}
	}
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
