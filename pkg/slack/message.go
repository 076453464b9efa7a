package slack

import (
	"fmt"
	"strings"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"

	"github.com/codeready-toolchain/agentrun/pkg/faults"
)

const maxBlockTextLength = 2900

// BuildCriticalErrorMessage returns the fallback text and Block Kit blocks
// for a critical error. Only identifiers are included: the error message
// and the user's input never leave the process.
func BuildCriticalErrorMessage(rec faults.ErrorRecord) (string, []goslack.Block) {
	fp := Fingerprint(rec)
	fallback := fmt.Sprintf("Critical error %s (%s) %s", rec.Code, rec.Category, fp)

	var b strings.Builder
	fmt.Fprintf(&b, ":rotating_light: *Critical error* `%s`\n", rec.Code)
	fmt.Fprintf(&b, "*Category:* %s\n", rec.Category)
	if agent := rec.Context["agent"]; agent != "" {
		fmt.Fprintf(&b, "*Agent:* %s\n", agent)
	}
	if id := rec.Context["correlation_id"]; id != "" {
		fmt.Fprintf(&b, "*Correlation ID:* `%s`\n", id)
	}
	fmt.Fprintf(&b, "*Error ID:* `%s`", rec.ErrorID)

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(b.String()), false, false),
			nil, nil,
		),
		goslack.NewContextBlock("",
			goslack.NewTextBlockObject(goslack.MarkdownType, fp, false, false),
		),
	}
	return fallback, blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	cut := maxBlockTextLength - len("...")
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
