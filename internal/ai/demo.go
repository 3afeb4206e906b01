package ai

import (
	"fmt"
	"strings"
)

// DemoReply is served in place of a model answer when the provider fails.
func DemoReply(prompt string, cause error) string {
	return fmt.Sprintf("Demo response for: '%s'. (API error: %v)", prompt, cause)
}

// DemoTokens splits the demo reply into word tokens, each followed by a space.
func DemoTokens(prompt string, cause error) []string {
	words := strings.Fields(DemoReply(prompt, cause))
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, w+" ")
	}
	return out
}
