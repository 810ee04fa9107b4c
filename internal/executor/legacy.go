package executor

import "strings"

// AwaitingInputSignal is the line appended to the output of a suspended run.
//
// Older execution services had no structured status and signalled suspension
// only by printing this phrase, so Client can optionally fall back to
// matching it. That fallback is off by default: a program that prints the
// phrase itself would be mistaken for a suspended one.
const AwaitingInputSignal = "Waiting for input:"

// hasLegacySentinel reports whether output carries the legacy suspend phrase.
func hasLegacySentinel(output string) bool {
	return strings.Contains(output, AwaitingInputSignal)
}
