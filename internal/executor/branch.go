package executor

import (
	"strings"
)

// BranchPrefix namespaces every branch the orchestrator asks workers to
// create.
const BranchPrefix = "oi/"

// MaxBranchIDLength caps the `<taskID>-<slug>` part of a branch name.
const MaxBranchIDLength = 40

// BranchName returns the deterministic branch a task's worker is expected to
// use: oi/<taskID>-<slugified title>. Computed at spawn time so a resumed run
// can still find the branch if the remote session never reports one.
func BranchName(taskID, title string) string {
	return BranchPrefix + branchID(taskID, title)
}

// branchID slugifies "<taskID>-<title>": lowercase, runs of non-alphanumeric
// characters collapsed to single hyphens, no leading or trailing hyphens,
// truncated to MaxBranchIDLength.
func branchID(taskID, title string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(taskID + "-" + title) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			pendingHyphen = b.Len() > 0
			continue
		}
		if pendingHyphen {
			b.WriteByte('-')
			pendingHyphen = false
		}
		b.WriteRune(r)
	}

	id := b.String()
	if len(id) > MaxBranchIDLength {
		id = strings.TrimRight(id[:MaxBranchIDLength], "-")
	}
	return id
}
