// Package cherrypick picks a marked set of commits onto the current branch,
// across the main repository and its submodules.
//
// [Analyze] turns the selection into a plan, dropping commits whose effect
// is cancelled by a revert inside the selection. A [Driver] then runs
// `git cherry-pick` for each step in the step's repository, handing
// conflicts to an optional AI resolver and pausing for the user when it
// cannot finish.
package cherrypick

import (
	"regexp"
	"slices"
	"strings"

	"github.com/timxx/qgitc-sub000/internal/commit"
)

var (
	revertPrefix  = `Revert "`
	reapplyPrefix = `Reapply "`
	revertsRe     = regexp.MustCompile(`This reverts commit ([0-9a-fA-F]{7,40})`)
)

// RevertDepth counts the nested Revert "…" and Reapply "…" prefixes of a
// subject. A plain commit has depth 0.
func RevertDepth(subject string) int {
	depth := 0
	s := strings.TrimSpace(subject)
	for {
		switch {
		case strings.HasPrefix(s, revertPrefix):
			s = s[len(revertPrefix):]
		case strings.HasPrefix(s, reapplyPrefix):
			s = s[len(reapplyPrefix):]
		default:
			return depth
		}
		depth++
	}
}

// RevertTarget returns the SHA-1 named by the last "This reverts commit"
// line of message.
func RevertTarget(message string) (string, bool) {
	m := revertsRe.FindAllStringSubmatch(message, -1)
	if len(m) == 0 {
		return "", false
	}
	return strings.ToLower(m[len(m)-1][1]), true
}

// Step is one commit of a plan. Index is its position in the selection.
type Step struct {
	Commit *commit.Commit
	Index  int
}

// Skip is a selected commit left out of the plan.
type Skip struct {
	Commit *commit.Commit
	Reason string
}

// Plan is the ordered work of a cherry-pick, oldest first.
type Plan struct {
	Steps   []Step
	Skipped []Skip
}

// Len returns the number of steps.
func (p *Plan) Len() int {
	return len(p.Steps)
}

// Analyze builds a plan from selected commits given newest first, as the
// log lists them. Sentinel commits are skipped. A commit reverted by
// another selected commit that is itself in effect is dropped together
// with its revert, since the pair cancels out. Reverting a revert puts the
// original back in effect, to any depth. Commits whose revert target lies
// outside the selection are picked as ordinary commits.
func Analyze(selected []*commit.Commit) Plan {
	var plan Plan

	var commits []*commit.Commit
	var indices []int
	for i, c := range selected {
		if !c.IsValid() {
			continue
		}
		if commit.IsSentinel(c.SHA1) {
			plan.Skipped = append(plan.Skipped, Skip{Commit: c, Reason: "local changes cannot be cherry-picked"})
			continue
		}
		commits = append(commits, c)
		indices = append(indices, i)
	}

	find := func(sha string, after int) int {
		for j := after + 1; j < len(commits); j++ {
			if sameSHA(commits[j].SHA1, sha) {
				return j
			}
		}
		return -1
	}

	// Walk newest to oldest: a commit is in effect unless a newer commit in
	// effect reverts it.
	reverted := make(map[int]int) // target -> reverting commit
	reverts := make(map[int]int)  // reverting commit -> target
	for i, c := range commits {
		if _, ok := reverted[i]; ok {
			continue
		}
		if RevertDepth(c.Subject) == 0 {
			continue
		}
		sha, ok := RevertTarget(c.Message)
		if !ok {
			continue
		}
		if t := find(sha, i); t >= 0 {
			reverted[t] = i
			reverts[i] = t
		}
	}

	for i := len(commits) - 1; i >= 0; i-- {
		c := commits[i]
		if by, ok := reverted[i]; ok {
			plan.Skipped = append(plan.Skipped, Skip{Commit: c, Reason: "reverted by " + commits[by].ShortSHA1(commit.ShortLen)})
			continue
		}
		if t, ok := reverts[i]; ok {
			plan.Skipped = append(plan.Skipped, Skip{Commit: c, Reason: "reverts " + commits[t].ShortSHA1(commit.ShortLen)})
			continue
		}
		plan.Steps = append(plan.Steps, Step{Commit: c, Index: indices[i]})
	}
	return plan
}

// Reverted returns the SHA-1s of the commits Analyze dropped because a
// revert in the selection cancelled them.
func (p *Plan) Reverted() []string {
	var out []string
	for _, s := range p.Skipped {
		if strings.HasPrefix(s.Reason, "reverted by ") {
			out = append(out, s.Commit.SHA1)
		}
	}
	slices.Sort(out)
	return out
}

func sameSHA(full, abbrev string) bool {
	full, abbrev = strings.ToLower(full), strings.ToLower(abbrev)
	if len(abbrev) > len(full) {
		full, abbrev = abbrev, full
	}
	return abbrev != "" && strings.HasPrefix(full, abbrev)
}

// List gives indexed access to the log rows.
type List interface {
	At(i int) (*commit.Commit, bool)
}

// Selection returns the commits at the marked rows, newest first.
func Selection(list List, m *commit.Marker) []*commit.Commit {
	var out []*commit.Commit
	for _, row := range m.MarkedIndices() {
		if c, ok := list.At(row); ok {
			out = append(out, c)
		}
	}
	return out
}
