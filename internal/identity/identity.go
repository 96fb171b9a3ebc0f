// Package identity derives the two deterministic identifiers attached to a
// submission: the content fingerprint used for deduplication and the
// branch-style name pushed to the participant's repository.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// DefaultRef is substituted when a submission omits requested_ref.
const DefaultRef = "main"

// branchSuffix is the literal tail appended to every derived branch name.
const branchSuffix = "_AI_Fix"

// ErrInvalidIdentity is returned when a team or leader name normalizes to
// an empty token. Surfaced to callers as an input error, never a fault.
var ErrInvalidIdentity = errors.New("identity: name normalizes to empty")

// Fingerprint computes the deduplication hash for a submission. The four
// fields are joined in fixed order with a '|' delimiter and hashed, so the
// digest is stable across process restarts and indifferent to how callers
// ordered their request fields. An empty requestedRef means DefaultRef:
// omitting the ref and passing "main" explicitly produce the same digest.
func Fingerprint(repoURL, teamName, leaderName, requestedRef string) string {
	if requestedRef == "" {
		requestedRef = DefaultRef
	}
	sum := sha256.Sum256([]byte(repoURL + "|" + teamName + "|" + leaderName + "|" + requestedRef))
	return hex.EncodeToString(sum[:])
}

// BranchName derives the branch identifier from the team and leader names.
// Both tokens are normalized independently, then joined with the fixed
// suffix. Either token normalizing to empty rejects the submission.
func BranchName(teamName, leaderName string) (string, error) {
	team := normalizeToken(teamName)
	if team == "" {
		return "", fmt.Errorf("%w: team_name %q", ErrInvalidIdentity, teamName)
	}
	leader := normalizeToken(leaderName)
	if leader == "" {
		return "", fmt.Errorf("%w: leader_name %q", ErrInvalidIdentity, leaderName)
	}
	return team + "_" + leader + branchSuffix, nil
}

// normalizeToken uppercases the name, collapses whitespace runs to single
// underscores, strips everything outside [A-Z0-9_], and collapses any
// leading, trailing or duplicate underscores that remain.
func normalizeToken(name string) string {
	upper := strings.ToUpper(strings.TrimSpace(name))

	var b strings.Builder
	b.Grow(len(upper))
	lastUnderscore := false
	for _, r := range upper {
		switch {
		case unicode.IsSpace(r) || r == '_':
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			// Dropped entirely; does not break an underscore run.
		}
	}
	return strings.TrimRight(b.String(), "_")
}
