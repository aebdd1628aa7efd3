// Package classify supplies the opaque classification capability the
// router consults for expert and difficulty routing (§4.5, §9 "Classifier
// absence"). The interface is intentionally narrow: the pipeline never
// knows whether a call is served by a local model, a rule table, or the
// heuristic stub shipped here.
package classify

import (
	"context"
	"strings"

	"github.com/inferswitch/gateway/internal/canonical"
)

// Classifier maps a message sequence to a routing signal.
type Classifier interface {
	// Expert returns the name of the best-matching entry in experts
	// (name -> natural-language description). Returns "" when no expert
	// is a confident match; the router then falls through to the next
	// resolution rule, per §9's degrade-gracefully design note.
	Expert(ctx context.Context, messages []canonical.Message, experts map[string]string) string

	// Difficulty returns an integer bucket estimating query complexity.
	Difficulty(ctx context.Context, messages []canonical.Message) int
}

// Heuristic is a dependency-free stand-in classifier: keyword matching
// for expert routing, message/content length for difficulty. It exists
// so routing rules 3 and 4 are exercisable without an external model,
// matching original_source's own fallback behavior when no local
// classifier is available.
type Heuristic struct{}

func NewHeuristic() Heuristic { return Heuristic{} }

func (Heuristic) Expert(_ context.Context, messages []canonical.Message, experts map[string]string) string {
	text := strings.ToLower(flatten(messages))
	best := ""
	bestScore := 0
	for name, desc := range experts {
		score := 0
		for _, word := range strings.Fields(strings.ToLower(desc)) {
			word = strings.Trim(word, ".,;:()")
			if len(word) < 4 {
				continue
			}
			if strings.Contains(text, word) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = name
		}
	}
	return best
}

func (Heuristic) Difficulty(_ context.Context, messages []canonical.Message) int {
	n := len(flatten(messages))
	switch {
	case n < 200:
		return 0
	case n < 800:
		return 1
	case n < 3000:
		return 2
	default:
		return 3
	}
}

func flatten(messages []canonical.Message) string {
	var b strings.Builder
	for _, m := range messages {
		for _, c := range m.Content {
			if c.Type == canonical.BlockText {
				b.WriteString(c.Text)
				b.WriteByte(' ')
			}
		}
	}
	return b.String()
}
