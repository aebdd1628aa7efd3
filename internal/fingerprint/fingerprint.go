// Package fingerprint derives a deterministic cache key from the
// semantic fields of a canonical request (§3, §4.4), scrubbing the
// non-deterministic noise that coding-agent clients routinely inject
// (environment blocks, timestamps, ephemeral cache_control tags).
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/inferswitch/gateway/internal/canonical"
)

var (
	environmentDetails = regexp.MustCompile(`(?s)<environment_details>.*?</environment_details>\s*`)
	timestampLine       = regexp.MustCompile(`(?i)(Current Time|Timestamp|Date):\s*[^\n]+\n?`)
)

func scrubText(s string) string {
	s = environmentDetails.ReplaceAllString(s, "")
	s = timestampLine.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// isEphemeral reports whether a cache_control directive is
// {"type":"ephemeral", ...}. Ephemeral-tagged text blocks are excluded
// from the fingerprint entirely, since their presence is a caching hint
// to the upstream provider, not semantic request content.
func isEphemeral(cacheControl json.RawMessage) bool {
	if len(cacheControl) == 0 {
		return false
	}
	var cc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(cacheControl, &cc); err != nil {
		return false
	}
	return cc.Type == "ephemeral"
}

// keyFields is the subset of a request that participates in the
// fingerprint, in a form that marshals deterministically: all maps use
// Go's native sorted-key JSON encoding, and slices are already in a
// stable, scrubbed order.
type keyFields struct {
	Model         string             `json:"model"`
	System        []string           `json:"system,omitempty"`
	Messages      []keyMessage       `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	TopK          *int               `json:"top_k,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Tools         []canonical.Tool   `json:"tools,omitempty"`
}

type keyMessage struct {
	Role    string                `json:"role"`
	Content []canonical.ContentBlock `json:"content"`
}

// Compute derives the hex-encoded SHA-256 fingerprint of req. model is
// the client-facing model id (post-override, pre-routing; see §9 Open
// Question on fingerprint model identity).
func Compute(req canonical.Request, model string) string {
	kf := keyFields{
		Model:         model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: append([]string(nil), req.StopSequences...),
		Tools:         req.Tools,
	}

	sys := make([]string, 0, len(req.System))
	for _, b := range req.System {
		if t := scrubText(b.Text); t != "" {
			sys = append(sys, t)
		}
	}
	sort.Strings(sys)
	kf.System = sys

	kf.Messages = make([]keyMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		blocks := make([]canonical.ContentBlock, 0, len(m.Content))
		for _, b := range m.Content {
			if b.Type == canonical.BlockText {
				if isEphemeral(b.CacheControl) {
					continue
				}
				if strings.HasPrefix(b.Text, "<environment_details>") {
					continue
				}
				t := scrubText(b.Text)
				if t == "" {
					continue
				}
				blocks = append(blocks, canonical.ContentBlock{Type: canonical.BlockText, Text: t})
				continue
			}
			blocks = append(blocks, b)
		}
		kf.Messages = append(kf.Messages, keyMessage{Role: string(m.Role), Content: blocks})
	}

	// encoding/json sorts map keys deterministically; no maps appear
	// directly here, but Tool.InputSchema/ContentBlock.Input are
	// json.RawMessage and are hashed byte-for-byte as the client sent
	// them, which is acceptable since tool/input schemas are themselves
	// client-authored and rarely vary key order between identical calls.
	data, err := json.Marshal(kf)
	if err != nil {
		// keyFields is built entirely from already-unmarshaled, valid
		// JSON values; Marshal cannot fail here short of an invariant
		// violation elsewhere in the canonical model.
		panic("fingerprint: marshal of canonical fields failed: " + err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
