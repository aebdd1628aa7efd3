// Package canonical defines the internal message model every backend
// adapter (C2) and the format translator (C7) consume, independent of
// which wire facade (Anthropic or OpenAI) the request arrived on.
package canonical

import "encoding/json"

// Facade identifies which client-facing wire shape a request arrived on.
type Facade string

const (
	FacadeAnthropic Facade = "anthropic"
	FacadeOpenAI    Facade = "openai"
)

type ctxKey string

// ContextKeyClientKey carries the resolved client identity (from
// x-api-key / Authorization) through the request context.
const ContextKeyClientKey ctxKey = "client_key"

// Role enumerates the canonical message roles. Providers that lack a
// "tool" role (Anthropic represents tool results as a user-role content
// block) translate at the adapter boundary, not here.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType enumerates the content block variants in spec.md §3.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Request is the canonical representation of a chat request, built by a
// facade's inbound translator and consumed by the router and every
// backend adapter.
type Request struct {
	Facade Facade `json:"-"`

	// Model is the model id as sent by the client. The router applies
	// model overrides (§4.5) when resolving it, and the pipeline sets it
	// to each candidate's concrete model id before calling that
	// candidate's adapter.
	Model  string `json:"model"`
	Stream bool   `json:"stream,omitempty"`

	System   []SystemBlock `json:"system,omitempty"`
	Messages []Message     `json:"messages"`

	MaxTokens int `json:"max_tokens"`

	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`

	Tools      []Tool          `json:"tools,omitempty"`
	ToolChoice json.RawMessage `json:"tool_choice,omitempty"`

	// Metadata is opaque, free-form, and excluded from the fingerprint
	// (spec.md §3, §4.4). Request ids and transport headers never end up
	// here; this only carries client-supplied metadata.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// SystemBlock is one element of a (possibly multi-part) system prompt.
type SystemBlock struct {
	Text string `json:"text"`

	// CacheControl carries an Anthropic prompt-caching directive
	// (e.g. {"type":"ephemeral"}) through untouched, so it can be
	// re-emitted on outbound Anthropic requests (§4.10).
	CacheControl json.RawMessage `json:"cache_control,omitempty"`
}

type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a tagged union over the four block kinds spec.md §3
// names. Only the fields relevant to Type are populated.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// CacheControl carries an Anthropic prompt-caching directive
	// (e.g. {"type":"ephemeral"}) through untouched, so it can be
	// re-emitted on outbound Anthropic requests (§4.10). Text blocks
	// tagged ephemeral are excluded from the cache fingerprint since their
	// presence/absence is a caching hint, not semantic content; blocks of
	// other kinds are hashed whatever their tag.
	CacheControl json.RawMessage `json:"cache_control,omitempty"`
}

type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}
