// Package events defines the lifecycle records agents publish and the bus
// that delivers them to listeners in publication order.
package events

import (
	"slices"
	"time"

	"github.com/jeanpaul/redel/internal/provider"
)

type Type string

const (
	TypeSpawn           Type = "agent_spawn"
	TypeMessage         Type = "agent_message"
	TypeStateChange     Type = "agent_state_change"
	TypeTokensUsed      Type = "tokens_used"
	TypePageVisited     Type = "page_visited"
	TypeSiteBlocked     Type = "site_blocked"
	TypeHelperDelegated Type = "helper_delegated"
)

// Event is implemented by every record type in this package. Events are
// values and must not be mutated after Publish.
type Event interface {
	EventType() Type
	AgentID() string
}

type Header struct {
	Kind Type      `json:"type"`
	ID   string    `json:"id"`
	Time time.Time `json:"timestamp"`
}

func (h Header) EventType() Type { return h.Kind }
func (h Header) AgentID() string { return h.ID }

func header(kind Type, id string) Header {
	return Header{Kind: kind, ID: id, Time: time.Now()}
}

// Spawn carries enough of a new agent's context for an observer to
// rebuild its starting conversation.
type Spawn struct {
	Header
	ParentID       string             `json:"parent_id,omitempty"`
	Name           string             `json:"name"`
	Depth          int                `json:"depth"`
	AlwaysIncluded []provider.Message `json:"always_included_messages"`
	History        []provider.Message `json:"chat_history"`
}

func NewSpawn(id, parentID, name string, depth int, always, history []provider.Message) Spawn {
	return Spawn{
		Header:         header(TypeSpawn, id),
		ParentID:       parentID,
		Name:           name,
		Depth:          depth,
		AlwaysIncluded: slices.Clone(always),
		History:        slices.Clone(history),
	}
}

type Message struct {
	Header
	Message provider.Message `json:"message"`
}

func NewMessage(id string, m provider.Message) Message {
	m.ToolCalls = slices.Clone(m.ToolCalls)
	return Message{Header: header(TypeMessage, id), Message: m}
}

type StateChange struct {
	Header
	State string `json:"state"`
}

func NewStateChange(id, state string) StateChange {
	return StateChange{Header: header(TypeStateChange, id), State: state}
}

type TokensUsed struct {
	Header
	Engine           string `json:"engine"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

func NewTokensUsed(id, engine string, prompt, completion int) TokensUsed {
	return TokensUsed{Header: header(TypeTokensUsed, id), Engine: engine, PromptTokens: prompt, CompletionTokens: completion}
}

type PageVisited struct {
	Header
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

func NewPageVisited(id, url, title string) PageVisited {
	return PageVisited{Header: header(TypePageVisited, id), URL: url, Title: title}
}

type SiteBlocked struct {
	Header
	URL string `json:"url"`
}

func NewSiteBlocked(id, url string) SiteBlocked {
	return SiteBlocked{Header: header(TypeSiteBlocked, id), URL: url}
}

type HelperDelegated struct {
	Header
	Helper       string `json:"helper"`
	HelperID     string `json:"helper_id"`
	Instructions string `json:"instructions"`
}

func NewHelperDelegated(id, helper, helperID, instructions string) HelperDelegated {
	return HelperDelegated{Header: header(TypeHelperDelegated, id), Helper: helper, HelperID: helperID, Instructions: instructions}
}
