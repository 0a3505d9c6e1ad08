package session

import "encoding/json"

// Entry is a single transcript event, one JSON object per JSONL line.
// Only the fields the indexer cares about are modeled; the rest of the
// payload is ignored during parsing.
type Entry struct {
	Type             string   `json:"type,omitempty"`
	UUID             string   `json:"uuid,omitempty"`
	ParentUUID       string   `json:"parentUuid,omitempty"`
	UserType         string   `json:"userType,omitempty"`
	IsCompactSummary bool     `json:"isCompactSummary,omitempty"`
	IsMeta           bool     `json:"isMeta,omitempty"`
	Timestamp        string   `json:"timestamp,omitempty"`
	Message          *Message `json:"message,omitempty"`
}

// Message holds the content of a transcript event. Content is either a
// plain string or an array of content items; it is kept raw and decoded
// on demand.
type Message struct {
	Content json.RawMessage `json:"content,omitempty"`
}

// ContentItem is one element of an array-form message content.
type ContentItem struct {
	Type  string          `json:"type"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolInput is the subset of tool invocation input relevant to file
// edit tracking.
type ToolInput struct {
	FilePath  string `json:"file_path"`
	OldString string `json:"old_string"`
}

// ParseEntry decodes a single JSONL line. Lines that are not valid JSON
// objects return an error; callers typically skip them.
func ParseEntry(line []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ContentItems decodes array-form content. Returns nil for string
// content or when the message is absent.
func (m *Message) ContentItems() []ContentItem {
	if m == nil || len(m.Content) == 0 {
		return nil
	}
	var items []ContentItem
	if err := json.Unmarshal(m.Content, &items); err != nil {
		return nil
	}
	return items
}

// IsHumanMessage reports whether the entry is actual human input: a
// user message typed by an external user, as opposed to tool results,
// compaction summaries, or meta events injected by the runtime.
func (e *Entry) IsHumanMessage() bool {
	if e.Type != "user" {
		return false
	}
	if e.UserType != "external" {
		return false
	}
	for _, item := range e.Message.ContentItems() {
		if item.Type == "tool_result" {
			return false
		}
	}
	if e.IsCompactSummary || e.IsMeta {
		return false
	}
	return true
}
