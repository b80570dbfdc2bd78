// Package domain contains core domain types for the citycast application.
package domain

import "strings"

// RoleUser is the role of turns submitted on behalf of the caller.
const RoleUser = "user"

// RoleModel is the role of turns produced by an agent.
const RoleModel = "model"

// Part is one text fragment of a turn.
type Part struct {
	Text string `json:"text"`
}

// Content is one role-tagged turn exchanged with an agent.
// Values are treated as immutable once constructed.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// NewUserContent wraps text verbatim into a single-part user turn.
func NewUserContent(text string) Content {
	return Content{
		Role:  RoleUser,
		Parts: []Part{{Text: text}},
	}
}

// NewModelContent wraps text into a single-part model turn.
func NewModelContent(text string) Content {
	return Content{
		Role:  RoleModel,
		Parts: []Part{{Text: text}},
	}
}

// Text returns the concatenated text of all parts.
func (c Content) Text() string {
	if len(c.Parts) == 1 {
		return c.Parts[0].Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// IsEmpty reports whether the turn carries no text.
func (c Content) IsEmpty() bool {
	for _, p := range c.Parts {
		if p.Text != "" {
			return false
		}
	}
	return true
}
