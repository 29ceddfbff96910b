// Package domain contains the core data structures for the application,
// independent of the storage backends and the transport layer.
package domain

import (
	"strings"
	"time"
)

// ContextType classifies a stored context. Types drive ranking boosts
// downstream; unknown types are rejected at validation.
type ContextType string

const (
	TypeDesign   ContextType = "design"
	TypeDecision ContextType = "decision"
	TypeTrace    ContextType = "trace"
	TypeSprint   ContextType = "sprint"
	TypeLog      ContextType = "log"
	TypeTest     ContextType = "test"
)

// ValidTypes is the closed set of accepted context types.
var ValidTypes = map[ContextType]bool{
	TypeDesign:   true,
	TypeDecision: true,
	TypeTrace:    true,
	TypeSprint:   true,
	TypeLog:      true,
	TypeTest:     true,
}

// Content keys recognized by namespace assignment and text extraction.
const (
	ContentKeyText         = "text"
	ContentKeyTitle        = "title"
	ContentKeyDescription  = "description"
	ContentKeyProjectID    = "project_id"
	ContentKeyTeamID       = "team_id"
	ContentKeyUserID       = "user_id"
	ContentKeySprintNumber = "sprint_number"
)

// AuthorType distinguishes human principals from agent principals.
type AuthorType string

const (
	AuthorHuman AuthorType = "human"
	AuthorAgent AuthorType = "agent"
)

// Context is the atomic stored unit: free-form content plus typed metadata,
// addressable across every backend by its server-assigned id.
type Context struct {
	ID         string         `json:"id"`
	Type       ContextType    `json:"type"`
	Content    map[string]any `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Author     string         `json:"author"`
	AuthorType AuthorType     `json:"author_type"`
	CreatedAt  time.Time      `json:"created_at"`
	Namespace  string         `json:"namespace"`

	// Per-backend handles after writes. Empty when that backend's write
	// failed or has not happened yet.
	VectorID string `json:"vector_id,omitempty"`
	GraphID  string `json:"graph_id,omitempty"`

	// Soft-delete markers. A set DeletedAt hides the context from search;
	// PurgeAt is when the sweeper may hard-delete it.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	PurgeAt   *time.Time `json:"purge_at,omitempty"`
}

// LifecycleState describes where a context sits in its life.
// Transitions are monotonic; there is no resurrection from Purged.
type LifecycleState string

const (
	StateDraft       LifecycleState = "draft"
	StateStored      LifecycleState = "stored"
	StateIndexed     LifecycleState = "indexed"
	StateSoftDeleted LifecycleState = "soft_deleted"
	StatePurged      LifecycleState = "purged"
	StateRejected    LifecycleState = "rejected"
)

// State derives the lifecycle state from the context's backend handles and
// delete markers. Purged contexts no longer exist, so State never returns
// StatePurged for a context in hand.
func (c *Context) State() LifecycleState {
	switch {
	case c.DeletedAt != nil:
		return StateSoftDeleted
	case c.VectorID != "":
		return StateIndexed
	case c.GraphID != "":
		return StateStored
	default:
		return StateDraft
	}
}

// Text returns the searchable text of the context: the text field if
// present, else title and description joined.
func (c *Context) Text() string {
	if s, ok := c.Content[ContentKeyText].(string); ok && s != "" {
		return s
	}
	parts := make([]string, 0, 2)
	if s, ok := c.Content[ContentKeyTitle].(string); ok && s != "" {
		parts = append(parts, s)
	}
	if s, ok := c.Content[ContentKeyDescription].(string); ok && s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}

// Title returns the title field, if any.
func (c *Context) Title() string {
	s, _ := c.Content[ContentKeyTitle].(string)
	return s
}

// IsDeleted reports whether the context is soft-deleted.
func (c *Context) IsDeleted() bool {
	return c.DeletedAt != nil
}

// Tags returns the metadata tags as strings, tolerating []any decoding.
func (c *Context) Tags() []string {
	raw, ok := c.Metadata["tags"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		tags := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		return tags
	}
	return nil
}
