// Package models defines the canonical data structures shared by the stores,
// the retrieval pipeline and the API surface.
package models

import (
	"strings"
	"time"
)

// EntityType classifies an entity.
type EntityType string

const (
	EntityTypeConcept         EntityType = "Concept"
	EntityTypeMemoryUnit      EntityType = "MemoryUnit"
	EntityTypeDerivedArtifact EntityType = "DerivedArtifact"
	EntityTypeCommunity       EntityType = "Community"
)

var knownEntityTypes = []EntityType{
	EntityTypeConcept,
	EntityTypeMemoryUnit,
	EntityTypeDerivedArtifact,
	EntityTypeCommunity,
}

// ParseEntityType returns the canonical spelling for known types.
// Unknown types are passed through unchanged.
func ParseEntityType(s string) EntityType {
	s = strings.TrimSpace(s)
	for _, t := range knownEntityTypes {
		if strings.EqualFold(s, string(t)) {
			return t
		}
	}
	return EntityType(s)
}

// Status is the lifecycle state of an entity.
type Status string

const (
	StatusActive   Status = "active"
	StatusMerged   Status = "merged"
	StatusArchived Status = "archived"
)

// Position is a point in the 3D cosmos. Coordinates are produced upstream.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Entity is the canonical unit returned by the relational store.
// All optional fields are normalized once by NormalizeEntity.
type Entity struct {
	ID              string         `json:"id"`
	UserID          string         `json:"userId,omitempty"`
	Type            EntityType     `json:"type"`
	Title           string         `json:"title"`
	Content         string         `json:"content,omitempty"`
	ImportanceScore *float64       `json:"importanceScore,omitempty"`
	CreatedAt       *time.Time     `json:"createdAt,omitempty"`
	UpdatedAt       *time.Time     `json:"updatedAt,omitempty"`
	Position        *Position      `json:"position,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Status          Status         `json:"status,omitempty"`
}

// IsActive reports whether the entity is visible to retrieval.
// A missing status counts as active.
func (e Entity) IsActive() bool {
	return e.Status == "" || e.Status == StatusActive
}
