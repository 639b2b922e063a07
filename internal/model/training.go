package model

import (
	"time"

	"github.com/google/uuid"
)

// Wire names of the training states as reported to the UI.
const (
	StateInactive  = "inactive"
	StatePreparing = "preparing"
	StateTraining  = "training"
	StateSuccess   = "success"
	StateFailure   = "failure"
	StateCanceled  = "canceled" // history only, a canceled job reports inactive
)

// DefaultEntityLabel is assigned to entities found by relationship names.
const DefaultEntityLabel = "PERSON"

// TrainingStatus is a point in time snapshot of a training job.
type TrainingStatus struct {
	IsActive bool   `json:"is_active"`
	State    string `json:"state"`
	Output   string `json:"output"`
	Error    string `json:"error"`
	RunID    string `json:"run_id,omitempty"`
}

// Run describes one training run. Stopped is zero and State is "training"
// while the run is in progress.
type Run struct {
	ID       uuid.UUID `json:"id"`
	JobType  string    `json:"job_type"`
	Target   string    `json:"target"`
	Source   string    `json:"source,omitempty"`
	State    string    `json:"state"`
	ExitCode int       `json:"exit_code"` // -1 when the trainer did not exit on its own
	Reason   string    `json:"reason,omitempty"`
	Started  time.Time `json:"started"`
	Stopped  time.Time `json:"stopped"`
}

func (r Run) Duration() time.Duration {
	if r.Stopped.IsZero() {
		return 0
	}
	return r.Stopped.Sub(r.Started)
}

// Relationship as crawled from a website: two entity names and a type.
type Relationship struct {
	FirstEntity      string `json:"firstEntity"`
	SecondEntity     string `json:"secondEntity"`
	RelationshipType string `json:"relationshipType"`
}

type EntityToken struct {
	Text        string `json:"text"`
	Start       int    `json:"start"` // rune offset
	End         int    `json:"end"`
	TokenStart  int    `json:"token_start"`
	TokenEnd    int    `json:"token_end"`
	EntityLabel string `json:"entityLabel,omitempty"`
}

// Relation between two entities referenced by their first token.
type Relation struct {
	Child         int    `json:"child"`
	Head          int    `json:"head"`
	RelationLabel string `json:"relationLabel"`
}

// TrainingRecord is one element of the training data. The "simple" form only
// carries Relationships, the annotated form Tokens and Relations.
type TrainingRecord struct {
	Sentence      string         `json:"sentence"`
	Relationships []Relationship `json:"relationships,omitempty"`
	Tokens        []EntityToken  `json:"tokens,omitempty"`
	Relations     []Relation     `json:"relations,omitempty"`
}

func (r TrainingRecord) IsSimple() bool {
	return r.Relationships != nil
}

// AnnotatedSentence is the result of converting a simple record.
type AnnotatedSentence struct {
	Sentence  string        `json:"sentence"`
	Tokens    []EntityToken `json:"tokens"`
	Relations []Relation    `json:"relations"`
}
