// Package coach holds the practice content of the speaking coach: the topic
// catalog offered to the learner and the system instruction that tells the
// conversational model how to coach.
package coach

import (
	"errors"
	"fmt"
	"strings"
)

// Difficulty is the level a topic is pitched at.
type Difficulty string

const (
	Beginner     Difficulty = "Beginner"
	Intermediate Difficulty = "Intermediate"
	Advanced     Difficulty = "Advanced"
)

// Valid reports whether d is one of the known levels.
func (d Difficulty) Valid() bool {
	switch d {
	case Beginner, Intermediate, Advanced:
		return true
	}
	return false
}

// Topic is a practice topic the learner can pick for a session.
type Topic struct {
	ID          string     `json:"id"          yaml:"id"`
	Title       string     `json:"title"       yaml:"title"`
	Description string     `json:"description" yaml:"description"`
	Difficulty  Difficulty `json:"difficulty"  yaml:"difficulty"`
}

// Validate checks that the topic can be offered to a learner.
func (t Topic) Validate() error {
	var errs []error
	if strings.TrimSpace(t.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if strings.TrimSpace(t.Title) == "" {
		errs = append(errs, errors.New("title is required"))
	}
	if t.Difficulty != "" && !t.Difficulty.Valid() {
		errs = append(errs, fmt.Errorf("difficulty %q is not one of Beginner, Intermediate, Advanced", t.Difficulty))
	}
	return errors.Join(errs...)
}

// DefaultTopics returns the built-in topic set. The returned slice is a fresh
// copy on every call.
func DefaultTopics() []Topic {
	return []Topic{
		{
			ID:          "1",
			Title:       "Your Typical Day",
			Description: "Describe your daily routine from morning to night. Focus on present simple tense.",
			Difficulty:  Beginner,
		},
		{
			ID:          "2",
			Title:       "A Memorable Journey",
			Description: "Tell a story about a trip you took. Use past tenses and descriptive adjectives.",
			Difficulty:  Intermediate,
		},
		{
			ID:          "3",
			Title:       "The Future of Technology",
			Description: "Share your thoughts on AI or renewable energy. Use speculative language and complex structures.",
			Difficulty:  Advanced,
		},
		{
			ID:          "4",
			Title:       "Free Talk",
			Description: "Talk about anything on your mind. No specific constraints.",
			Difficulty:  Intermediate,
		},
	}
}
