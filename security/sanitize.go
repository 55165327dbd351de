// Package security sanitizes collaborator-supplied market content before it
// is persisted or rendered.
package security

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

const (
	maxQuestionLength    = 160
	maxDescriptionLength = 2000
)

// Service strips markup from questions and renders descriptions to safe HTML.
type Service struct {
	strict   *bluemonday.Policy
	ugc      *bluemonday.Policy
	markdown goldmark.Markdown
}

// NewService builds the sanitizer with fixed policies.
func NewService() *Service {
	return &Service{
		strict:   bluemonday.StrictPolicy(),
		ugc:      bluemonday.UGCPolicy(),
		markdown: goldmark.New(),
	}
}

// MarketInput is the raw collaborator-supplied content.
type MarketInput struct {
	Question    string
	Description string
}

// SanitizedMarket is content safe to persist and render.
type SanitizedMarket struct {
	Question        string
	Description     string
	DescriptionHTML string
}

// SanitizeMarketInput validates lengths, strips all markup from the
// question, and renders the description's markdown into sanitized HTML.
func (s *Service) SanitizeMarketInput(in MarketInput) (SanitizedMarket, error) {
	question := strings.TrimSpace(s.strict.Sanitize(in.Question))
	if question == "" {
		return SanitizedMarket{}, fmt.Errorf("question must not be empty")
	}
	if len(question) > maxQuestionLength {
		return SanitizedMarket{}, fmt.Errorf("question must be at most %d characters", maxQuestionLength)
	}

	description := strings.TrimSpace(in.Description)
	if len(description) > maxDescriptionLength {
		return SanitizedMarket{}, fmt.Errorf("description must be at most %d characters", maxDescriptionLength)
	}

	var rendered bytes.Buffer
	if err := s.markdown.Convert([]byte(description), &rendered); err != nil {
		return SanitizedMarket{}, fmt.Errorf("render description: %w", err)
	}

	return SanitizedMarket{
		Question:        question,
		Description:     description,
		DescriptionHTML: s.ugc.Sanitize(rendered.String()),
	}, nil
}
