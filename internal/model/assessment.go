package model

import (
	"time"

	"github.com/google/uuid"
)

// AssessmentItem is one scored item of an assessment.
type AssessmentItem struct {
	Ref            string  `json:"item_ref" yaml:"ref"`
	QuestionRef    string  `json:"question_ref" yaml:"question"`
	ExpectedAnswer string  `json:"expected_answer" yaml:"answer"`
	Points         float64 `json:"points" yaml:"points"`
}

// Assessment is an ordered list of scored items. Content is owned externally
// and treated as immutable once a session references it.
type Assessment struct {
	ID         uuid.UUID        `json:"id"`
	Title      string           `json:"title"`
	Items      []AssessmentItem `json:"items"`
	TotalScore float64          `json:"total_score"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// HasItem reports whether ref names one of the assessment's items.
func (a *Assessment) HasItem(ref string) bool {
	for _, it := range a.Items {
		if it.Ref == ref {
			return true
		}
	}
	return false
}

// PaperItem is an item as shown to a learner, without the expected answer.
type PaperItem struct {
	Ref         string  `json:"item_ref"`
	QuestionRef string  `json:"question_ref"`
	Points      float64 `json:"points"`
	Position    int     `json:"position"`
}

// Paper is the learner-facing view of an assessment.
type Paper struct {
	AssessmentID uuid.UUID   `json:"assessment_id"`
	Title        string      `json:"title"`
	TotalScore   float64     `json:"total_score"`
	Items        []PaperItem `json:"items"`
}

// Paper strips expected answers.
func (a *Assessment) Paper() *Paper {
	p := &Paper{
		AssessmentID: a.ID,
		Title:        a.Title,
		TotalScore:   a.TotalScore,
		Items:        make([]PaperItem, 0, len(a.Items)),
	}
	for i, it := range a.Items {
		p.Items = append(p.Items, PaperItem{
			Ref:         it.Ref,
			QuestionRef: it.QuestionRef,
			Points:      it.Points,
			Position:    i + 1,
		})
	}
	return p
}
