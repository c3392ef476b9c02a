package main

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-gate/internal/model"
	"gopkg.in/yaml.v3"
)

type learnerEntry struct {
	Name    string `yaml:"name"`
	Contact string `yaml:"contact"`
	Status  string `yaml:"status"`
}

type learnersFile struct {
	Learners []learnerEntry `yaml:"learners"`
}

type assessmentFile struct {
	ID         string                 `yaml:"id"`
	Title      string                 `yaml:"title"`
	TotalScore float64                `yaml:"total_score"`
	Items      []model.AssessmentItem `yaml:"items"`
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func decodeStrict(r io.Reader, v interface{}) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	return dec.Decode(v)
}

// parseLearners reads a roster file.
func parseLearners(r io.Reader) ([]model.Learner, error) {
	var f learnersFile
	if err := decodeStrict(r, &f); err != nil {
		return nil, fmt.Errorf("decode learners: %w", err)
	}
	out := make([]model.Learner, 0, len(f.Learners))
	for _, e := range f.Learners {
		out = append(out, model.Learner{
			Name:          e.Name,
			ContactNumber: e.Contact,
			Status:        model.LearnerStatus(e.Status),
		})
	}
	return out, nil
}

// parseAssessment reads one assessment definition.
func parseAssessment(r io.Reader) (*model.Assessment, error) {
	var f assessmentFile
	if err := decodeStrict(r, &f); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}
	a := &model.Assessment{
		Title:      f.Title,
		Items:      f.Items,
		TotalScore: f.TotalScore,
	}
	if f.ID != "" {
		id, err := uuid.Parse(f.ID)
		if err != nil {
			return nil, fmt.Errorf("assessment id: %w", err)
		}
		a.ID = id
	}
	return a, nil
}
