package data

import (
	"context"
	"strings"

	"github.com/harrisonrobin/eventdesk/pkg/backend"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/optimistic"
	"github.com/harrisonrobin/eventdesk/pkg/querycache"
)

type newRubric struct {
	EventID  string            `json:"event_id"`
	Name     string            `json:"name"`
	Criteria []model.Criterion `json:"criteria"`
}

func (s *Service) ListRubrics(ctx context.Context, eventID string) ([]model.Rubric, error) {
	q := backend.From(TableRubrics).Eq("event_id", eventID).Order("name", false)
	return list[model.Rubric](ctx, s, querycache.Key{TableRubrics, eventID}, q)
}

func (s *Service) rubric(ctx context.Context, id string) (model.Rubric, error) {
	return one[model.Rubric](ctx, s, idKey(TableRubrics, id), backend.From(TableRubrics).Eq("id", id))
}

// CreateRubric rejects rubrics whose criteria do not validate.
func (s *Service) CreateRubric(ctx context.Context, r model.Rubric) (model.Rubric, error) {
	const failure = "Failed to create rubric"
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return model.Rubric{}, s.fail(failure, backend.Invalid("name", "name is required"))
	}
	if err := r.Validate(); err != nil {
		return model.Rubric{}, s.fail(failure, backend.Invalid("criteria", "%v", err))
	}
	return run(ctx, s, "Rubric created", failure, optimistic.Mutation[model.Rubric]{
		Keys: []querycache.Key{{TableRubrics, r.EventID}},
		Do: func(ctx context.Context) (model.Rubric, error) {
			return insertOne[model.Rubric](ctx, s.backend, TableRubrics, newRubric{
				EventID:  r.EventID,
				Name:     r.Name,
				Criteria: r.Criteria,
			})
		},
		Invalidate: []querycache.Key{{TableRubrics}},
	})
}

// SubmitScore computes the weighted total and records it for the
// signed-in evaluator.
func (s *Service) SubmitScore(ctx context.Context, rubricID, subjectID string, scores map[string]float64) (model.RubricScore, error) {
	const failure = "Failed to submit score"
	if subjectID == "" {
		return model.RubricScore{}, s.fail(failure, backend.Invalid("subject_id", "subject is required"))
	}
	r, err := s.rubric(ctx, rubricID)
	if err != nil {
		return model.RubricScore{}, s.fail(failure, err)
	}
	total, err := r.Score(scores)
	if err != nil {
		return model.RubricScore{}, s.fail(failure, backend.Invalid("scores", "%v", err))
	}
	row := model.RubricScore{
		RubricID:    rubricID,
		SubjectID:   subjectID,
		EvaluatorID: s.userID,
		Scores:      scores,
		Total:       total,
	}
	return run(ctx, s, "Score submitted", failure, optimistic.Mutation[model.RubricScore]{
		Keys: []querycache.Key{{TableRubricScores, rubricID}},
		Do: func(ctx context.Context) (model.RubricScore, error) {
			return insertOne[model.RubricScore](ctx, s.backend, TableRubricScores, row)
		},
	})
}

// ListScores returns the submitted scores of a rubric, best first.
func (s *Service) ListScores(ctx context.Context, rubricID string) ([]model.RubricScore, error) {
	q := backend.From(TableRubricScores).Eq("rubric_id", rubricID).Order("total", true)
	return list[model.RubricScore](ctx, s, querycache.Key{TableRubricScores, rubricID}, q)
}
