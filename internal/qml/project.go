package qml

import "github.com/pavelanni/mdquiz/internal/model"

// Project derives the candidate-facing view of spec. Correctness flags,
// rubrics, rater settings, option traits and bonus points are dropped.
func Project(spec *model.ExamSpec) *model.PublicSpec {
	pub := &model.PublicSpec{
		Meta:      spec.Meta,
		Questions: make([]model.PublicQuestion, 0, len(spec.Questions)),
	}
	for _, q := range spec.Questions {
		pq := model.PublicQuestion{
			ID:            q.ID,
			Label:         q.Label,
			Type:          q.Type,
			Points:        q.Points,
			Text:          q.Text,
			Media:         q.Media,
			PartialCredit: q.PartialCredit,
		}
		for _, o := range q.Options {
			pq.Options = append(pq.Options, model.PublicOption{Key: o.Key, Text: o.Text})
		}
		pub.Questions = append(pub.Questions, pq)
	}
	return pub
}
