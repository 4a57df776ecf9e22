package usecase

import (
	"context"

	"search-agent/internal/domain"
)

// refineQuery asks the model for the best search query for the latest turn.
// window must already end with the user's message.
func (s *SearchService) refineQuery(ctx context.Context, window []domain.Message, query string) (string, error) {
	raw, err := s.model.Generate(ctx, withInstruction(window, refinementPrompt(query)))
	if err != nil {
		return "", newStageError(StageRefine, err)
	}
	refined := cleanRefinedQuery(raw)
	if refined == "" {
		return "", newStageError(StageRefine, errEmptyRefinement)
	}
	return refined, nil
}
