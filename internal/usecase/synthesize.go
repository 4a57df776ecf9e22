package usecase

import (
	"context"
	"strings"

	"search-agent/internal/domain"
)

// searchContext runs the search call and returns the sources to record plus
// the block handed to synthesis. A failed search yields no sources and an
// error marker.
func (s *SearchService) searchContext(ctx context.Context, query string) ([]domain.SearchResult, string, error) {
	results, err := s.search.Search(ctx, query)
	if err != nil {
		return []domain.SearchResult{}, searchErrorMarker(err), newStageError(StageSearch, err)
	}
	if len(results) == 0 {
		return []domain.SearchResult{}, noResultsMarker, nil
	}
	return results, formatResults(results), nil
}

// synthesize asks the model to answer query from resultsContext only.
func (s *SearchService) synthesize(ctx context.Context, window []domain.Message, resultsContext, query string) (string, error) {
	answer, err := s.model.Generate(ctx, withInstruction(window, synthesisPrompt(resultsContext, query)))
	if err != nil {
		return "", newStageError(StageSynthesize, err)
	}
	if strings.TrimSpace(answer) == "" {
		return "", newStageError(StageSynthesize, errEmptyAnswer)
	}
	return answer, nil
}
