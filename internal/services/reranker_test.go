package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/giftwise/internal/config"
	"github.com/temcen/giftwise/internal/validation"
	"github.com/temcen/giftwise/pkg/models"
)

type MockChatCompleter struct {
	mock.Mock
}

func (m *MockChatCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error) {
	args := m.Called(ctx, systemPrompt, userPrompt, temperature, maxTokens)
	return args.String(0), args.Error(1)
}

func rankedList(n int) []models.RankedProduct {
	ranked := make([]models.RankedProduct, n)
	for i := range ranked {
		ranked[i] = models.RankedProduct{
			CandidateProduct: models.CandidateProduct{
				ID:         fmt.Sprintf("p%d", i+1),
				Title:      fmt.Sprintf("Gift %d", i+1),
				Price:      10,
				Currency:   "USD",
				Categories: []string{"a", "b", "c", "d", "e", "f"},
			},
			Score: float64(n - i),
			Rank:  i + 1,
		}
	}
	return ranked
}

func newTestModelReranker(t *testing.T, completer ChatCompleter) *ModelReranker {
	validator, err := validation.NewSchemaValidator()
	require.NoError(t, err)

	cfg := config.DefaultRerankConfig()
	cfg.Enabled = true
	return NewModelReranker(completer, validator, cfg, nil, newTestLogger())
}

func TestModelReranker_FallbackKeepsOrder(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
	}{
		{name: "provider error", err: errors.New("upstream 503")},
		{name: "order is not an array", response: `{"order": "not-an-array"}`},
		{name: "not json", response: `Sure! Here is the order: p2, p1`},
		{name: "missing order", response: `{"ids": ["p1"]}`},
		{name: "non-string ids", response: `{"order": [1, 2]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := new(MockChatCompleter)
			completer.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
				Return(tt.response, tt.err)

			input := rankedList(5)
			output := newTestModelReranker(t, completer).Rerank(context.Background(), input, nil, 5)

			assert.Equal(t, rankedIDs(input), rankedIDs(output))
			for i, p := range output {
				assert.Equal(t, i+1, p.Rank)
			}
		})
	}
}

func TestModelReranker_AppliesOrder(t *testing.T) {
	completer := new(MockChatCompleter)
	completer.On("Complete", mock.Anything, rerankSystemPrompt, mock.Anything, 0.2, 800).
		Return(`{"order": ["p3", "p1", "p3", "unknown", "p5"]}`, nil)

	input := rankedList(6)
	output := newTestModelReranker(t, completer).Rerank(context.Background(), input, nil, 4)

	// slice is p1..p4: model picks p3, p1; p5 is outside the slice; p2, p4 were omitted
	assert.Equal(t, []string{"p3", "p1", "p2", "p4", "p5", "p6"}, rankedIDs(output))
	for i, p := range output {
		assert.Equal(t, i+1, p.Rank)
	}
	// the input slice is not mutated
	assert.Equal(t, "p1", input[0].ID)
	assert.Equal(t, 1, input[0].Rank)
	completer.AssertExpectations(t)
}

func TestModelReranker_SliceIsCappedAtThirty(t *testing.T) {
	completer := new(MockChatCompleter)
	completer.On("Complete", mock.Anything, mock.Anything, mock.MatchedBy(func(prompt string) bool {
		return containsLine(prompt, "p30 |") && !containsLine(prompt, "p31 |")
	}), mock.Anything, mock.Anything).Return(`{"order": ["p30"]}`, nil)

	output := newTestModelReranker(t, completer).Rerank(context.Background(), rankedList(40), nil, 100)
	require.Len(t, output, 40)
	assert.Equal(t, "p30", output[0].ID)
	assert.Equal(t, "p31", output[30].ID)
	completer.AssertExpectations(t)
}

func TestModelReranker_SkipsTinyLists(t *testing.T) {
	completer := new(MockChatCompleter)
	output := newTestModelReranker(t, completer).Rerank(context.Background(), rankedList(1), nil, 30)

	assert.Len(t, output, 1)
	completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBuildRerankPrompt(t *testing.T) {
	session := models.NewSessionProfile("sess-1")
	session.Constraints.Interests = []string{"coffee", "hiking"}

	prompt := buildRerankPrompt(rankedList(2), session)

	assert.Contains(t, prompt, "Shopper interests: coffee, hiking")
	assert.Contains(t, prompt, "p1 | Gift 1 | 10.00 USD | a, b, c, d, e\n")
	assert.NotContains(t, prompt, ", f")
}

func TestNewReranker_SelectsVariant(t *testing.T) {
	validator, err := validation.NewSchemaValidator()
	require.NoError(t, err)

	disabled := config.DefaultRerankConfig()
	assert.Equal(t, "noop", NewReranker(new(MockChatCompleter), validator, disabled, nil, newTestLogger()).Name())

	enabled := config.DefaultRerankConfig()
	enabled.Enabled = true
	assert.Equal(t, "model", NewReranker(new(MockChatCompleter), validator, enabled, nil, newTestLogger()).Name())
	assert.Equal(t, "noop", NewReranker(nil, validator, enabled, nil, newTestLogger()).Name())
}

func containsLine(prompt, prefix string) bool {
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
