package providers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldloom/loom/pkg/report"
)

func TestMockGenerateDeterministic(t *testing.T) {
	adapter := &MockAdapter{}
	cfg := RuntimeConfig{Provider: "mock", Model: "mock-1"}
	messages := []Message{
		{Role: RoleSystem, Content: "You are generating a world progress report."},
		{Role: RoleUser, Content: "World preset:\nIron age kingdoms\n\nTime advance label: 1 month"},
	}

	first, err := adapter.Generate(context.Background(), cfg, messages, GenerateOptions{})
	require.NoError(t, err)
	second, err := adapter.Generate(context.Background(), cfg, messages, GenerateOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.Content, second.Content, "same prompt must yield the same report")
	assert.Equal(t, first.TokenIn, second.TokenIn)
	assert.Equal(t, first.TokenOut, second.TokenOut)
	assert.Positive(t, first.TokenIn)
	assert.Positive(t, first.TokenOut)
}

func TestMockGenerateVariesWithPrompt(t *testing.T) {
	adapter := &MockAdapter{}
	cfg := RuntimeConfig{Provider: "mock", Model: "mock-1"}
	base := []Message{{Role: RoleUser, Content: "Time advance label: 1 month"}}
	other := []Message{{Role: RoleUser, Content: "Time advance label: 1 year"}}

	one, err := adapter.Generate(context.Background(), cfg, base, GenerateOptions{})
	require.NoError(t, err)
	two, err := adapter.Generate(context.Background(), cfg, other, GenerateOptions{})
	require.NoError(t, err)

	assert.NotEqual(t, one.Content, two.Content)
}

func TestMockGenerateEchoesTimeAdvanceLabel(t *testing.T) {
	adapter := &MockAdapter{}
	res, err := adapter.Generate(context.Background(), RuntimeConfig{}, []Message{
		{Role: RoleUser, Content: "World preset:\nx\n\nTime advance label: 10 years\n\nReturn JSON only."},
	}, GenerateOptions{})
	require.NoError(t, err)

	var decoded struct {
		TimeAdvance string `json:"time_advance"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.Content), &decoded))
	assert.Equal(t, "10 years", decoded.TimeAdvance)
}

func TestMockGenerateParsesAsSnapshot(t *testing.T) {
	adapter := &MockAdapter{}
	res, err := adapter.Generate(context.Background(), RuntimeConfig{Provider: "mock", Model: "mock-1"}, []Message{
		{Role: RoleUser, Content: "advance"},
	}, GenerateOptions{})
	require.NoError(t, err)

	snapshot := report.Parse(res.Content, "tick")
	require.NotNil(t, snapshot, "mock output must survive the report parser")
	assert.Equal(t, "Worldline Report", snapshot.Title)
	assert.Len(t, snapshot.Events, 2)
	assert.Len(t, snapshot.Risks, 1)
	assert.NotEmpty(t, snapshot.Summary)
}

func TestMockListModels(t *testing.T) {
	adapter := &MockAdapter{}

	names, err := adapter.ListModels(context.Background(), RuntimeConfig{Model: "custom"})
	require.NoError(t, err)
	assert.Equal(t, []string{"custom"}, names)

	names, err = adapter.ListModels(context.Background(), RuntimeConfig{})
	require.NoError(t, err)
	assert.Equal(t, []string{"mock-1"}, names)
}
