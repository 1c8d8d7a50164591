package providers

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"io"
	"math/rand"
	"strings"

	"github.com/worldloom/loom/pkg/models"
)

// MockAdapter produces offline reports without any network dependency.
// Output is a pure function of the prompt: the same message list always
// yields the same report, so reruns and tests are reproducible.
type MockAdapter struct{}

func (m *MockAdapter) Name() string { return models.ProviderMock }

func (m *MockAdapter) ListModels(_ context.Context, cfg RuntimeConfig) ([]string, error) {
	if cfg.Model != "" {
		return []string{cfg.Model}, nil
	}
	return []string{"mock-1"}, nil
}

func (m *MockAdapter) Generate(_ context.Context, cfg RuntimeConfig, messages []Message, _ GenerateOptions) (*Result, error) {
	rng := rand.New(rand.NewSource(int64(promptSeed(messages))))

	timeAdvance := "tick"
	if label := findTimeAdvanceLabel(messages); label != "" {
		timeAdvance = label
	}

	eventOrder := rng.Perm(len(mockEvents))
	report := struct {
		Title       string   `json:"title"`
		TimeAdvance string   `json:"time_advance"`
		Summary     string   `json:"summary"`
		Events      []string `json:"events"`
		Risks       []string `json:"risks"`
	}{
		Title:       "Worldline Report",
		TimeAdvance: timeAdvance,
		Summary:     mockSummaries[rng.Intn(len(mockSummaries))],
		Events:      []string{mockEvents[eventOrder[0]], mockEvents[eventOrder[1]]},
		Risks:       []string{mockRisks[rng.Intn(len(mockRisks))]},
	}
	content, err := json.Marshal(report)
	if err != nil {
		return nil, NewError(CodeParseError, "Failed to encode mock report.")
	}

	promptChars := 0
	for _, message := range messages {
		promptChars += len(message.Content)
	}
	return &Result{
		Content:  string(content),
		Provider: cfg.Provider,
		Model:    cfg.Model,
		TokenIn:  promptChars / 4,
		TokenOut: len(content) / 4,
		Raw:      json.RawMessage(content),
	}, nil
}

// promptSeed hashes the full message list so any prompt change, however
// small, lands on a different report.
func promptSeed(messages []Message) uint64 {
	h := fnv.New64a()
	for _, message := range messages {
		io.WriteString(h, message.Role)
		h.Write([]byte{'\n'})
		io.WriteString(h, message.Content)
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// findTimeAdvanceLabel scans user messages newest-first for the tick
// label line the prompt builder emits.
func findTimeAdvanceLabel(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != RoleUser {
			continue
		}
		for _, line := range strings.Split(messages[i].Content, "\n") {
			if rest, ok := strings.CutPrefix(line, "Time advance label:"); ok {
				if label := strings.TrimSpace(rest); label != "" {
					return label
				}
			}
		}
	}
	return ""
}

var mockSummaries = []string{
	"Stability holds across most regions while quiet realignments continue.",
	"Pressure builds unevenly and institutions absorb the strain for now.",
	"A cautious recovery takes shape amid scattered local disruptions.",
	"Competing blocs trade small advantages without open confrontation.",
}

var mockEvents = []string{
	"Regional councils negotiate a limited resource-sharing accord.",
	"A border province reports renewed unrest after subsidy cuts.",
	"Grain reserves are quietly rebuilt ahead of the lean season.",
	"An infrastructure failure interrupts trade along a key corridor.",
	"A reform faction gains ground inside the central administration.",
	"Coastal storms displace several thousand residents.",
}

var mockRisks = []string{
	"External shock could reverse the current equilibrium.",
	"Supply bottlenecks may harden into structural shortages.",
	"Factional rivalry risks spilling into open defiance.",
}
