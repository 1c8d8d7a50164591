// Package prompt composes provider-neutral chat messages for the simulation.
// Everything here is pure: the same inputs produce the byte-identical prompt,
// which is what makes mock-provider runs reproducible. Randomness lives only
// in RollPlan, behind an RNG the caller seeds.
package prompt

import (
	"fmt"
	"strings"

	"github.com/worldloom/loom/pkg/models"
	"github.com/worldloom/loom/pkg/providers"
	"github.com/worldloom/loom/pkg/report"
)

// DefaultMaxHistory bounds the recent timeline window rendered into a prompt.
const DefaultMaxHistory = 20

const systemPrompt = "You are generating a world progress report. " +
	"Keep it concise, structured, and continuous. " +
	"Output JSON with title, time_advance, summary, events, and risks. " +
	"Each entry in events and risks is an object with category (positive, negative, or neutral), " +
	"severity (low, medium, or high), and description. " +
	"You may also include tension_percent (integer 0-100) and crisis_focus. " +
	"crisis_focus must be a broad crisis noun label such as \"war\" or \"famine\". " +
	"Do not put sentences, locations, numbers, or dates into crisis_focus."

// Builder renders the message list for one generation round.
type Builder struct {
	maxHistory int
}

// NewBuilder returns a Builder that includes up to maxHistory timeline
// entries per prompt. Values below one use DefaultMaxHistory.
func NewBuilder(maxHistory int) *Builder {
	if maxHistory < 1 {
		maxHistory = DefaultMaxHistory
	}
	return &Builder{maxHistory: maxHistory}
}

// Input is everything a round's prompt is built from. Timeline is the active
// branch in seq order; Interventions are the pending rows about to be
// consumed. DicePlan and WorldlineContext are pre-computed by the caller so
// Build itself stays deterministic.
type Input struct {
	WorldPreset       string
	TickLabel         string
	Timeline          []*models.Message
	Interventions     []*models.Intervention
	MemorySnippets    []string
	OutputLanguage    string
	TimelineStartISO  string
	TimelineStepValue int
	TimelineStepUnit  string
	NextSeq           int
	DicePlan          *DicePlan
	WorldlineContext  string
}

// Build assembles the system and user messages. Section order is fixed:
// preset, calendar, memory snippets, continuity context, recent timeline,
// pending interventions, dice guidance, format reminder, locale instruction.
func (b *Builder) Build(in Input) []providers.Message {
	history := in.Timeline
	if len(history) > b.maxHistory {
		history = history[len(history)-b.maxHistory:]
	}
	historyLines := make([]string, 0, len(history))
	for _, msg := range history {
		historyLines = append(historyLines, fmt.Sprintf("#%d %s", msg.Seq, msg.Content))
	}
	historyText := "(none)"
	if len(historyLines) > 0 {
		historyText = strings.Join(historyLines, "\n")
	}

	interventionLines := make([]string, 0, len(in.Interventions))
	for _, item := range in.Interventions {
		interventionLines = append(interventionLines, "- "+item.Content)
	}
	interventionText := "(none)"
	if len(interventionLines) > 0 {
		interventionText = strings.Join(interventionLines, "\n")
	}

	sections := []string{"World preset:\n" + in.WorldPreset}

	calendar := "Time advance label: " + in.TickLabel
	if start, ok := parseStartTime(in.TimelineStartISO); ok {
		simulated := AddSteps(start, stepOffset(in.NextSeq, in.TimelineStepValue), in.TimelineStepUnit)
		calendar += "\nSimulated date: " + simulated.Format("2006-01-02")
	}
	sections = append(sections, calendar)

	if len(in.MemorySnippets) > 0 {
		memoryLines := make([]string, 0, len(in.MemorySnippets))
		for _, snippet := range in.MemorySnippets {
			memoryLines = append(memoryLines, "- "+snippet)
		}
		sections = append(sections, "Memory snippets:\n"+strings.Join(memoryLines, "\n"))
	}

	if in.WorldlineContext != "" {
		sections = append(sections, "Continuity context:\n"+in.WorldlineContext)
	}

	sections = append(sections,
		"Recent timeline:\n"+historyText,
		"Pending interventions:\n"+interventionText,
	)

	if dice := in.DicePlan.PromptText(); dice != "" {
		sections = append(sections, "Event dice guidance:\n"+dice)
	}

	sections = append(sections,
		"Return JSON only. For crisis_focus, return only a short broad category noun.",
		localeInstruction(in.OutputLanguage),
	)

	return []providers.Message{
		{Role: providers.RoleSystem, Content: systemPrompt},
		{Role: providers.RoleUser, Content: strings.Join(sections, "\n\n")},
	}
}

// MemoryQuery renders the retrieval query handed to the memory collaborator
// before the prompt itself is assembled.
func MemoryQuery(in Input) string {
	timeline := in.Timeline
	if len(timeline) > 3 {
		timeline = timeline[len(timeline)-3:]
	}
	recent := make([]string, 0, len(timeline))
	for _, msg := range timeline {
		recent = append(recent, msg.Content)
	}

	interventions := in.Interventions
	if len(interventions) > 3 {
		interventions = interventions[len(interventions)-3:]
	}
	pending := make([]string, 0, len(interventions))
	for _, item := range interventions {
		pending = append(pending, item.Content)
	}

	start := in.TimelineStartISO
	if start == "" {
		start = "(auto)"
	}
	return "World preset: " + in.WorldPreset + "\n" +
		"Recent timeline focus: " + strings.Join(recent, " ") + "\n" +
		"Pending interventions: " + strings.Join(pending, " ") + "\n" +
		"Time advance label: " + in.TickLabel + "\n" +
		"Timeline start: " + start + "\n" +
		fmt.Sprintf("Timeline step: %d %s", in.TimelineStepValue, in.TimelineStepUnit)
}

func localeInstruction(language string) string {
	if report.NormalizeLanguage(language) == "zh-cn" {
		return "Write every natural-language field in Simplified Chinese (zh-CN); keep JSON keys, category, and severity values in English."
	}
	return "Write every natural-language field in English."
}
