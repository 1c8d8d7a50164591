package prompt

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/worldloom/loom/pkg/models"
	"github.com/worldloom/loom/pkg/report"
)

// DiceConfig carries the event dice tuning knobs. RollPlan clamps the values
// before use, so callers can hand over raw settings.
type DiceConfig struct {
	Enabled    bool
	GoodProb   float64
	BadProb    float64
	RebelProb  float64
	MinEvents  int
	MaxEvents  int
	Hemisphere string
}

func (c DiceConfig) withDefaults() DiceConfig {
	c.GoodProb = clampProbability(c.GoodProb)
	c.BadProb = clampProbability(c.BadProb)
	c.RebelProb = clampProbability(c.RebelProb)
	if c.MinEvents < 1 {
		c.MinEvents = 1
	}
	if c.MaxEvents < c.MinEvents {
		c.MaxEvents = c.MinEvents
	}
	c.Hemisphere = strings.ToLower(strings.TrimSpace(c.Hemisphere))
	if c.Hemisphere == "" {
		c.Hemisphere = "north"
	}
	return c
}

// DiceSlot is one rolled slot the model must fill with a concrete event.
type DiceSlot struct {
	Category   string
	Severity   string
	Topic      string
	Rebellious bool
}

// DicePlan is the stochastic guidance for one generation round. Its prompt
// rendering is part of the determinism contract: the plan is rolled once by
// the caller and the builder only formats it.
type DicePlan struct {
	Enabled          bool
	TargetEventCount int
	PositiveMin      int
	NegativeMin      int
	NeutralMin       int
	CrisisFocus      string
	Slots            []DiceSlot
	SeasonHint       string
	GeopoliticalHint string
	ScaleHint        string
	IntervalHint     string
}

// DiceInput is the timeline context the dice react to. Now anchors the
// simulated calendar when the session has no explicit start date.
type DiceInput struct {
	Timeline          []*models.Message
	TimelineStartISO  string
	TimelineStepValue int
	TimelineStepUnit  string
	NextSeq           int
	OutputLanguage    string
	Now               time.Time
}

// RollPlan rolls the event guidance for the round that will produce sequence
// NextSeq. The caller owns the RNG, so a fixed seed reproduces the same plan.
func RollPlan(rng *rand.Rand, cfg DiceConfig, in DiceInput) *DicePlan {
	cfg = cfg.withDefaults()
	if !cfg.Enabled {
		return &DicePlan{
			TargetEventCount: 1,
			NeutralMin:       1,
			SeasonHint:       "No season hint.",
			GeopoliticalHint: "No geopolitical pressure hint.",
			ScaleHint:        "No scale hint.",
			IntervalHint:     fmt.Sprintf("%d %s", in.TimelineStepValue, in.TimelineStepUnit),
		}
	}

	target := cfg.MinEvents + rng.Intn(cfg.MaxEvents-cfg.MinEvents+1)
	positiveMin := 0
	if rng.Float64() < cfg.GoodProb {
		positiveMin = 1
	}
	negativeMin := 0
	if rng.Float64() < cfg.BadProb {
		negativeMin = 1
	}
	for positiveMin+negativeMin > target {
		if negativeMin > 0 {
			negativeMin--
		} else if positiveMin > 0 {
			positiveMin--
		}
	}
	neutralMin := target - positiveMin - negativeMin
	if neutralMin < 0 {
		neutralMin = 0
	}
	if positiveMin == 0 && negativeMin == 0 && neutralMin == 0 {
		neutralMin = 1
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	simulated := SimulatedTime(in.TimelineStartISO, in.TimelineStepValue, in.TimelineStepUnit, in.NextSeq, now)
	season := seasonHint(simulated, cfg.Hemisphere)
	geopolitical := geopoliticalHint(in.Timeline)
	focus := chooseCrisisFocus(rng, in.Timeline, season, geopolitical, in.OutputLanguage)
	categories := rollCategories(rng, target, positiveMin, negativeMin, neutralMin,
		cfg.GoodProb, cfg.BadProb, geopolitical)

	slots := make([]DiceSlot, 0, len(categories))
	for _, category := range categories {
		rebellious := false
		if category == report.CategoryPositive || category == report.CategoryNegative {
			rebellious = rng.Float64() < cfg.RebelProb
		}
		topic := focus
		if rebellious {
			topic = chooseRebelTopic(rng, focus, in.OutputLanguage)
		}
		slots = append(slots, DiceSlot{
			Category:   category,
			Severity:   rollSeverity(rng, category, in.TimelineStepValue, in.TimelineStepUnit),
			Topic:      topic,
			Rebellious: rebellious,
		})
	}

	return &DicePlan{
		Enabled:          true,
		TargetEventCount: target,
		PositiveMin:      positiveMin,
		NegativeMin:      negativeMin,
		NeutralMin:       neutralMin,
		CrisisFocus:      focus,
		Slots:            slots,
		SeasonHint:       season,
		GeopoliticalHint: geopolitical,
		ScaleHint:        scaleHint(in.TimelineStepValue, in.TimelineStepUnit),
		IntervalHint:     fmt.Sprintf("%d %s", in.TimelineStepValue, in.TimelineStepUnit),
	}
}

// PromptText renders the plan as prompt guidance. Disabled plans render
// nothing so the prompt stays clean when the dice are off.
func (p *DicePlan) PromptText() string {
	if p == nil || !p.Enabled {
		return ""
	}
	lines := []string{
		fmt.Sprintf("Target event count: %d (positive >= %d, negative >= %d, neutral >= %d).",
			p.TargetEventCount, p.PositiveMin, p.NegativeMin, p.NeutralMin),
		"Crisis focus: " + p.CrisisFocus + ".",
		"Season hint: " + p.SeasonHint,
		"Geopolitical hint: " + p.GeopoliticalHint,
		"Scale hint: " + p.ScaleHint,
		"Interval: " + p.IntervalHint + ".",
		"Event slots:",
	}
	for i, slot := range p.Slots {
		line := fmt.Sprintf("- slot %d: %s/%s on topic %q", i+1, slot.Category, slot.Severity, slot.Topic)
		if slot.Rebellious {
			line += " (rebellious wildcard: break away from the crisis focus)"
		}
		lines = append(lines, line)
	}
	lines = append(lines, "Fill every slot with one matching event and keep each description consistent with the timeline.")
	return strings.Join(lines, "\n")
}

func clampProbability(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func seasonHint(simulated time.Time, hemisphere string) string {
	var season string
	switch month := int(simulated.Month()); {
	case month == 12 || month <= 2:
		season = "winter"
	case month <= 5:
		season = "spring"
	case month <= 8:
		season = "summer"
	default:
		season = "autumn"
	}
	side := "northern"
	if hemisphere == "south" {
		side = "southern"
		switch season {
		case "winter":
			season = "summer"
		case "spring":
			season = "autumn"
		case "summer":
			season = "winter"
		default:
			season = "spring"
		}
	}
	return fmt.Sprintf("Current season is %s in the %s hemisphere.", season, side)
}

var (
	tensionWords     = []string{"war", "sanction", "conflict", "riot", "blockade", "crisis"}
	cooperationWords = []string{"treaty", "alliance", "ceasefire", "trade", "cooperation", "summit"}
)

func geopoliticalHint(timeline []*models.Message) string {
	if len(timeline) == 0 {
		return "Global conditions are uncertain but not yet escalated."
	}
	window := timeline
	if len(window) > 8 {
		window = window[len(window)-8:]
	}
	parts := make([]string, 0, len(window))
	for _, msg := range window {
		parts = append(parts, strings.ToLower(msg.Content))
	}
	joined := strings.Join(parts, " ")

	tension := 0
	for _, word := range tensionWords {
		tension += strings.Count(joined, word)
	}
	cooperation := 0
	for _, word := range cooperationWords {
		cooperation += strings.Count(joined, word)
	}
	switch {
	case tension >= cooperation+2:
		return "International conditions are tense with rising confrontation signals."
	case cooperation >= tension+2:
		return "International conditions lean toward temporary coordination and diplomacy."
	default:
		return "International conditions are mixed, with both friction and cooperation."
	}
}

// chooseCrisisFocus routes the recent timeline onto a crisis topic. The war
// and famine routes carry extra triggers from the rolled hints; when nothing
// matches, a topic is drawn at random from the locale catalog.
func chooseCrisisFocus(rng *rand.Rand, timeline []*models.Message, season, geopolitical, outputLanguage string) string {
	language := report.NormalizeLanguage(outputLanguage)
	topics := report.TopicCatalog(language)
	if len(topics) == 0 {
		return ""
	}
	window := timeline
	if len(window) > 10 {
		window = window[len(window)-10:]
	}
	parts := make([]string, 0, len(window))
	for _, msg := range window {
		parts = append(parts, msg.Content)
	}
	text := strings.ToLower(strings.Join(parts, " "))
	seasonLower := strings.ToLower(season)
	geopoliticalLower := strings.ToLower(geopolitical)

	for _, route := range report.TopicRoutes(language) {
		if routeHit(route, text) {
			return route.Topic
		}
		switch route.Key {
		case report.TopicKeyWar:
			if strings.Contains(geopoliticalLower, "tense") {
				return route.Topic
			}
		case report.TopicKeyFamine:
			if strings.Contains(seasonLower, "drought") {
				return route.Topic
			}
		}
	}
	return topics[rng.Intn(len(topics))]
}

func routeHit(route report.TopicRoute, text string) bool {
	for _, keyword := range route.Keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

func chooseRebelTopic(rng *rand.Rand, crisisFocus, outputLanguage string) string {
	topics := report.TopicCatalog(outputLanguage)
	candidates := make([]string, 0, len(topics))
	for _, topic := range topics {
		if topic != crisisFocus {
			candidates = append(candidates, topic)
		}
	}
	if len(candidates) == 0 {
		return crisisFocus
	}
	return candidates[rng.Intn(len(candidates))]
}

func rollCategories(rng *rand.Rand, target, positiveMin, negativeMin, neutralMin int, goodProb, badProb float64, geopolitical string) []string {
	categories := make([]string, 0, target)
	for i := 0; i < positiveMin; i++ {
		categories = append(categories, report.CategoryPositive)
	}
	for i := 0; i < negativeMin; i++ {
		categories = append(categories, report.CategoryNegative)
	}
	for i := 0; i < neutralMin; i++ {
		categories = append(categories, report.CategoryNeutral)
	}

	if remaining := target - len(categories); remaining > 0 {
		hint := strings.ToLower(geopolitical)
		tensionBoost := 0.0
		if strings.Contains(hint, "tense") || strings.Contains(hint, "confrontation") {
			tensionBoost = 0.10
		}
		weightPositive := math.Max(0.05, goodProb)
		weightNegative := math.Max(0.05, badProb+tensionBoost)
		weightNeutral := math.Max(0.10, 1.0-(weightPositive+weightNegative)/2.0)
		total := weightPositive + weightNegative + weightNeutral
		weightPositive /= total
		weightNegative /= total

		for i := 0; i < remaining; i++ {
			switch pick := rng.Float64(); {
			case pick < weightPositive:
				categories = append(categories, report.CategoryPositive)
			case pick < weightPositive+weightNegative:
				categories = append(categories, report.CategoryNegative)
			default:
				categories = append(categories, report.CategoryNeutral)
			}
		}
	}

	rng.Shuffle(len(categories), func(i, j int) {
		categories[i], categories[j] = categories[j], categories[i]
	})
	if len(categories) > target {
		categories = categories[:target]
	}
	return categories
}

// rollSeverity draws from a gaussian biased toward medium, with the mean
// shifted by the time interval scale and the slot category.
func rollSeverity(rng *rand.Rand, category string, stepValue int, stepUnit string) string {
	unit := strings.ToLower(strings.TrimSpace(stepUnit))
	if unit == "" {
		unit = models.StepUnitMonth
	}
	value := stepValue
	if value < 1 {
		value = 1
	}
	mu := -0.15
	switch unit {
	case models.StepUnitDay:
		mu = -0.60
	case models.StepUnitWeek:
		mu = -0.35
	case models.StepUnitMonth:
		mu = -0.10
	case models.StepUnitYear:
		mu = 0.25
	}
	mu += math.Min(0.35, 0.15*math.Log10(float64(value+1)))

	switch category {
	case report.CategoryNegative:
		mu += 0.10
	case report.CategoryPositive:
		mu += 0.05
	default:
		mu -= 0.10
	}

	switch z := rng.NormFloat64()*0.85 + mu; {
	case z < -0.25:
		return report.SeverityLow
	case z < 0.70:
		return report.SeverityMedium
	default:
		return report.SeverityHigh
	}
}

func scaleHint(stepValue int, stepUnit string) string {
	value := stepValue
	if value < 1 {
		value = 1
	}
	unit := strings.ToLower(strings.TrimSpace(stepUnit))
	if unit == "" {
		unit = models.StepUnitMonth
	}
	switch days := intervalDays(value, unit); {
	case days <= 2:
		return "Very short interval: avoid civilizational shocks; focus on local and incremental changes."
	case days <= 14:
		return "Short interval: major strategic shifts are rare; focus on emerging signals and limited incidents."
	case days <= 90:
		return "Medium interval: regional escalations or reforms can happen if well justified."
	case days <= 370:
		return "Long interval: large policy turns, regime changes, or state fragmentation become plausible."
	default:
		return "Very long interval: transformative geopolitical and civilizational shifts are plausible."
	}
}

func intervalDays(value int, unit string) int {
	switch unit {
	case models.StepUnitDay:
		return value
	case models.StepUnitWeek:
		return value * 7
	case models.StepUnitYear:
		return value * 365
	default:
		return value * 30
	}
}
