package report

import "strings"

// Tension below this level means no crisis is in focus.
const focusClearTension = 25

// TopicRoute pairs a crisis topic label with the keywords that select it.
// Routes are evaluated in order; earlier topics win. Key is the
// locale-independent route id so callers can attach extra trigger
// conditions without caring which locale's label it carries.
type TopicRoute struct {
	Key      string
	Topic    string
	Keywords []string
}

const (
	TopicKeyWar              = "war"
	TopicKeyFamine           = "famine"
	TopicKeyEpidemic         = "epidemic"
	TopicKeyFinancialCrisis  = "financial_crisis"
	TopicKeyNaturalDisaster  = "natural_disaster"
	TopicKeyAccident         = "accident"
	TopicKeyPoliticalTurmoil = "political_turmoil"
)

var topicRoutesEN = []TopicRoute{
	{Key: TopicKeyWar, Topic: "war", Keywords: []string{"war", "invasion", "conflict", "sanction", "riot"}},
	{Key: TopicKeyFamine, Topic: "famine", Keywords: []string{"famine", "hunger", "crop failure"}},
	{Key: TopicKeyEpidemic, Topic: "epidemic", Keywords: []string{"epidemic", "plague", "infection", "quarantine"}},
	{Key: TopicKeyFinancialCrisis, Topic: "financial crisis", Keywords: []string{"inflation", "bank run", "default", "crash"}},
	{Key: TopicKeyNaturalDisaster, Topic: "natural disaster", Keywords: []string{"earthquake", "flood", "hurricane", "wildfire", "eruption"}},
	{Key: TopicKeyAccident, Topic: "major accident", Keywords: []string{"explosion", "leak", "accident", "collapse"}},
	{Key: TopicKeyPoliticalTurmoil, Topic: "political turmoil", Keywords: []string{"coup", "uprising", "protest", "turmoil"}},
}

var topicRoutesZH = []TopicRoute{
	{Key: TopicKeyWar, Topic: "战争", Keywords: []string{"战争", "战事", "入侵", "冲突", "制裁"}},
	{Key: TopicKeyFamine, Topic: "饥荒", Keywords: []string{"饥荒", "歉收", "粮", "断粮"}},
	{Key: TopicKeyEpidemic, Topic: "瘟疫", Keywords: []string{"瘟疫", "疫病", "感染", "隔离"}},
	{Key: TopicKeyFinancialCrisis, Topic: "金融危机", Keywords: []string{"金融", "通胀", "崩盘", "挤兑"}},
	{Key: TopicKeyNaturalDisaster, Topic: "自然灾害", Keywords: []string{"地震", "洪水", "台风", "暴雨", "火山", "雪灾"}},
	{Key: TopicKeyAccident, Topic: "事故", Keywords: []string{"爆炸", "污染", "泄漏", "事故"}},
	{Key: TopicKeyPoliticalTurmoil, Topic: "政治动荡", Keywords: []string{"政变", "叛乱", "示威", "动荡"}},
}

// NormalizeLanguage folds a locale code onto the two supported prompt
// locales, "en" and "zh-cn".
func NormalizeLanguage(code string) string {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(code)), "_", "-")
	switch normalized {
	case "zh", "zh-cn", "zh-hans":
		return "zh-cn"
	}
	return "en"
}

// TopicCatalog lists the crisis topic labels for a locale.
func TopicCatalog(language string) []string {
	if NormalizeLanguage(language) == "zh-cn" {
		return []string{"战争", "饥荒", "瘟疫", "金融危机", "干旱", "自然灾害", "人为灾害", "事故", "政治动荡", "技术突破"}
	}
	return []string{
		"war", "famine", "epidemic", "financial crisis", "drought",
		"natural disaster", "man-made disaster", "major accident",
		"political turmoil", "technology breakthrough",
	}
}

// TopicRoutes returns the keyword routing table for a locale, in priority
// order.
func TopicRoutes(language string) []TopicRoute {
	if NormalizeLanguage(language) == "zh-cn" {
		return topicRoutesZH
	}
	return topicRoutesEN
}

// RouteCrisisTopic matches event text against the locale's topic keywords
// and returns the catalog label, or "" when nothing matches.
func RouteCrisisTopic(text, language string) string {
	lowered := strings.ToLower(text)
	if lowered == "" {
		return ""
	}
	for _, route := range TopicRoutes(language) {
		for _, keyword := range route.Keywords {
			if strings.Contains(lowered, keyword) {
				return route.Topic
			}
		}
	}
	return ""
}

// ApplyEventImpacts folds the round's events back into the tension meter
// after parsing: negative events raise it, positive events lower it, neutral
// events leave it alone. When the adjusted tension drops below the focus
// threshold the crisis focus clears; otherwise the dominant negative event
// may re-target it onto a matching topic label.
func ApplyEventImpacts(s *Snapshot, outputLanguage string) *Snapshot {
	if s == nil {
		return nil
	}

	tension := s.TensionPercent
	for _, ev := range s.Events {
		switch ev.Category {
		case CategoryNegative:
			tension += impactStep(ev.Severity)
		case CategoryPositive:
			tension -= impactStep(ev.Severity)
		}
	}
	s.TensionPercent = clampPercent(float64(tension))

	if s.TensionPercent < focusClearTension {
		s.CrisisFocus = ""
		return s
	}
	if topic := RouteCrisisTopic(dominantNegative(s.Events), outputLanguage); topic != "" {
		s.CrisisFocus = topic
	}
	return s
}

// impactStep stacks on a model-provided tension, so the deltas stay below
// the from-scratch inference steps.
func impactStep(severity string) int {
	switch severity {
	case SeverityLow:
		return 3
	case SeverityHigh:
		return 10
	default:
		return 6
	}
}

func dominantNegative(events []Entry) string {
	description := ""
	best := 0
	for _, ev := range events {
		if ev.Category != CategoryNegative {
			continue
		}
		if rank := severityRank(ev.Severity); rank > best {
			description = ev.Description
			best = rank
		}
	}
	return description
}

func severityRank(severity string) int {
	switch severity {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}
