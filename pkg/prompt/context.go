package prompt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/worldloom/loom/pkg/models"
	"github.com/worldloom/loom/pkg/report"
)

const maxAnchors = 8

const (
	sourceSummary = "summary"
	sourceEvent   = "event"
	sourceRisk    = "risk"
)

// worldlineSignal is one scored fact pulled out of a prior report.
type worldlineSignal struct {
	seq      int
	category string
	severity string
	text     string
	source   string
}

// BuildWorldlineContext digests the prior reports on a branch into a short
// trajectory summary for the prompt: a trend line, a risk outlook, and up to
// eight continuity anchors the model should stay consistent with.
func BuildWorldlineContext(timeline []*models.Message) string {
	signals := extractSignals(timeline)
	if len(signals) == 0 {
		return "Trend: not enough confirmed key events yet.\n" +
			"Risk outlook: uncertain due to sparse history.\n" +
			"Key continuity anchors:\n" +
			"- none"
	}
	lines := []string{
		"Trend: " + trendSummary(signals),
		"Risk outlook: " + riskSummary(signals),
		"Key continuity anchors:",
	}
	for _, anchor := range buildAnchors(signals, maxAnchors) {
		lines = append(lines, "- "+anchor)
	}
	return strings.Join(lines, "\n")
}

func extractSignals(timeline []*models.Message) []worldlineSignal {
	var signals []worldlineSignal
	for _, message := range timeline {
		if message.Role != models.RoleSystemReport {
			continue
		}
		payload := storedPayload(message.ReportSnapshot)
		if payload == nil {
			payload = contentPayload(message.Content)
		}
		if payload == nil {
			continue
		}
		if summary := safeText(payload["summary"]); summary != "" {
			signals = append(signals, worldlineSignal{
				seq:      message.Seq,
				category: report.CategoryNeutral,
				severity: report.SeverityMedium,
				text:     summary,
				source:   sourceSummary,
			})
		}
		signals = append(signals, entrySignals(message.Seq, payload["events"],
			report.CategoryNeutral, report.SeverityMedium, sourceEvent)...)
		signals = append(signals, entrySignals(message.Seq, payload["risks"],
			report.CategoryNegative, report.SeverityHigh, sourceRisk)...)
	}
	return signals
}

func trendSummary(signals []worldlineSignal) string {
	var negative, positive, neutral, highNegative int
	for _, item := range signals {
		switch item.category {
		case report.CategoryNegative:
			negative++
			if item.severity == report.SeverityHigh {
				highNegative++
			}
		case report.CategoryPositive:
			positive++
		default:
			neutral++
		}
	}

	recent := signals
	if len(recent) > 6 {
		recent = recent[len(recent)-6:]
	}
	var recentNegative, recentPositive int
	for _, item := range recent {
		switch item.category {
		case report.CategoryNegative:
			recentNegative++
		case report.CategoryPositive:
			recentPositive++
		}
	}

	direction := "mixed trajectory with volatile shifts"
	switch {
	case recentNegative >= 4 || highNegative >= 4:
		direction = "escalating instability with repeated high-impact shocks"
	case recentPositive >= recentNegative+2:
		direction = "partial stabilization with recovery momentum"
	case negative >= positive+3:
		direction = "fragile trajectory with sustained downside pressure"
	}
	return fmt.Sprintf("%s; negative=%d, positive=%d, neutral=%d, high_negative=%d",
		direction, negative, positive, neutral, highNegative)
}

var riskThemes = []struct {
	name     string
	keywords []string
}{
	{"war", []string{"war", "invasion", "battle", "frontline", "战争", "冲突"}},
	{"epidemic", []string{"epidemic", "pandemic", "plague", "outbreak", "疫情", "瘟疫"}},
	{"famine", []string{"famine", "hunger", "粮食短缺", "饥荒"}},
	{"natural_disaster", []string{"earthquake", "flood", "wildfire", "hurricane", "typhoon", "drought", "地震", "洪水", "台风", "干旱", "山火"}},
	{"man_made_disaster", []string{"meltdown", "chemical leak", "industrial", "explosion", "人为灾害", "泄漏", "爆炸"}},
	{"accident", []string{"accident", "crash", "collision", "事故", "坠毁", "相撞"}},
}

func riskSummary(signals []worldlineSignal) string {
	parts := make([]string, 0, len(signals))
	for _, item := range signals {
		parts = append(parts, strings.ToLower(item.text))
	}
	text := strings.Join(parts, " ")

	type themeHit struct {
		name  string
		count int
	}
	hits := make([]themeHit, 0, len(riskThemes))
	for _, theme := range riskThemes {
		count := 0
		for _, keyword := range theme.keywords {
			count += strings.Count(text, keyword)
		}
		if count > 0 {
			hits = append(hits, themeHit{theme.name, count})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].count > hits[j].count })

	majorThemes := "none"
	if len(hits) > 0 {
		names := make([]string, 0, 3)
		for _, hit := range hits[:min(3, len(hits))] {
			names = append(names, hit.name)
		}
		majorThemes = strings.Join(names, ", ")
	}

	severe := 0
	for _, item := range signals {
		if item.category == report.CategoryNegative && item.severity == report.SeverityHigh {
			severe++
		}
	}
	note := "managed but fragile pressure"
	switch {
	case severe >= 4:
		note = "critical crisis density"
	case severe >= 2:
		note = "elevated crisis pressure"
	}
	return note + "; dominant themes: " + majorThemes
}

func buildAnchors(signals []worldlineSignal, limit int) []string {
	maxSeq := 1
	for _, item := range signals {
		if item.seq > maxSeq {
			maxSeq = item.seq
		}
	}
	ranked := make([]worldlineSignal, len(signals))
	copy(ranked, signals)
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := anchorRank(ranked[i], maxSeq), anchorRank(ranked[j], maxSeq)
		if ri != rj {
			return ri > rj
		}
		return ranked[i].seq > ranked[j].seq
	})

	anchors := make([]string, 0, limit)
	seen := make(map[string]struct{}, limit)
	for _, item := range ranked {
		headline := report.FirstSentence(item.text)
		if headline == "" {
			continue
		}
		key := strings.ToLower(headline)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		anchors = append(anchors, fmt.Sprintf("#%d (%s/%s) %s", item.seq, item.category, item.severity, headline))
		if len(anchors) >= limit {
			break
		}
	}
	if len(anchors) == 0 {
		return []string{"none"}
	}
	return anchors
}

// anchorRank orders signals by how much they constrain the future: negative
// beats positive beats neutral, severity stacks on top, risks outrank events
// outrank summaries, and newer entries win ties.
func anchorRank(item worldlineSignal, maxSeq int) float64 {
	var categoryScore float64
	switch item.category {
	case report.CategoryNegative:
		categoryScore = 3
	case report.CategoryPositive:
		categoryScore = 2
	default:
		categoryScore = 1
	}
	var severityScore float64
	switch item.severity {
	case report.SeverityHigh:
		severityScore = 3
	case report.SeverityMedium:
		severityScore = 2
	default:
		severityScore = 1
	}
	var sourceScore float64
	switch item.source {
	case sourceRisk:
		sourceScore = 1.2
	case sourceEvent:
		sourceScore = 1.0
	default:
		sourceScore = 0.6
	}
	return categoryScore + severityScore + sourceScore + float64(item.seq)/float64(maxSeq)
}

func entrySignals(seq int, value any, defaultCategory, defaultSeverity, source string) []worldlineSignal {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	var rows []worldlineSignal
	for _, item := range items {
		switch entry := item.(type) {
		case string:
			text := safeText(entry)
			if text == "" {
				continue
			}
			rows = append(rows, worldlineSignal{
				seq:      seq,
				category: inferCategory(text, defaultCategory),
				severity: inferSeverity(text, defaultSeverity),
				text:     text,
				source:   source,
			})
		case map[string]any:
			text := entryText(entry)
			if text == "" {
				continue
			}
			rows = append(rows, worldlineSignal{
				seq:      seq,
				category: signalCategory(entry["category"], text, defaultCategory),
				severity: signalSeverity(entry["severity"], text, defaultSeverity),
				text:     text,
				source:   source,
			})
		}
	}
	return rows
}

func entryText(entry map[string]any) string {
	for _, key := range []string{"description", "detail", "content", "title", "label"} {
		if text := safeText(entry[key]); text != "" {
			return text
		}
	}
	return ""
}

func signalCategory(raw any, text, fallback string) string {
	switch strings.ToLower(strings.TrimSpace(stringValue(raw))) {
	case "positive", "good":
		return report.CategoryPositive
	case "negative", "bad":
		return report.CategoryNegative
	case "neutral", "general":
		return report.CategoryNeutral
	}
	return inferCategory(text, fallback)
}

func signalSeverity(raw any, text, fallback string) string {
	switch strings.ToLower(strings.TrimSpace(stringValue(raw))) {
	case "low", "minor", "轻微", "低":
		return report.SeverityLow
	case "high", "critical", "severe", "高", "严重":
		return report.SeverityHigh
	case "medium", "moderate", "中":
		return report.SeverityMedium
	}
	return inferSeverity(text, fallback)
}

var negativeSignalWords = []string{
	"war", "invasion", "battle", "frontline", "conflict",
	"epidemic", "pandemic", "plague", "famine", "casualty", "death",
	"earthquake", "flood", "wildfire", "hurricane", "typhoon", "drought",
	"collapse", "explosion", "meltdown", "accident", "crash", "outbreak",
	"战争", "瘟疫", "疫情", "饥荒", "死亡", "灾害", "事故", "地震", "洪水", "火灾",
}

var positiveSignalWords = []string{
	"recovery", "peace", "ceasefire", "breakthrough", "stabilize",
	"growth", "cooperation", "alliance", "prosper",
	"复苏", "停火", "突破", "增长", "合作", "稳定",
}

var severeHints = []string{
	"mass", "collapse", "catastrophic", "全面", "大规模", "重大", "致命",
}

func inferCategory(text, fallback string) string {
	lowered := strings.ToLower(text)
	for _, keyword := range negativeSignalWords {
		if strings.Contains(lowered, keyword) {
			return report.CategoryNegative
		}
	}
	for _, keyword := range positiveSignalWords {
		if strings.Contains(lowered, keyword) {
			return report.CategoryPositive
		}
	}
	return fallback
}

func inferSeverity(text, fallback string) string {
	lowered := strings.ToLower(text)
	for _, hint := range severeHints {
		if strings.Contains(lowered, hint) {
			return report.SeverityHigh
		}
	}
	return fallback
}

func storedPayload(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	return payload
}

var (
	fenceOpenRe  = regexp.MustCompile(`(?i)^` + "```" + `(?:json)?\s*`)
	fenceCloseRe = regexp.MustCompile(`\s*` + "```" + `$`)
)

// contentPayload parses legacy rows whose snapshot column is empty: strict
// JSON only, with code fences stripped and a brace-to-brace retry.
func contentPayload(content string) map[string]any {
	normalized := strings.TrimSpace(content)
	if strings.HasPrefix(normalized, "```") {
		normalized = fenceOpenRe.ReplaceAllString(normalized, "")
		normalized = fenceCloseRe.ReplaceAllString(normalized, "")
		normalized = strings.TrimSpace(normalized)
	}
	candidates := []string{normalized}
	if extracted := sliceJSONObject(normalized); extracted != "" && extracted != normalized {
		candidates = append(candidates, extracted)
	}
	for _, candidate := range candidates {
		var payload map[string]any
		if err := json.Unmarshal([]byte(candidate), &payload); err == nil && payload != nil {
			return payload
		}
	}
	return nil
}

func sliceJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return ""
	}
	return strings.TrimSpace(content[start : end+1])
}

func stringValue(value any) string {
	text, _ := value.(string)
	return text
}

func safeText(value any) string {
	return strings.Join(strings.Fields(stringValue(value)), " ")
}
