// Package report parses the structured world-progress snapshot out of raw
// model output and normalizes it into the canonical form persisted alongside
// each system report. Models are sloppy: content arrives wrapped in code
// fences, with trailing commas, or with half-quoted keys, so parsing runs a
// small repair pipeline before giving up.
package report

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Entry is one event or risk line inside a snapshot.
type Entry struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// Snapshot is the canonical parsed form of a world progress report.
type Snapshot struct {
	Title          string  `json:"title"`
	TimeAdvance    string  `json:"time_advance"`
	Summary        string  `json:"summary"`
	Events         []Entry `json:"events"`
	Risks          []Entry `json:"risks"`
	TensionPercent int     `json:"tension_percent"`
	CrisisFocus    string  `json:"crisis_focus"`
}

// Entry categories and severities. Anything else is folded onto these during
// normalization.
const (
	CategoryPositive = "positive"
	CategoryNegative = "negative"
	CategoryNeutral  = "neutral"

	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

const (
	defaultTitle       = "World Report"
	defaultTimeAdvance = "tick"
)

var negativeHints = []string{
	"war", "invasion", "battle", "conflict", "epidemic", "pandemic", "plague",
	"famine", "casualty", "death", "earthquake", "flood", "wildfire",
	"hurricane", "typhoon", "drought", "collapse", "explosion", "meltdown",
	"accident", "outbreak", "sanction", "blockade",
	"战争", "冲突", "瘟疫", "疫情", "饥荒", "死亡", "灾害", "事故", "地震",
	"洪水", "火灾", "封锁", "制裁",
}

var positiveHints = []string{
	"recovery", "peace", "ceasefire", "breakthrough", "stabilize", "growth",
	"cooperation", "alliance", "prosper",
	"复苏", "停火", "突破", "增长", "合作", "稳定",
}

var severityHighHints = []string{
	"mass", "catastrophic", "collapse", "state-wide", "national",
	"全面", "大规模", "重大", "致命", "灭亡", "全面战争",
}

var severityLowHints = []string{"minor", "local", "small", "轻微", "局部", "小规模"}

// Parse recovers a snapshot from raw model output: code fences are stripped,
// the outermost JSON object is extracted if the content has prose around it,
// and light JSON repair is attempted. Returns nil when no object can be
// recovered; unparseable output is not an error, the raw content is kept
// as-is in that case.
func Parse(content, fallbackTimeAdvance string) *Snapshot {
	normalized := sanitizeReportText(content)
	if normalized == "" {
		return nil
	}

	candidates := []string{normalized}
	if extracted := extractJSONObject(normalized); extracted != "" && extracted != normalized {
		candidates = append(candidates, extracted)
	}

	for _, candidate := range candidates {
		payload := loadJSONMapping(candidate)
		if payload == nil {
			continue
		}
		return Normalize(payload, fallbackTimeAdvance)
	}
	return nil
}

// Normalize folds a decoded payload onto the canonical snapshot shape,
// filling defaults and inferring tension and crisis focus when the model
// omitted them.
func Normalize(payload map[string]any, fallbackTimeAdvance string) *Snapshot {
	title := safeText(payload["title"])
	if title == "" {
		title = defaultTitle
	}
	timeAdvance := safeText(payload["time_advance"])
	if timeAdvance == "" {
		timeAdvance = cleanText(fallbackTimeAdvance)
	}
	if timeAdvance == "" {
		timeAdvance = defaultTimeAdvance
	}

	events := normalizeEntries(payload["events"], CategoryNeutral, SeverityMedium)
	risks := normalizeEntries(payload["risks"], CategoryNegative, SeverityHigh)

	summary := safeText(payload["summary"])
	if summary == "" {
		summary = fallbackSummary(events, risks)
	}

	tension, ok := parseTensionPercent(firstTruthy(payload, "tension_percent", "tension", "tension_index"))
	if !ok {
		tension = inferTensionPercent(events, risks)
	}

	focus := safeText(firstTruthy(payload, "crisis_focus", "crisis_focus_event", "focus_event"))
	if focus == "" {
		focus = fallbackCrisisFocus(summary, events, risks)
	}

	return &Snapshot{
		Title:          title,
		TimeAdvance:    timeAdvance,
		Summary:        summary,
		Events:         events,
		Risks:          risks,
		TensionPercent: tension,
		CrisisFocus:    focus,
	}
}

// Content renders the compact canonical JSON persisted as the message body.
// Tension and crisis focus stay out of the body; they live only in the
// snapshot column.
func (s *Snapshot) Content() string {
	if s == nil {
		return ""
	}
	payload := struct {
		Title       string  `json:"title"`
		TimeAdvance string  `json:"time_advance"`
		Summary     string  `json:"summary"`
		Events      []Entry `json:"events"`
		Risks       []Entry `json:"risks"`
	}{
		Title:       s.Title,
		TimeAdvance: s.TimeAdvance,
		Summary:     s.Summary,
		Events:      s.Events,
		Risks:       s.Risks,
	}
	if payload.Title == "" {
		payload.Title = defaultTitle
	}
	if payload.TimeAdvance == "" {
		payload.TimeAdvance = defaultTimeAdvance
	}
	if payload.Events == nil {
		payload.Events = []Entry{}
	}
	if payload.Risks == nil {
		payload.Risks = []Entry{}
	}
	body, err := marshalCompact(payload)
	if err != nil {
		return ""
	}
	return string(body)
}

// StorageJSON serializes the full snapshot for the report_snapshot column.
func (s *Snapshot) StorageJSON() json.RawMessage {
	if s == nil {
		return nil
	}
	snapshot := *s
	if snapshot.Events == nil {
		snapshot.Events = []Entry{}
	}
	if snapshot.Risks == nil {
		snapshot.Risks = []Entry{}
	}
	raw, err := marshalCompact(snapshot)
	if err != nil {
		return nil
	}
	return raw
}

// ParseStored decodes a snapshot previously written by StorageJSON. Returns
// nil for empty, non-object, or malformed values.
func ParseStored(raw json.RawMessage) *Snapshot {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var s Snapshot
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil
	}
	return &s
}

func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func normalizeEntries(value any, defaultCategory, defaultSeverity string) []Entry {
	items, ok := value.([]any)
	if !ok {
		return []Entry{}
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		switch row := item.(type) {
		case string:
			description := cleanText(row)
			if description == "" {
				continue
			}
			entries = append(entries, Entry{
				Category:    inferCategory(description, defaultCategory),
				Severity:    inferSeverity(description, defaultSeverity),
				Description: description,
			})
		case map[string]any:
			description := safeText(firstTruthy(row, "description", "detail", "content", "title", "label"))
			if description == "" {
				continue
			}
			entries = append(entries, Entry{
				Category:    normalizeCategory(row["category"], description, defaultCategory),
				Severity:    normalizeSeverity(row["severity"], description, defaultSeverity),
				Description: description,
			})
		}
	}
	return entries
}

func normalizeCategory(raw any, description, defaultCategory string) string {
	switch strings.ToLower(strings.TrimSpace(stringValue(raw))) {
	case "positive", "good":
		return CategoryPositive
	case "negative", "bad":
		return CategoryNegative
	case "neutral", "general":
		return CategoryNeutral
	}
	return inferCategory(description, defaultCategory)
}

func normalizeSeverity(raw any, description, defaultSeverity string) string {
	switch strings.ToLower(strings.TrimSpace(stringValue(raw))) {
	case "low", "minor", "低", "轻微":
		return SeverityLow
	case "medium", "moderate", "中":
		return SeverityMedium
	case "high", "critical", "severe", "高", "严重":
		return SeverityHigh
	}
	return inferSeverity(description, defaultSeverity)
}

func inferCategory(description, defaultCategory string) string {
	text := strings.ToLower(description)
	if containsAny(text, negativeHints) {
		return CategoryNegative
	}
	if containsAny(text, positiveHints) {
		return CategoryPositive
	}
	switch defaultCategory {
	case CategoryPositive, CategoryNegative, CategoryNeutral:
		return defaultCategory
	}
	return CategoryNeutral
}

func inferSeverity(description, defaultSeverity string) string {
	text := strings.ToLower(description)
	if containsAny(text, severityHighHints) {
		return SeverityHigh
	}
	if containsAny(text, severityLowHints) {
		return SeverityLow
	}
	switch defaultSeverity {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return defaultSeverity
	}
	return SeverityMedium
}

func parseTensionPercent(raw any) (int, bool) {
	switch value := raw.(type) {
	case float64:
		return clampPercent(value), true
	case int:
		return clampPercent(float64(value)), true
	case string:
		text := strings.ReplaceAll(cleanText(value), "%", "")
		if text == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, false
		}
		return clampPercent(parsed), true
	}
	return 0, false
}

func clampPercent(value float64) int {
	rounded := int(math.Round(value))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}

// inferTensionPercent estimates the tension meter when the model left it out:
// a calm baseline of 28 plus severity-weighted steps per event and a flat
// bump per open risk.
func inferTensionPercent(events, risks []Entry) int {
	score := 28
	for _, ev := range events {
		step := severityStep(ev.Severity)
		switch ev.Category {
		case CategoryNegative:
			score += step
		case CategoryPositive:
			score -= int(math.Round(float64(step) * 0.6))
		default:
			score += int(math.Round(float64(step) * 0.2))
		}
	}
	score += len(risks) * 8
	return clampPercent(float64(score))
}

func severityStep(severity string) int {
	switch severity {
	case SeverityLow:
		return 8
	case SeverityHigh:
		return 24
	default:
		return 15
	}
}

func fallbackSummary(events, risks []Entry) string {
	for _, row := range events {
		if text := cleanText(row.Description); text != "" {
			return FirstSentence(text)
		}
	}
	for _, row := range risks {
		if text := cleanText(row.Description); text != "" {
			return FirstSentence(text)
		}
	}
	return ""
}

// fallbackCrisisFocus walks the most alarming material first: high-severity
// negative events, then any negative event, then risks, then the summary.
func fallbackCrisisFocus(summary string, events, risks []Entry) string {
	for _, row := range events {
		if row.Category == CategoryNegative && row.Severity == SeverityHigh {
			return FirstSentence(row.Description)
		}
	}
	for _, row := range events {
		if row.Category == CategoryNegative {
			return FirstSentence(row.Description)
		}
	}
	for _, row := range risks {
		if text := cleanText(row.Description); text != "" {
			return FirstSentence(text)
		}
	}
	return FirstSentence(summary)
}

// firstTruthy returns the first value among keys that is present and neither
// nil, an empty string, a zero number, false, nor an empty collection.
func firstTruthy(payload map[string]any, keys ...string) any {
	for _, key := range keys {
		value, ok := payload[key]
		if !ok || value == nil {
			continue
		}
		switch typed := value.(type) {
		case string:
			if typed != "" {
				return typed
			}
		case float64:
			if typed != 0 {
				return typed
			}
		case bool:
			if typed {
				return typed
			}
		case []any:
			if len(typed) > 0 {
				return typed
			}
		case map[string]any:
			if len(typed) > 0 {
				return typed
			}
		default:
			return value
		}
	}
	return nil
}

func stringValue(value any) string {
	s, _ := value.(string)
	return s
}

// safeText accepts only strings and collapses their whitespace; any other
// type normalizes to "".
func safeText(value any) string {
	return cleanText(stringValue(value))
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func containsAny(text string, hints []string) bool {
	for _, hint := range hints {
		if strings.Contains(text, hint) {
			return true
		}
	}
	return false
}

var (
	fenceOpenRe     = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	fenceCloseRe    = regexp.MustCompile("\\s*```$")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	halfQuotedKeyRe = regexp.MustCompile(`([,{]\s*)([A-Za-z_][A-Za-z0-9_]*)"\s*:`)
	bareKeyRe       = regexp.MustCompile(`([,{]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	sentenceRe      = regexp.MustCompile(`^(.+?[。！？!?.])(\s|$)`)
)

func sanitizeReportText(content string) string {
	raw := strings.TrimSpace(content)
	if strings.HasPrefix(raw, "```") {
		raw = fenceOpenRe.ReplaceAllString(raw, "")
		raw = fenceCloseRe.ReplaceAllString(raw, "")
	}
	return strings.TrimSpace(raw)
}

func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return strings.TrimSpace(content[start : end+1])
}

func loadJSONMapping(content string) map[string]any {
	for _, candidate := range repairCandidates(content) {
		var payload map[string]any
		if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
			continue
		}
		if payload != nil {
			return payload
		}
	}
	return nil
}

func repairCandidates(content string) []string {
	candidates := []string{content}
	if repaired := repairJSONObject(content); repaired != content {
		candidates = append(candidates, repaired)
	}
	return candidates
}

// repairJSONObject fixes the three decode failures models actually produce:
// trailing commas, keys missing their opening quote, and fully unquoted keys.
func repairJSONObject(content string) string {
	text := trailingCommaRe.ReplaceAllString(content, "$1")
	text = halfQuotedKeyRe.ReplaceAllString(text, `${1}"${2}":`)
	text = bareKeyRe.ReplaceAllString(text, `${1}"${2}":`)
	return text
}

// FirstSentence cuts text at the first sentence terminator (ASCII or CJK)
// and caps the result at 140 runes.
func FirstSentence(text string) string {
	value := cleanText(text)
	if value == "" {
		return ""
	}
	sentence := value
	if m := sentenceRe.FindStringSubmatch(value); m != nil {
		sentence = strings.TrimSpace(m[1])
	}
	runes := []rune(sentence)
	if len(runes) <= 140 {
		return sentence
	}
	return string(runes[:137]) + "..."
}
