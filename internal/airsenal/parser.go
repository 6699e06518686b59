package airsenal

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/airsenalops/api/internal/model"
)

var (
	ansiEscape = regexp.MustCompile(`\x1B\[[0-?]*[ -/]*[@-~]`)
	// The CLI prints ranked players as "1. Salah, 8.2pts"; older builds
	// use "1. Salah - Expected points: 8.2".
	playerPattern    = regexp.MustCompile(`(?i)^\s*(\d+)\.\s*([^,]+),\s*([-+]?\d+(?:\.\d+)?)pts`)
	altPlayerPattern = regexp.MustCompile(`(?i)^\s*(\d+)\.\s*(.+?)\s+-\s+Expected points:\s*([-+]?\d+(?:\.\d+)?)`)
	baselinePattern  = regexp.MustCompile(`Baseline score:\s*([-+]?\d+(?:\.\d+)?)`)
	bestPattern      = regexp.MustCompile(`Best score:\s*([-+]?\d+(?:\.\d+)?)`)
	totalPattern     = regexp.MustCompile(`Total score:\s*([-+]?\d+(?:\.\d+)?)`)
	transferSplit    = regexp.MustCompile(`\s{2,}|\t+`)
	captainMarkers   = regexp.MustCompile(`\s*\(VC\)|\s*\(C\)`)
)

// Parser extracts structured results from raw CLI output. The CLI has
// no machine-readable mode, so this works off the human-oriented
// summaries that predict and optimize print before persisting.
type Parser struct {
	logger *slog.Logger
}

func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logger}
}

// Parse returns the structured output for a command, or nil when the
// logs contain nothing recognisable. Parsing never fails a job: any
// panic from unexpected output shapes is swallowed and logged.
func (p *Parser) Parse(command model.JobCommand, parameters map[string]any, logs []string) (output *model.JobOutput) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("output parsing panicked", "command", command, "panic", r)
			output = nil
		}
	}()

	switch command {
	case model.JobCommandPredict:
		return p.parsePrediction(parameters, logs)
	case model.JobCommandOptimize:
		return p.parseOptimization(parameters, logs)
	default:
		return nil
	}
}

// CleanLine strips ANSI escape sequences and carriage returns.
func CleanLine(line string) string {
	return strings.TrimSpace(ansiEscape.ReplaceAllString(strings.ReplaceAll(line, "\r", ""), ""))
}

func cleanedNonEmpty(logs []string) []string {
	lines := make([]string, 0, len(logs))
	for _, raw := range logs {
		if cleaned := CleanLine(raw); cleaned != "" {
			lines = append(lines, cleaned)
		}
	}
	return lines
}

func (p *Parser) parsePrediction(parameters map[string]any, logs []string) *model.JobOutput {
	lines := cleanedNonEmpty(logs)

	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.ToUpper(line), "PREDICTED TOP") {
			start = i
			break
		}
	}
	if start < 0 {
		p.logger.Warn("no prediction output found in logs")
		return nil
	}

	var summaryLines []string
	for _, line := range lines[start:] {
		summaryLines = append(summaryLines, line)
		if strings.HasPrefix(strings.ToLower(line), "persisted db") {
			break
		}
	}

	headline := summaryLines[0]
	players := []model.TopPlayer{}
	currentPosition := ""
	rank := 1

	for _, line := range summaryLines[1:] {
		if isDashLine(line) {
			continue
		}
		if strings.HasSuffix(line, ":") && isUpperHeading(strings.TrimSuffix(line, ":")) {
			currentPosition = strings.TrimSuffix(line, ":")
			continue
		}
		match := playerPattern.FindStringSubmatch(line)
		if match == nil {
			match = altPlayerPattern.FindStringSubmatch(line)
		}
		if match == nil {
			continue
		}
		points, err := strconv.ParseFloat(match[3], 64)
		if err != nil {
			continue
		}
		players = append(players, model.TopPlayer{
			Rank:           rank,
			Player:         strings.TrimSpace(match[2]),
			ExpectedPoints: points,
			Position:       currentPosition,
		})
		rank++
	}

	p.logger.Info("parsed prediction output", "players", len(players))
	return &model.JobOutput{
		Type:        model.OutputTypePrediction,
		GeneratedAt: time.Now().UTC(),
		Parameters:  parameters,
		Headline:    headline,
		Players:     players,
		SummaryText: strings.Join(summaryLines, "\n"),
	}
}

func (p *Parser) parseOptimization(parameters map[string]any, logs []string) *model.JobOutput {
	lines := cleanedNonEmpty(logs)

	var summaryLines []string
	capture := false
	for _, line := range lines {
		if !capture && strings.HasPrefix(line, "Strategy for Team ID") {
			capture = true
		}
		if capture {
			summaryLines = append(summaryLines, line)
			if strings.HasPrefix(strings.ToLower(line), "persisted db") {
				break
			}
		}
	}
	if len(summaryLines) == 0 {
		p.logger.Warn("no optimization output found in logs")
		return nil
	}

	summaryText := strings.Join(summaryLines, "\n")
	baselinePoints := matchScore(baselinePattern, summaryText)
	bestPoints := matchScore(bestPattern, summaryText)
	expectedPoints := matchScore(totalPattern, summaryText)
	if expectedPoints == nil {
		expectedPoints = bestPoints
	}

	transfers := parseTransfers(summaryLines)
	captain, viceCaptain, startingLineup, bench := parseLineup(summaryLines)

	p.logger.Info("parsed optimization output", "transfers", len(transfers))
	return &model.JobOutput{
		Type:           model.OutputTypeOptimisation,
		GeneratedAt:    time.Now().UTC(),
		Parameters:     parameters,
		Transfers:      transfers,
		Captain:        optionalName(captain),
		ViceCaptain:    optionalName(viceCaptain),
		ExpectedPoints: expectedPoints,
		BaselinePoints: baselinePoints,
		BestPoints:     bestPoints,
		StartingLineup: startingLineup,
		Bench:          bench,
		SummaryText:    summaryText,
	}
}

func parseTransfers(summaryLines []string) []model.Transfer {
	start := -1
	for i, line := range summaryLines {
		if strings.HasPrefix(strings.ToLower(line), "players in") {
			start = i
			break
		}
	}
	transfers := []model.Transfer{}
	if start < 0 || start+2 >= len(summaryLines) {
		return transfers
	}

	// The table header spans two lines; rows follow until the next
	// section marker.
	for _, line := range summaryLines[start+2:] {
		if strings.HasPrefix(line, "=") ||
			strings.HasPrefix(line, "Total score") ||
			strings.HasPrefix(line, "Getting starting squad") ||
			strings.HasPrefix(strings.ToLower(line), "total progress") {
			break
		}
		if isDashLine(strings.ReplaceAll(line, "\t", "")) {
			continue
		}
		var parts []string
		for _, part := range transferSplit.Split(line, -1) {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) == 0 {
			continue
		}
		transfer := model.Transfer{In: parts[0]}
		if len(parts) > 1 {
			transfer.Out = parts[1]
		}
		transfers = append(transfers, transfer)
	}
	return transfers
}

func parseLineup(summaryLines []string) (captain, viceCaptain string, starting, bench []model.LineupEntry) {
	currentGroup := ""
	inStarting := false

	for _, line := range summaryLines {
		if strings.HasPrefix(line, "=== starting 11") {
			inStarting = true
			currentGroup = ""
			continue
		}
		if !inStarting {
			continue
		}
		if strings.HasPrefix(line, "=== subs") {
			currentGroup = "Subs"
			continue
		}
		if strings.HasPrefix(line, "==") {
			currentGroup = strings.TrimSpace(strings.Trim(line, "="))
			continue
		}
		if strings.HasPrefix(line, "Persisted DB") {
			continue
		}
		if strings.HasPrefix(strings.ToLower(line), "total progress") {
			break
		}
		if isDashLine(strings.ReplaceAll(line, "\t", "")) {
			continue
		}
		name := strings.TrimSpace(captainMarkers.ReplaceAllString(line, ""))
		if name == "" {
			continue
		}
		entry := model.LineupEntry{Name: name, PositionGroup: currentGroup}
		if currentGroup == "Subs" {
			bench = append(bench, entry)
		} else {
			starting = append(starting, entry)
		}
		if strings.Contains(line, "(C)") && captain == "" {
			captain = name
		}
		if strings.Contains(line, "(VC)") && viceCaptain == "" {
			viceCaptain = name
		}
	}
	return captain, viceCaptain, starting, bench
}

func matchScore(pattern *regexp.Regexp, text string) *float64 {
	match := pattern.FindStringSubmatch(text)
	if match == nil {
		return nil
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return nil
	}
	return &value
}

// optionalName maps an unmatched name to nil so it serializes as null
// rather than "".
func optionalName(name string) *string {
	if name == "" {
		return nil
	}
	return &name
}

// isDashLine reports whether line is a table separator made only of
// dashes.
func isDashLine(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	return strings.Trim(line, "-") == ""
}

// isUpperHeading mirrors a case check for position group headings such
// as "GK:": at least one cased letter and none of them lower case.
func isUpperHeading(s string) bool {
	hasUpper := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			hasUpper = true
		}
	}
	return hasUpper
}
