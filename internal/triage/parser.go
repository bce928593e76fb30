package triage

import (
	"regexp"
	"strings"
)

// The assistant emits a structured block alongside its prose, one marker per
// line:
//
//	RISK: moderate
//	RED FLAGS: chest pain; shortness of breath
//	SYMPTOMS: fever, headache
//	DURATION: 2 days
//	RECOMMENDATION: otc
//
// ParseSummary re-reads the full accumulated turn on every chunk, so a marker
// on the final line may be cut mid-token. Malformed or absent fields fall back
// to the previous summary instead of going blank.
//
// Markers usually open their own line, but chunk boundaries can glue a prose
// fragment without a trailing newline onto the next marker ("...keluhannya.
// RISK: moderate"), so tokens are matched anywhere within a line rather than
// anchored to its start.

var markerRE = regexp.MustCompile(`\b(RISK(?:\s+LEVEL)?|RED\s*FLAGS?|SYMPTOMS?|DURATION|RECOMMENDATION)\s*\**\s*:`)

var riskAliases = map[string]RiskLevel{
	"low":       RiskLow,
	"rendah":    RiskLow,
	"moderate":  RiskModerate,
	"medium":    RiskModerate,
	"sedang":    RiskModerate,
	"high":      RiskHigh,
	"tinggi":    RiskHigh,
	"emergency": RiskEmergency,
	"darurat":   RiskEmergency,
}

var recommendationAliases = map[string]RecommendationType{
	"otc":         RecommendOTC,
	"self-care":   RecommendOTC,
	"pharmacy":    RecommendOTC,
	"doctor":      RecommendDoctor,
	"dokter":      RecommendDoctor,
	"gp":          RecommendDoctor,
	"appointment": RecommendAppointment,
	"janji":       RecommendAppointment,
	"emergency":   RecommendEmergency,
	"er":          RecommendEmergency,
	"igd":         RecommendEmergency,
	"ugd":         RecommendEmergency,
}

// emergencyProseRE escalates risk when the prose clearly signals an emergency
// even before the marker block arrives.
var emergencyProseRE = regexp.MustCompile(`(?i)\b(call an ambulance|go to the emergency room|segera ke (?:igd|ugd)|kondisi darurat)\b`)

// ParseSummary extracts a complete summary from the accumulated assistant
// text. It is pure: no timestamps are stamped here, so repeated calls with the
// same inputs produce identical output. Risk never downgrades relative to the
// previous summary; downgrades only happen through an explicit session reset.
func ParseSummary(rawText string, previous Summary) Summary {
	out := Summary{
		Symptoms:       previous.Symptoms,
		Duration:       previous.Duration,
		RiskLevel:      previous.RiskLevel,
		RedFlags:       previous.RedFlags,
		Recommendation: previous.Recommendation,
		UpdatedAt:      previous.UpdatedAt,
	}

	lines := strings.Split(rawText, "\n")
	for i, line := range lines {
		locs := markerRE.FindAllStringSubmatchIndex(line, -1)
		for j, loc := range locs {
			end := len(line)
			if j+1 < len(locs) {
				end = locs[j+1][0]
			}
			// Only the tail of the accumulator may still be streaming in.
			truncated := i == len(lines)-1 && j == len(locs)-1 && !strings.HasSuffix(rawText, "\n")
			field := normalizeField(line[loc[2]:loc[3]])
			value := strings.TrimSpace(strings.TrimRight(line[loc[1]:end], "* "))

			applyField(&out, field, value, truncated)
		}
	}

	if emergencyProseRE.MatchString(rawText) {
		out.RiskLevel = maxRisk(out.RiskLevel, RiskEmergency)
	}
	return out
}

func applyField(out *Summary, field, value string, truncated bool) {
	switch field {
	case "RISK":
		if level, ok := riskAliases[strings.ToLower(firstWord(value))]; ok {
			out.RiskLevel = maxRisk(out.RiskLevel, level)
		}
	case "RED FLAGS":
		if truncated {
			return
		}
		out.RedFlags = parseList(value)
	case "SYMPTOMS":
		if truncated || value == "" {
			return
		}
		out.Symptoms = parseList(value)
	case "DURATION":
		if truncated || value == "" {
			return
		}
		out.Duration = value
	case "RECOMMENDATION":
		if rec, ok := recommendationAliases[strings.ToLower(firstWord(value))]; ok {
			out.Recommendation = &Recommendation{Type: rec}
		}
	}
}

func normalizeField(raw string) string {
	field := strings.ToUpper(strings.Join(strings.Fields(raw), " "))
	switch field {
	case "RISK LEVEL":
		return "RISK"
	case "RED FLAG", "REDFLAGS", "REDFLAG":
		return "RED FLAGS"
	case "SYMPTOM":
		return "SYMPTOMS"
	}
	return field
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], ".,;")
}

// parseList splits a marker value on semicolons or commas. "none" and "-"
// mean an explicitly empty list, distinct from an absent marker.
func parseList(value string) []string {
	lower := strings.ToLower(strings.TrimSpace(value))
	if lower == "" || lower == "none" || lower == "-" || lower == "tidak ada" {
		return []string{}
	}
	sep := ","
	if strings.Contains(value, ";") {
		sep = ";"
	}
	parts := strings.Split(value, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
