package triage

import (
	"time"

	"github.com/sehatline/triage-ai/internal/catalog"
)

// RiskLevel is the clinical urgency assigned by the assistant.
type RiskLevel string

const (
	RiskLow       RiskLevel = "low"
	RiskModerate  RiskLevel = "moderate"
	RiskHigh      RiskLevel = "high"
	RiskEmergency RiskLevel = "emergency"
)

var riskRank = map[RiskLevel]int{
	RiskLow:       1,
	RiskModerate:  2,
	RiskHigh:      3,
	RiskEmergency: 4,
}

// Rank returns the escalation order of a risk level; unknown levels rank 0.
func (r RiskLevel) Rank() int {
	return riskRank[r]
}

func maxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// RecommendationType classifies the assistant's care recommendation.
type RecommendationType string

const (
	RecommendOTC         RecommendationType = "otc"
	RecommendDoctor      RecommendationType = "doctor"
	RecommendAppointment RecommendationType = "appointment"
	RecommendEmergency   RecommendationType = "emergency"
)

// Recommendation is the assistant's care recommendation, absent until the
// conversation has gathered enough signal.
type Recommendation struct {
	Type RecommendationType `json:"type"`
}

// Summary is the structured clinical picture extracted from the assistant's
// free text. It is owned by the Coordinator and always replaced wholesale,
// never patched field by field.
type Summary struct {
	Symptoms       []string        `json:"symptoms"`
	Duration       string          `json:"duration"`
	RiskLevel      RiskLevel       `json:"riskLevel"`
	RedFlags       []string        `json:"redFlags"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// RecommendationType returns the recommendation type or "" when absent.
func (s Summary) RecommendationType() RecommendationType {
	if s.Recommendation == nil {
		return ""
	}
	return s.Recommendation.Type
}

// HasSignificantChange reports whether the candidate summary differs from the
// previous one on a safety-relevant axis: risk level, red-flag set (order
// ignored), or recommendation type appearing or changing. Symptom and
// duration text churn on every streamed token, so those fields are deferred
// to the end-of-stream commit and never count as significant here.
func HasSignificantChange(prev, cand Summary) bool {
	if prev.RiskLevel != cand.RiskLevel {
		return true
	}
	if !sameStringSet(prev.RedFlags, cand.RedFlags) {
		return true
	}
	prevRec := prev.RecommendationType()
	candRec := cand.RecommendationType()
	if candRec != "" && candRec != prevRec {
		return true
	}
	return false
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]int, len(a))
	for _, v := range a {
		set[v]++
	}
	for _, v := range b {
		set[v]--
		if set[v] < 0 {
			return false
		}
	}
	return true
}

// BannerSeverity grades the alert banner shown over the conversation.
type BannerSeverity string

const (
	BannerWarning BannerSeverity = "warning"
	BannerDanger  BannerSeverity = "danger"
)

// Banner is the alert state derived from a committed summary; nil means no
// banner is shown.
type Banner struct {
	Severity  BannerSeverity `json:"severity"`
	RiskLevel RiskLevel      `json:"riskLevel"`
	RedFlags  []string       `json:"redFlags,omitempty"`
}

// bannerFor derives the alert banner from a committed summary.
func bannerFor(s Summary) *Banner {
	danger := s.RiskLevel == RiskHigh || s.RiskLevel == RiskEmergency
	if len(s.RedFlags) == 0 && !danger {
		return nil
	}
	severity := BannerWarning
	if danger {
		severity = BannerDanger
	}
	return &Banner{Severity: severity, RiskLevel: s.RiskLevel, RedFlags: append([]string(nil), s.RedFlags...)}
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAI     Role = "ai"
	RoleDoctor Role = "doctor"
)

// MessageMetadata tags synthetic messages that render themselves from
// structure rather than text.
type MessageMetadata struct {
	Type        string               `json:"type"` // "otc" or "appointment"
	Suggestions []catalog.Suggestion `json:"suggestions,omitempty"`
}

// ChatMessage is one entry in the append-only conversation history.
type ChatMessage struct {
	ID         string           `json:"id"`
	Role       Role             `json:"role"`
	Content    string           `json:"content"`
	OccurredAt time.Time        `json:"occurredAt"`
	Metadata   *MessageMetadata `json:"metadata,omitempty"`

	// Streaming presentation state for assistant messages.
	Pending     bool       `json:"pending,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	RiskLevel   RiskLevel  `json:"riskLevel,omitempty"`
	RedFlag     string     `json:"redFlag,omitempty"`
}

// Status is the session lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)
