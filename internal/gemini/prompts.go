package gemini

import (
	"fmt"
	"strings"

	"stakeproof/internal/domain"
	"stakeproof/internal/engine"
)

func orNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func skill(prefs domain.SuggestionPreferences) string {
	if prefs.SkillLevel == "" {
		return "beginner"
	}
	return prefs.SkillLevel
}

func evidencePrompt(req engine.AssessmentRequest) string {
	var b strings.Builder
	b.WriteString("You verify proof submitted for a personal commitment (a mission).\n\n")
	fmt.Fprintf(&b, "Mission: %s\n", req.MissionTitle)
	if req.MissionDescription != "" {
		fmt.Fprintf(&b, "Mission description: %s\n", req.MissionDescription)
	}
	fmt.Fprintf(&b, "Evidence type: %s\n", req.Media)
	if req.MediaRef != "" {
		fmt.Fprintf(&b, "Attached media: %s\n", req.MediaRef)
	}
	fmt.Fprintf(&b, "Evidence description: %s\n\n", req.EvidenceDescription)
	b.WriteString(`Decide whether this evidence credibly shows progress on the mission.
Reject evidence that is vague, unrelated, or contradicts the mission.

Output a JSON object only:
{"result": "approve|reject", "confidence": <0-100>, "reason": "one or two sentences"}`)
	return b.String()
}

func evaluationPrompt(req engine.EvaluationRequest) string {
	var b strings.Builder
	b.WriteString("You give the final judgment on whether a user completed a mission.\n\n")
	fmt.Fprintf(&b, "Mission: %s\n", req.MissionTitle)
	if req.MissionDescription != "" {
		fmt.Fprintf(&b, "Mission description: %s\n", req.MissionDescription)
	}
	fmt.Fprintf(&b, "Committed duration: %d days\n", req.CommittedDays)
	fmt.Fprintf(&b, "Approved evidence (%d):\n", len(req.Approved))
	for i, ev := range req.Approved {
		conf := "n/a"
		if ev.AI != nil {
			conf = fmt.Sprintf("%d%%", ev.AI.Confidence)
		}
		fmt.Fprintf(&b, "%d. [%s, %s, confidence %s] %s\n", i+1, ev.SubmittedAt.Format("2006-01-02"), ev.Media, conf, ev.Description)
	}
	b.WriteString(`
Judge consistency over the committed duration and how well the evidence covers the mission.

Output a JSON object only:
{"overallScore": <0-100>, "aiAssessment": "short summary for the user", "passedRequirements": true|false}`)
	return b.String()
}

func generatePrompt(prefs domain.SuggestionPreferences, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You generate missions for a gamified productivity app. Generate %d personalized missions for this user:\n\n", count)
	b.WriteString("User profile:\n")
	fmt.Fprintf(&b, "- Interests: %s\n", orNone(prefs.Interests))
	fmt.Fprintf(&b, "- Skill level: %s\n", skill(prefs))
	if prefs.AvailableMinutes > 0 {
		fmt.Fprintf(&b, "- Available time: %d minutes per day\n", prefs.AvailableMinutes)
	}
	fmt.Fprintf(&b, "- Goals: %s\n", orNone(prefs.Goals))
	if len(prefs.Avoid) > 0 {
		fmt.Fprintf(&b, "- Avoid topics: %s\n", strings.Join(prefs.Avoid, ", "))
	}
	b.WriteString(`
Requirements:
1. Each mission is specific, actionable and achievable.
2. Match the user's interests and skill level.
3. Fit within the available time.
4. Support the stated goals.
5. Vary in difficulty and type.

Output a JSON array only:
[
  {
    "title": "clear, action-oriented title",
    "description": "2-3 sentences on what to do and why",
    "category": "learning|health|creative|social|work|other",
    "difficulty": "easy|medium|hard",
    "estimatedTime": <minutes>,
    "xpReward": <100 for easy, 250 for medium, 500 for hard>,
    "coinReward": <50 for easy, 100 for medium, 200 for hard>,
    "tags": ["tag1", "tag2", "tag3"],
    "reasoning": "why this mission fits the user"
  }
]
`)
	fmt.Fprintf(&b, "Generate exactly %d diverse missions.", count)
	return b.String()
}

func rerollPrompt(current domain.MissionSuggestion, prefs domain.SuggestionPreferences, reason string) string {
	var b strings.Builder
	b.WriteString("The user rejected this mission:\n")
	fmt.Fprintf(&b, "- Title: %s\n- Description: %s\n- Category: %s\n- Difficulty: %s\n", current.Title, current.Description, current.Category, current.Difficulty)
	if strings.TrimSpace(reason) != "" {
		fmt.Fprintf(&b, "\nWhy rejected: %s\n", reason)
	}
	b.WriteString("\nUser profile:\n")
	fmt.Fprintf(&b, "- Interests: %s\n- Skill level: %s\n", orNone(prefs.Interests), skill(prefs))
	if prefs.AvailableMinutes > 0 {
		fmt.Fprintf(&b, "- Available time: %d minutes\n", prefs.AvailableMinutes)
	}
	fmt.Fprintf(&b, "- Goals: %s\n", orNone(prefs.Goals))
	b.WriteString(`
Generate ONE alternative mission that is completely different from the rejected one,
better matches the profile, addresses the rejection reason if given, and keeps a similar
difficulty and time commitment.

Output a JSON object only:
{"title": "", "description": "", "category": "learning|health|creative|social|work|other",
 "difficulty": "easy|medium|hard", "estimatedTime": <minutes>, "xpReward": <number>,
 "coinReward": <number>, "tags": ["tag1", "tag2"], "reasoning": "why this is better"}`)
	return b.String()
}
