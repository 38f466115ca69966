package domain

import "time"

type MissionStatus string

const (
	MissionActive      MissionStatus = "active"
	MissionCompleted   MissionStatus = "completed"
	MissionFailed      MissionStatus = "failed"
	MissionPending     MissionStatus = "pending"
	MissionUnderReview MissionStatus = "under_review"
)

// Terminal reports whether no further transition is allowed.
func (s MissionStatus) Terminal() bool {
	return s == MissionCompleted || s == MissionFailed
}

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityGroup   Visibility = "group"
	VisibilityPublic  Visibility = "public"
)

type Difficulty string

const (
	Beginner     Difficulty = "beginner"
	Intermediate Difficulty = "intermediate"
	Advanced     Difficulty = "advanced"
	Expert       Difficulty = "expert"
)

// Difficulties lists tiers from easiest to hardest.
var Difficulties = []Difficulty{Beginner, Intermediate, Advanced, Expert}

func (d Difficulty) Valid() bool {
	for _, x := range Difficulties {
		if x == d {
			return true
		}
	}
	return false
}

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaText  MediaKind = "text"
)

type EvidenceStatus string

const (
	EvidencePending  EvidenceStatus = "pending"
	EvidenceApproved EvidenceStatus = "approved"
	EvidenceRejected EvidenceStatus = "rejected"
)

// Choice is a judgment cast by the assessor or a voter.
type Choice string

const (
	Approve Choice = "approve"
	Reject  Choice = "reject"
)

func (c Choice) Valid() bool { return c == Approve || c == Reject }

// Verdict is the settled outcome of one evidence item.
type Verdict string

const (
	Approved Verdict = "approved"
	Rejected Verdict = "rejected"
)

// Agrees reports whether a vote choice matches the verdict.
func (v Verdict) Agrees(c Choice) bool {
	return (v == Approved && c == Approve) || (v == Rejected && c == Reject)
}

type Mission struct {
	ID                 string           `json:"id"`
	OwnerID            string           `json:"owner_id"`
	Title              string           `json:"title"`
	Description        string           `json:"description,omitempty"`
	Category           string           `json:"category,omitempty"`
	Difficulty         Difficulty       `json:"difficulty" enum:"beginner,intermediate,advanced,expert"`
	Stake              int64            `json:"stake"`
	Points             int              `json:"points,omitempty"`
	TemplateID         string           `json:"template_id,omitempty"`
	Visibility         Visibility       `json:"visibility" enum:"private,group,public"`
	Status             MissionStatus    `json:"status" enum:"active,completed,failed,pending,under_review"`
	Progress           int              `json:"progress"`
	StartsAt           time.Time        `json:"starts_at"`
	EndsAt             time.Time        `json:"ends_at"`
	Evidence           []Evidence       `json:"evidence"`
	SubmittedForReview bool             `json:"submitted_for_review"`
	FinalEvaluation    *FinalEvaluation `json:"final_evaluation,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

// EvidenceIndex returns the position of the evidence in the mission, or -1.
func (m *Mission) EvidenceIndex(id string) int {
	for i := range m.Evidence {
		if m.Evidence[i].ID == id {
			return i
		}
	}
	return -1
}

// Approved returns the evidence items whose verdict is approved.
func (m Mission) Approved() []Evidence {
	var out []Evidence
	for _, ev := range m.Evidence {
		if ev.Status == EvidenceApproved {
			out = append(out, ev)
		}
	}
	return out
}

// CommittedDays is the whole-day length of the mission, at least 1.
func (m Mission) CommittedDays() int {
	d := m.EndsAt.Sub(m.StartsAt)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	if days < 1 {
		return 1
	}
	return days
}

// Clone returns a deep copy safe to mutate.
func (m Mission) Clone() Mission {
	out := m
	if m.Evidence != nil {
		out.Evidence = make([]Evidence, len(m.Evidence))
		for i, ev := range m.Evidence {
			out.Evidence[i] = ev.Clone()
		}
	}
	if m.FinalEvaluation != nil {
		fe := *m.FinalEvaluation
		out.FinalEvaluation = &fe
	}
	return out
}

type Evidence struct {
	ID          string          `json:"id"`
	MissionID   string          `json:"mission_id"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Media       MediaKind       `json:"media" enum:"image,video,text"`
	MediaRef    string          `json:"media_ref,omitempty"`
	Description string          `json:"description,omitempty"`
	Status      EvidenceStatus  `json:"status" enum:"pending,approved,rejected"`
	AI          *AIVerification `json:"ai_verification,omitempty"`
	Votes       []EvidenceVote  `json:"votes"`
	Verdict     *FinalVerdict   `json:"final_verdict,omitempty"`
}

// HasVoted reports whether voterID already cast a vote.
func (e Evidence) HasVoted(voterID string) bool {
	for _, v := range e.Votes {
		if v.VoterID == voterID {
			return true
		}
	}
	return false
}

// Tally counts approve and reject votes.
func (e Evidence) Tally() (approve, reject int) {
	for _, v := range e.Votes {
		if v.Choice == Approve {
			approve++
		} else {
			reject++
		}
	}
	return approve, reject
}

func (e Evidence) Clone() Evidence {
	out := e
	if e.AI != nil {
		ai := *e.AI
		out.AI = &ai
	}
	if e.Votes != nil {
		out.Votes = append([]EvidenceVote(nil), e.Votes...)
	}
	if e.Verdict != nil {
		fv := *e.Verdict
		fv.Penalized = append([]string(nil), e.Verdict.Penalized...)
		out.Verdict = &fv
	}
	return out
}

type AIVerification struct {
	Result     Choice    `json:"result" enum:"approve,reject"`
	Confidence int       `json:"confidence" minimum:"0" maximum:"100"`
	Reason     string    `json:"reason,omitempty"`
	AssessedAt time.Time `json:"assessed_at"`
}

type EvidenceVote struct {
	VoterID string    `json:"voter_id"`
	Choice  Choice    `json:"choice" enum:"approve,reject"`
	CastAt  time.Time `json:"cast_at"`
}

type FinalVerdict struct {
	Result         Verdict   `json:"result" enum:"approved,rejected"`
	AIScore        float64   `json:"ai_score"`
	CommunityScore float64   `json:"community_score"`
	Score          float64   `json:"score"`
	Penalized      []string  `json:"penalized"`
	DecidedAt      time.Time `json:"decided_at"`
	// Settled is set once the vote rewards and penalties have been applied.
	Settled bool `json:"settled"`
}

type FinalEvaluation struct {
	OverallScore int       `json:"overall_score"`
	Assessment   string    `json:"assessment"`
	Passed       bool      `json:"passed"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
	// Settled is set once a passing mission's payout and progress are applied.
	Settled bool `json:"settled"`
}

// JoinedMission links a user's own mission copy to the public mission it was joined from.
type JoinedMission struct {
	ID              string    `json:"id"`
	SourceMissionID string    `json:"source_mission_id"`
	MissionID       string    `json:"mission_id"`
	UserID          string    `json:"user_id"`
	JoinedAt        time.Time `json:"joined_at"`
}

// Account is a user's balance, reputation and voting record.
type Account struct {
	UserID       string `json:"user_id"`
	Balance      int64  `json:"balance"`
	Reputation   int    `json:"reputation"`
	TotalVotes   int    `json:"total_votes"`
	CorrectVotes int    `json:"correct_votes"`
}

// Accuracy is the percentage of settled votes that matched the verdict.
func (a Account) Accuracy() float64 {
	if a.TotalVotes == 0 {
		return 0
	}
	return float64(a.CorrectVotes) / float64(a.TotalVotes) * 100
}

type Event struct {
	ID         int64     `json:"id"`
	TS         time.Time `json:"ts"`
	Type       string    `json:"type"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id,omitempty"`
	ActorID    string    `json:"actor_id"`
	Payload    string    `json:"payload_json"`
}
