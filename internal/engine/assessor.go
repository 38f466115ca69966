package engine

import (
	"context"

	"stakeproof/internal/domain"
)

// Assessor is the automated judgment collaborator. Implementations return an
// error for any failed call; the engine never substitutes a result.
type Assessor interface {
	AssessEvidence(ctx context.Context, req AssessmentRequest) (Assessment, error)
	EvaluateMission(ctx context.Context, req EvaluationRequest) (Evaluation, error)
}

type AssessmentRequest struct {
	EvidenceDescription string
	Media               domain.MediaKind
	MediaRef            string
	MissionTitle        string
	MissionDescription  string
}

type Assessment struct {
	Result     domain.Choice `json:"result"`
	Confidence int           `json:"confidence"`
	Reason     string        `json:"reason"`
}

type EvaluationRequest struct {
	MissionTitle       string
	MissionDescription string
	Approved           []domain.Evidence
	CommittedDays      int
}

type Evaluation struct {
	OverallScore int    `json:"overallScore"`
	Assessment   string `json:"assessment"`
	Passed       bool   `json:"passed"`
}
