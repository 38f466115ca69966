package domain

import "errors"

var (
	ErrValidation           = errors.New("validation failed")
	ErrDuplicateVote        = errors.New("duplicate vote")
	ErrSelfVote             = errors.New("mission owner cannot vote on own evidence")
	ErrAlreadyFinalized     = errors.New("evidence already finalized")
	ErrAlreadyAssessed      = errors.New("evidence already assessed")
	ErrAlreadyReviewed      = errors.New("mission already reviewed")
	ErrNotReady             = errors.New("not ready")
	ErrNoEvidence           = errors.New("mission has no evidence")
	ErrNoApprovedEvidence   = errors.New("mission has no approved evidence")
	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrRateLimited          = errors.New("rate limited")
	ErrNotFound             = errors.New("not found")
	ErrRerollQuotaExhausted = errors.New("reroll quota exhausted")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrValidation, "validation_error"},
	{ErrDuplicateVote, "duplicate_vote"},
	{ErrSelfVote, "self_vote"},
	{ErrAlreadyFinalized, "already_finalized"},
	{ErrAlreadyAssessed, "already_assessed"},
	{ErrAlreadyReviewed, "already_reviewed"},
	{ErrNotReady, "not_ready"},
	{ErrNoEvidence, "no_evidence"},
	{ErrNoApprovedEvidence, "no_approved_evidence"},
	{ErrProviderUnavailable, "provider_unavailable"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrRateLimited, "rate_limited"},
	{ErrNotFound, "not_found"},
	{ErrRerollQuotaExhausted, "reroll_quota_exhausted"},
}

// Kind returns the stable error kind for err, or "internal" when err wraps no known sentinel.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// Retryable reports whether the caller may retry the same operation unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrRateLimited)
}
