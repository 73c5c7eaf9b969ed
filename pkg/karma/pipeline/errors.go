package pipeline

import "errors"

// Sentinel error kinds from spec §7. Every one of these is absorbed
// internally by Process, which has no error return: an abort reason is
// reported only in Outcome.Abort, per the propagation policy ("the
// reaction pipeline absorbs all expected errors").
// They exist so tests and logging can distinguish abort reasons.
var (
	ErrUnknownAuthor     = errors.New("karma: unknown author")
	ErrIneligibleTarget  = errors.New("karma: ineligible target")
	ErrNotAMember        = errors.New("karma: reactor not a member")
	ErrRestrictedReactor = errors.New("karma: reactor is restricted")
	ErrLowPercentile     = errors.New("karma: reactor percentile too low")
	ErrRateLimited       = errors.New("karma: rate limited")
	ErrNoNetSign         = errors.New("karma: reactions cancel out to zero")
	ErrKarmaCountingOff  = errors.New("karma: karma counting disabled for chat")
)
