package culprit

import "errors"

var (
	// ErrInvalidConfig is returned when the search parameters contradict each other,
	// before any VCS interaction takes place.
	ErrInvalidConfig = errors.New("invalid bisect config")

	// ErrRangeResolution is returned when the requested commit or date range cannot be
	// enumerated or contains no commits.
	ErrRangeResolution = errors.New("commit range could not be resolved")

	// ErrCheckout is returned when a commit cannot be checked out.
	ErrCheckout = errors.New("commit checkout failed")

	// ErrSetup is returned when the prepare or per-commit setup command exits non-zero.
	// It aborts the whole run: a flaky build is indistinguishable from a broken
	// environment and must not bias the statistical model.
	ErrSetup = errors.New("setup command failed")

	// ErrProcessKill is returned when a timed-out test process cannot be terminated.
	ErrProcessKill = errors.New("test process could not be terminated")
)
