package reliability

// FailureStrategy decides what happens to traffic when a shared
// dependency (the counter store) errors.
type FailureStrategy string

const (
	FailOpen   FailureStrategy = "fail_open"
	FailClosed FailureStrategy = "fail_closed"
)

// ShouldAllow reports whether a request may proceed given an error and a
// strategy.
func ShouldAllow(strategy FailureStrategy, err error) bool {
	if err == nil {
		return true
	}
	return strategy == FailOpen
}
