package domain

// Contributor aggregates derived statistics for one chat identity.
// Counters only accumulate; contributors are never deleted.
type Contributor struct {
	ID          string
	DisplayName string
	Submissions int64
	Wins        int64
	Votes       int64
}
