// Package errors provides structured error handling for the pipeline.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Submission errors
	CodePromptEmpty   Code = "PROMPT_EMPTY"
	CodePromptTooLong Code = "PROMPT_TOO_LONG"
	CodePromptUnsafe  Code = "PROMPT_UNSAFE"
	CodeRateLimited   Code = "RATE_LIMITED"
	CodeQueueFull     Code = "QUEUE_FULL"

	// Poll errors
	CodeSessionNotOpen   Code = "SESSION_NOT_OPEN"
	CodeDuplicateVote    Code = "DUPLICATE_VOTE"
	CodeInvalidCandidate Code = "INVALID_CANDIDATE"
	CodePollAlreadyOpen  Code = "POLL_ALREADY_OPEN"
	CodeVoterIDEmpty     Code = "VOTER_ID_EMPTY"

	// Synthesis errors
	CodeSynthesisFailed Code = "SYNTHESIS_FAILED"
	CodeNoSafeActions   Code = "NO_SAFE_ACTIONS"

	// Execution errors
	CodeExecutionInvalidState Code = "EXECUTION_INVALID_STATE"
	CodeExecutorUnreachable   Code = "EXECUTOR_UNREACHABLE"
	CodeActionUnsupported     Code = "ACTION_UNSUPPORTED"

	// Moderation errors
	CodeModeratorGrantInvalid Code = "MODERATOR_GRANT_INVALID"
	CodeModeratorGrantExpired Code = "MODERATOR_GRANT_EXPIRED"
	CodeApprovalNotPending    Code = "APPROVAL_NOT_PENDING"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Internal invariant violations
	CodeInternal Code = "INTERNAL"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad caller input
	case CodePromptEmpty,
		CodePromptTooLong,
		CodePromptUnsafe,
		CodeInvalidCandidate,
		CodeVoterIDEmpty:
		return http.StatusBadRequest

	// Conflict - state doesn't allow the operation
	case CodeSessionNotOpen,
		CodeDuplicateVote,
		CodePollAlreadyOpen,
		CodeExecutionInvalidState,
		CodeApprovalNotPending:
		return http.StatusConflict

	// Backpressure against spam
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeQueueFull:
		return http.StatusServiceUnavailable

	case CodeModeratorGrantInvalid,
		CodeModeratorGrantExpired:
		return http.StatusUnauthorized

	case CodeNotFound:
		return http.StatusNotFound

	// Upstream collaborator failures
	case CodeSynthesisFailed,
		CodeExecutorUnreachable:
		return http.StatusBadGateway

	case CodeNoSafeActions,
		CodeActionUnsupported:
		return http.StatusUnprocessableEntity

	default:
		return http.StatusInternalServerError
	}
}
