package errs

// Reason strings are part of the client protocol; codes group by category:
// 10xx generic, 11xx authentication, 12xx identity, 13xx authorization,
// 14xx lookup, 15xx dependencies.
var (
	ErrInternal   = NewCodeError(1000, "internal_error", "internal server error")
	ErrBadPayload = NewCodeError(1001, "bad_payload", "malformed event payload")

	ErrAuthRequired = NewCodeError(1100, "auth_required", "authentication token required")
	ErrInvalidToken = NewCodeError(1101, "invalid_token", "token is invalid")
	ErrExpiredToken = NewCodeError(1102, "expired_token", "token has expired")

	ErrUserNotRegistered = NewCodeError(1200, "user_not_registered", "account not registered, complete registration first")

	ErrNotAParticipant = NewCodeError(1300, "not_a_participant", "not a participant of this conversation")
	ErrForbidden       = NewCodeError(1301, "forbidden", "insufficient role for this action")

	ErrNotFound = NewCodeError(1400, "not_found", "record not found")

	ErrDependencyUnavailable = NewCodeError(1500, "dependency_unavailable", "a backing service is unavailable")
)
