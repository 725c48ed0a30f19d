package models

import "errors"

// ErrorCode is a stable machine-readable code returned to clients.
type ErrorCode string

const (
	CodeGameNotStarted          ErrorCode = "GAME_NOT_STARTED"
	CodeInvalidToken            ErrorCode = "INVALID_TOKEN"
	CodeTokenAlreadyInUse       ErrorCode = "TOKEN_ALREADY_IN_USE"
	CodeSessionSecretRequired   ErrorCode = "SESSION_SECRET_REQUIRED"
	CodeInvalidSessionSecret    ErrorCode = "INVALID_SESSION_SECRET"
	CodeWrongPhase              ErrorCode = "WRONG_PHASE"
	CodeParticipantNotFound     ErrorCode = "PARTICIPANT_NOT_FOUND"
	CodeRoundFull               ErrorCode = "ROUND_FULL"
	CodeThemeRequired           ErrorCode = "THEME_REQUIRED"
	CodeNameRequired            ErrorCode = "NAME_REQUIRED"
	CodeInvalidTimer            ErrorCode = "INVALID_TIMER"
	CodeInvalidParticipantCount ErrorCode = "INVALID_PARTICIPANT_COUNT"
	CodeInvalidPrompt           ErrorCode = "INVALID_PROMPT"
	CodeGenerationInProgress    ErrorCode = "GENERATION_ALREADY_TRIGGERED"
	CodeInvalidPayload          ErrorCode = "INVALID_PAYLOAD"
)

// Error is a client input error. It is always reported synchronously and
// never retried by the server.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Common errors
var (
	ErrGameNotStarted          = &Error{Code: CodeGameNotStarted, Message: "no round has been started"}
	ErrInvalidToken            = &Error{Code: CodeInvalidToken, Message: "token is not valid for this round"}
	ErrTokenAlreadyInUse       = &Error{Code: CodeTokenAlreadyInUse, Message: "this connection already holds another token"}
	ErrSessionSecretRequired   = &Error{Code: CodeSessionSecretRequired, Message: "token already joined; session secret required to rejoin"}
	ErrInvalidSessionSecret    = &Error{Code: CodeInvalidSessionSecret, Message: "session secret does not match"}
	ErrParticipantNotFound     = &Error{Code: CodeParticipantNotFound, Message: "participant not found"}
	ErrRoundFull               = &Error{Code: CodeRoundFull, Message: "all seats for this round are taken"}
	ErrThemeRequired           = &Error{Code: CodeThemeRequired, Message: "theme is required"}
	ErrNameRequired            = &Error{Code: CodeNameRequired, Message: "name is required"}
	ErrInvalidTimer            = &Error{Code: CodeInvalidTimer, Message: "timer must be between 1 and 3600 seconds"}
	ErrInvalidParticipantCount = &Error{Code: CodeInvalidParticipantCount, Message: "participant count must be between 1 and 32"}
	ErrInvalidPrompt           = &Error{Code: CodeInvalidPrompt, Message: "prompt must be a string"}
	ErrPromptTooLong           = &Error{Code: CodeInvalidPrompt, Message: "prompt is too long"}
	ErrGenerationTriggered     = &Error{Code: CodeGenerationInProgress, Message: "generation was already triggered for this round"}
)

// WrongPhase reports an action attempted outside the phase that allows it.
func WrongPhase(action string, status GameStatus) *Error {
	return &Error{
		Code:    CodeWrongPhase,
		Message: action + " is not allowed while " + string(status),
	}
}

// CodeOf returns the client error code carried by err, if any.
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
