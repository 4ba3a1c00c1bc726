package models

import "errors"

// Not found.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrRoomNotFound        = errors.New("room not found")
	ErrHandRaiseNotFound   = errors.New("hand raise not found")
	ErrRecordingNotFound   = errors.New("recording not found")
)

// Session state preconditions.
var (
	ErrSessionNotLive    = errors.New("session is not live")
	ErrSessionEnded      = errors.New("session has ended")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Screen share.
var (
	ErrScreenShareDisabled = errors.New("screen sharing is disabled for students")
	ErrScreenShareBusy     = errors.New("another participant is sharing their screen")
)

// Authentication and access.
var (
	// ErrInvalidSignalingKey is returned for every kind of key failure so
	// callers cannot tell malformed, unknown and revoked keys apart.
	ErrInvalidSignalingKey = errors.New("invalid signaling key")
	ErrInvalidHostSecret   = errors.New("invalid instructor access secret")
	ErrInvalidPasscode     = errors.New("invalid passcode for this live class")
	ErrSessionLocked       = errors.New("session is locked")
	ErrParticipantBanned   = errors.New("you have been removed from this live class")
	ErrParticipantWaiting  = errors.New("waiting for the instructor to admit you")
	ErrForbidden           = errors.New("operation not permitted")
)

// Validation.
var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrInvalidInput   = errors.New("invalid input")
)
