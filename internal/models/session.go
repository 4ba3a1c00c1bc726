package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusLive      SessionStatus = "live"
	SessionStatusEnded     SessionStatus = "ended"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusScheduled, SessionStatusLive, SessionStatusEnded:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next goes forward.
// scheduled -> ended is allowed so a class can be cancelled before it starts.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionStatusScheduled:
		return next == SessionStatusLive || next == SessionStatusEnded
	case SessionStatusLive:
		return next == SessionStatusEnded
	}
	return false
}

// Session is a scheduled live-class instance bound to a course.
type Session struct {
	ID                      uuid.UUID     `json:"id"`
	CourseID                string        `json:"course_id"`
	CourseSlug              string        `json:"course_slug,omitempty"`
	CourseName              string        `json:"course_name,omitempty"`
	Title                   string        `json:"title"`
	ScheduledStart          *time.Time    `json:"scheduled_start,omitempty"`
	ScheduledEnd            *time.Time    `json:"scheduled_end,omitempty"`
	Status                  SessionStatus `json:"status"`
	HostAdminID             string        `json:"host_admin_id"`
	HostDisplayName         string        `json:"host_display_name,omitempty"`
	HostSecret              string        `json:"-"`
	WaitingRoomEnabled      bool          `json:"waiting_room_enabled"`
	Locked                  bool          `json:"locked"`
	PasscodeHash            string        `json:"-"`
	MeetingToken            string        `json:"-"`
	AllowStudentAudio       bool          `json:"allow_student_audio"`
	AllowStudentVideo       bool          `json:"allow_student_video"`
	AllowStudentScreenShare bool          `json:"allow_student_screen_share"`
	BannedIdentities        []string      `json:"banned_identities,omitempty"`
	ScreenShareOwner        *uuid.UUID    `json:"screen_share_owner,omitempty"`
	StartedAt               *time.Time    `json:"started_at,omitempty"`
	EndedAt                 *time.Time    `json:"ended_at,omitempty"`
	CreatedAt               time.Time     `json:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at"`
}

// SessionView is the session as participants see it over signaling and on
// the learner info endpoint.
type SessionView struct {
	ID                      uuid.UUID     `json:"id"`
	CourseID                string        `json:"course_id"`
	CourseSlug              string        `json:"course_slug,omitempty"`
	CourseName              string        `json:"course_name,omitempty"`
	Title                   string        `json:"title"`
	ScheduledStart          *time.Time    `json:"scheduled_start,omitempty"`
	ScheduledEnd            *time.Time    `json:"scheduled_end,omitempty"`
	Status                  SessionStatus `json:"status"`
	HostDisplayName         string        `json:"host_display_name,omitempty"`
	WaitingRoomEnabled      bool          `json:"waiting_room_enabled"`
	RequiresPasscode        bool          `json:"requires_passcode"`
	Locked                  bool          `json:"locked"`
	AllowStudentAudio       bool          `json:"allow_student_audio"`
	AllowStudentVideo       bool          `json:"allow_student_video"`
	AllowStudentScreenShare bool          `json:"allow_student_screen_share"`
	ScreenShareOwner        *uuid.UUID    `json:"screen_share_owner"`
	StartedAt               *time.Time    `json:"started_at,omitempty"`
	EndedAt                 *time.Time    `json:"ended_at,omitempty"`
}

// View drops host credentials, the passcode and the ban list.
func (s *Session) View() *SessionView {
	return &SessionView{
		ID:                      s.ID,
		CourseID:                s.CourseID,
		CourseSlug:              s.CourseSlug,
		CourseName:              s.CourseName,
		Title:                   s.Title,
		ScheduledStart:          s.ScheduledStart,
		ScheduledEnd:            s.ScheduledEnd,
		Status:                  s.Status,
		HostDisplayName:         s.HostDisplayName,
		WaitingRoomEnabled:      s.WaitingRoomEnabled,
		RequiresPasscode:        s.HasPasscode(),
		Locked:                  s.Locked,
		AllowStudentAudio:       s.AllowStudentAudio,
		AllowStudentVideo:       s.AllowStudentVideo,
		AllowStudentScreenShare: s.AllowStudentScreenShare,
		ScreenShareOwner:        s.ScreenShareOwner,
		StartedAt:               s.StartedAt,
		EndedAt:                 s.EndedAt,
	}
}

// HasPasscode reports whether students must present a passcode or meeting token.
func (s *Session) HasPasscode() bool { return s.PasscodeHash != "" }

// IsBanned reports whether identity was removed from the session.
func (s *Session) IsBanned(identity string) bool {
	if identity == "" {
		return false
	}
	for _, b := range s.BannedIdentities {
		if b == identity {
			return true
		}
	}
	return false
}

// SharingScreen reports whether participantID holds the screen share.
func (s *Session) SharingScreen(participantID uuid.UUID) bool {
	return s.ScreenShareOwner != nil && *s.ScreenShareOwner == participantID
}

// StudentCanPublish reports whether students get publish rights on the provider room.
func (s *Session) StudentCanPublish() bool {
	return s.AllowStudentAudio || s.AllowStudentVideo || s.AllowStudentScreenShare
}

// SessionUpdate carries optional field changes. Nil fields are left untouched.
type SessionUpdate struct {
	Title                   *string
	ScheduledStart          *time.Time
	ScheduledEnd            *time.Time
	WaitingRoomEnabled      *bool
	Locked                  *bool
	PasscodeHash            *string // empty string clears the passcode
	MeetingToken            *string
	AllowStudentAudio       *bool
	AllowStudentVideo       *bool
	AllowStudentScreenShare *bool
}

// Empty reports whether the update changes nothing.
func (u SessionUpdate) Empty() bool {
	return u.Title == nil && u.ScheduledStart == nil && u.ScheduledEnd == nil &&
		u.WaitingRoomEnabled == nil && u.Locked == nil && u.PasscodeHash == nil &&
		u.MeetingToken == nil && u.AllowStudentAudio == nil && u.AllowStudentVideo == nil &&
		u.AllowStudentScreenShare == nil
}

// Apply copies the non-nil fields of u onto s.
func (u SessionUpdate) Apply(s *Session) {
	if u.Title != nil {
		s.Title = *u.Title
	}
	if u.ScheduledStart != nil {
		t := *u.ScheduledStart
		s.ScheduledStart = &t
	}
	if u.ScheduledEnd != nil {
		t := *u.ScheduledEnd
		s.ScheduledEnd = &t
	}
	if u.WaitingRoomEnabled != nil {
		s.WaitingRoomEnabled = *u.WaitingRoomEnabled
	}
	if u.Locked != nil {
		s.Locked = *u.Locked
	}
	if u.PasscodeHash != nil {
		s.PasscodeHash = *u.PasscodeHash
	}
	if u.MeetingToken != nil {
		s.MeetingToken = *u.MeetingToken
	}
	if u.AllowStudentAudio != nil {
		s.AllowStudentAudio = *u.AllowStudentAudio
	}
	if u.AllowStudentVideo != nil {
		s.AllowStudentVideo = *u.AllowStudentVideo
	}
	if u.AllowStudentScreenShare != nil {
		s.AllowStudentScreenShare = *u.AllowStudentScreenShare
	}
}

// CourseKeys returns the normalized lookup variants for a course id, slug or URL path.
func CourseKeys(raw string) []string {
	key := NormalizeCourseKey(raw)
	if key == "" {
		return nil
	}
	keys := []string{key}
	if i := strings.LastIndex(key, "/"); i >= 0 && i < len(key)-1 {
		keys = append(keys, key[i+1:])
	}
	return keys
}

// NormalizeCourseKey lowercases and trims a course identifier.
func NormalizeCourseKey(raw string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(raw)), "/")
}
