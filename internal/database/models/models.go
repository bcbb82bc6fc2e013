package models

import "time"

// SystemConfig represents a key-value configuration entry.
type SystemConfig struct {
	ID        int64
	Key       string
	Value     string
	UpdatedAt time.Time
}

// User represents an application user account.
type User struct {
	ID           int64
	Login        string
	Name         string
	Email        string
	PasswordHash string
	IsInternal   bool
	CountryCode  string // ISO 3166-1 alpha-2, used for number formatting
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Server represents a PBX/agent binding. At most one server exists per
// owning user account.
type Server struct {
	ID                      int64
	Name                    string
	UserID                  int64
	SecurityToken           string
	ConnectionMode          string // "webhook" | "nats"
	AgentURL                string
	NATSURL                 string
	AgentInitialized        bool
	AgentInitializationOpen bool
	AutoCreateUsers         bool
	GenerateSIPPeers        bool
	SIPProtocol             string // "SIP" | "PJSIP"
	SIPPeerTemplate         string
	SIPPeerStartExten       string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// PbxUser maps an application user to a PBX extension on a server.
// (exten, server) and (user, server) are both unique.
type PbxUser struct {
	ID                int64
	Exten             string
	UserID            int64
	ServerID          int64
	OriginateVars     string // newline-separated channel variables
	MissedCallsNotify bool
	OpenReference     bool
	CallPopupEnabled  bool
	CallPopupIsSticky bool
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// Channels is populated by queries that join user_channels.
	Channels []UserChannel
}

// UserChannel is a SIP channel belonging to a PbxUser.
type UserChannel struct {
	ID               int64
	Name             string // e.g. "PJSIP/101"
	ServerID         int64
	PbxUserID        int64
	SIPUser          string
	SIPPassword      string
	OriginateEnabled bool
	OriginateContext string
	AutoAnswerHeader string
	CreatedAt        time.Time
}

// Partner is a CRM contact.
type Partner struct {
	ID          int64
	Name        string
	Phone       string
	Mobile      string
	CountryCode string
	Tags        string // comma-separated tag names
	UserID      *int64 // account manager
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PartnerMessage is an activity log entry posted on a partner, such as a
// call transcription summary.
type PartnerMessage struct {
	ID        int64
	PartnerID int64
	Body      string
	CreatedAt time.Time
}

// Call statuses. A call starts in progress and ends in exactly one
// terminal state, at which point IsActive flips to false.
const (
	CallStatusProgress = "progress"
	CallStatusAnswered = "answered"
	CallStatusFailed   = "failed"
	CallStatusNoAnswer = "no_answer"
	CallStatusBusy     = "busy"
)

// HangupCauseAnswered is the Q.850 cause code for a normally cleared
// (answered) call. Recording persistence is gated on it.
const HangupCauseAnswered = "16"

// Call represents one call attempt.
type Call struct {
	ID             int64
	UniqueID       string
	ServerID       int64
	CallingNumber  string
	CalledNumber   string
	Direction      string // "in" | "out"
	Status         string
	IsActive       bool
	Started        time.Time
	Answered       *time.Time
	Ended          *time.Time
	CallingUserID  *int64
	AnsweredUserID *int64
	PartnerID      *int64
	ResModel       string // reference to the record the call was placed from
	ResID          *int64
}

// IsTerminal reports whether the call has reached a terminal status.
func (c *Call) IsTerminal() bool {
	return c.Status != CallStatusProgress
}

// Channel is one leg of a call, correlated by UniqueID and LinkedID
// (the paired leg allocated at origination).
type Channel struct {
	ID                int64
	CallID            int64
	ServerID          int64
	UserID            *int64
	Channel           string // channel name, e.g. "PJSIP/101-00000042"
	UniqueID          string
	LinkedID          string
	IsActive          bool
	Cause             string // hangup cause code, "16" = answered
	RecordingFilePath string
}

// Recording keep_forever values.
const (
	KeepForeverNo  = "no"
	KeepForeverYes = "yes"
)

// Recording is the artifact of a finished, answered channel. Audio is
// stored either inline in RecordingData or as a file at FilePath, never
// both.
type Recording struct {
	ID                 int64
	UniqueID           string
	CallID             *int64
	ChannelID          *int64
	PartnerID          *int64
	CallingUserID      *int64
	AnsweredUserID     *int64
	CallingNumber      string
	CalledNumber       string
	Answered           *time.Time
	RecordingFilename  string
	RecordingData      []byte
	FilePath           string
	KeepForever        string
	Transcript         string
	Summary            string
	TranscriptionToken string
	TranscriptionError string
	TranscriptionPrice string
	CreatedAt          time.Time
}
