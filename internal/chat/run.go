package chat

import "time"

// Entry is one inbound user message.
type Entry struct {
	UserID      string    `json:"user_id"`
	MsgType     MsgType   `json:"msg_type"`
	Text        string    `json:"text,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	AudioURL    string    `json:"audio_url,omitempty"`
	AudioBase64 string    `json:"audio_base64,omitempty"`
	Location    *Location `json:"location,omitempty"`
	Locale      string    `json:"locale,omitempty"`
	Timezone    string    `json:"timezone,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// RunContext is the per-dispatch bundle handed to one character. Every
// dispatcher gets its own copy.
type RunContext struct {
	Room *Room
	User *User
	// Trigger is the user record that started the turn; nil for continuations.
	Trigger *Record
	// Records is the window to consider, newest first.
	Records  []*Record
	Continue bool
	// VoiceMode is set when the turn was started by a voice message.
	VoiceMode bool
}

// Clone returns a copy of rc whose records may be mutated freely.
func (rc RunContext) Clone() RunContext {
	out := rc
	out.Room = rc.Room.Clone()
	if rc.User != nil {
		u := *rc.User
		out.User = &u
	}
	out.Trigger = rc.Trigger.Clone()
	out.Records = CloneRecords(rc.Records)
	return out
}

// Locale returns the user's locale.
func (rc RunContext) Locale() string {
	if rc.User == nil {
		return ""
	}
	return rc.User.Locale
}

// Target addresses the room owner.
func (rc RunContext) Target() Target {
	t := Target{}
	if rc.Room != nil {
		t.RoomID = rc.Room.ID
		t.UserID = rc.Room.OwnerID
	}
	return t
}

// Run log kinds shown in the fallback menu.
const (
	LogPrivacy = "privacy"
	LogWorking = "working"
)

// RunLog is a user-visible line about what a character did.
type RunLog struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Run statuses.
const (
	StatusYes       = "yes"
	StatusNo        = "no"
	StatusHasNewMsg = "has_new_msg"
)

// RunResult is the outcome of one character's turn.
type RunResult struct {
	Character    string   `json:"character"`
	Status       string   `json:"status"`
	Logs         []RunLog `json:"logs,omitempty"`
	RecordID     string   `json:"record_id,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
	UsedTool     bool     `json:"used_tool,omitempty"`
	VoiceReplied bool     `json:"voice_replied,omitempty"`
}

// Succeeded reports whether the character replied.
func (r *RunResult) Succeeded() bool {
	return r != nil && r.Status == StatusYes
}
