package chat

import "time"

// Room is a user's conversation session.
type Room struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	Characters      []string  `json:"characters"`
	VoicePreference string    `json:"voice_preference,omitempty"`
	NeedSystemTwoAt time.Time `json:"need_system_two_at,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Has reports whether character is a member of the room.
func (r *Room) Has(character string) bool {
	for _, c := range r.Characters {
		if c == character {
			return true
		}
	}
	return false
}

// Clone returns a copy of r with its own character slice.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	out := *r
	out.Characters = append([]string(nil), r.Characters...)
	return &out
}

// Quota counts a user's AI conversation usage.
type Quota struct {
	ConversationCount int `json:"conversation_count"`
	ClusterCount      int `json:"cluster_count"`
	AdCredits         int `json:"ad_credits"`
}

// User is the end user a room belongs to.
type User struct {
	ID         string    `json:"id"`
	Locale     string    `json:"locale"`
	Timezone   string    `json:"timezone"`
	Subscribed bool      `json:"subscribed"`
	Quota      Quota     `json:"quota"`
	CreatedAt  time.Time `json:"created_at"`
}

// Draft kinds.
const (
	DraftNote     = "note"
	DraftTodo     = "todo"
	DraftCalendar = "calendar"

	DraftWaiting = "waiting"
)

// Draft is a note, todo or calendar entry proposed by a character. It stays
// waiting until the user confirms it elsewhere.
type Draft struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	RoomID    string    `json:"room_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Character string    `json:"character"`
	Title     string    `json:"title,omitempty"`
	Desc      string    `json:"desc,omitempty"`
	Date      string    `json:"date,omitempty"`
	Time      string    `json:"time,omitempty"`
	RemindMe  string    `json:"remind_me,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CallLog records one backend call.
type CallLog struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"room_id"`
	Character    string    `json:"character"`
	Model        string    `json:"model"`
	BaseURL      string    `json:"base_url"`
	RequestID    string    `json:"request_id,omitempty"`
	LatencyMS    int64     `json:"latency_ms"`
	PromptTokens int       `json:"prompt_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	Outcome      string    `json:"outcome"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Room event kinds.
const (
	EventKick  = "kick"
	EventAdd   = "add"
	EventClear = "clear"
)

// RoomEvent is a membership change written for auditing.
type RoomEvent struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	Character string    `json:"character,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
