package worship

import (
	"time"
)

// Track is what the external video provider gives us: a stable identifier,
// display metadata and a duration. Playback itself happens on the clients.
type Track struct {
	VideoID      string `json:"videoId"`
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	DurationSec  int    `json:"durationSec,omitempty"`
}

// Room is a shared worship session. Playback state lives inline on the room
// row; all mutations go through the room's command worker.
type Room struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"ownerId"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	IsPrivate       bool      `json:"isPrivate"`
	IsActive        bool      `json:"isActive"`
	MaxParticipants *int      `json:"maxParticipants,omitempty"` // nil = unlimited
	SkipThreshold   float64   `json:"skipThreshold"`
	AllowDuplicates bool      `json:"allowDuplicates"`
	MaxQueueSize    int       `json:"maxQueueSize"`
	MaxSongsPerUser int       `json:"maxSongsPerUser"`
	MinSongSec      int       `json:"minSongSec,omitempty"`
	MaxSongSec      int       `json:"maxSongSec,omitempty"`
	EnableWaitlist  bool      `json:"enableWaitlist"`
	CreatedAt       time.Time `json:"createdAt"`

	Playback PlaybackState `json:"playback"`
}

// QueueEntry is a candidate track awaiting playback. The entry that becomes
// current is removed from the queue at that instant; VoteScore is derived
// from the votes table.
type QueueEntry struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"roomId"`
	SubmitterID string    `json:"submitterId"`
	Track       Track     `json:"track"`
	AddedAt     time.Time `json:"addedAt"`
	VoteScore   int       `json:"voteScore"`
}

type Role string

const (
	RoleListener  Role = "listener"
	RoleDJ        Role = "dj"
	RoleLeader    Role = "leader"
	RoleModerator Role = "moderator"
)

// CanControlPlayback reports whether the role may issue playback commands.
func (r Role) CanControlPlayback() bool {
	return r == RoleLeader || r == RoleModerator
}

// Participant is a (room, user) membership row. Waitlisted participants are
// ordered strictly by JoinedAt for FIFO promotion.
type Participant struct {
	RoomID          string    `json:"roomId"`
	UserID          string    `json:"userId"`
	Role            Role      `json:"role"`
	Waitlisted      bool      `json:"waitlisted"`
	JoinedAt        time.Time `json:"joinedAt"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
}

// PlayRecord is an append-only history row written whenever a current track
// ends, is skipped or is replaced.
type PlayRecord struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	Track      Track     `json:"track"`
	WasSkipped bool      `json:"wasSkipped"`
	Upvotes    int       `json:"upvotes"`
	SkipVotes  int       `json:"skipVotes"`
	Listeners  int       `json:"listeners"`
	PlayedAt   time.Time `json:"playedAt"`
}

// SyncSnapshot is the pull-based reconciliation payload. EffectivePosition is
// derived on the server at snapshot time; clients keep extrapolating from
// ServerTime with their own clocks.
type SyncSnapshot struct {
	RoomID            string         `json:"roomId"`
	Status            PlaybackStatus `json:"status"`
	CurrentTrack      *Track         `json:"currentTrack,omitempty"`
	EffectivePosition float64        `json:"effectivePosition"`
	PlaybackStartedAt *time.Time     `json:"playbackStartedAt,omitempty"`
	ServerTime        time.Time      `json:"serverTime"`
}
