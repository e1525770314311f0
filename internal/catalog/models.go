package catalog

import (
	"strings"
	"time"
)

// Session records one run of the capture pipeline.
type Session struct {
	BaseModel
	Source    string     `gorm:"size:32;not null" json:"source"`
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	RowStride int        `json:"row_stride"`
	Format    string     `gorm:"size:16" json:"format"`
	FrameRate float64    `json:"frame_rate"`
	Channels  string     `gorm:"size:64" json:"channels"` // comma separated
	StartedAt time.Time  `gorm:"index;not null" json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	Error     string     `gorm:"type:text" json:"error,omitempty"`
	Outputs   []Output   `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"outputs,omitempty"`
}

// ChannelList splits Channels.
func (s Session) ChannelList() []string {
	if s.Channels == "" {
		return nil
	}
	return strings.Split(s.Channels, ",")
}

// Duration returns how long the session ran, or zero while it is running.
func (s Session) Duration() time.Duration {
	if s.StoppedAt == nil {
		return 0
	}
	return s.StoppedAt.Sub(s.StartedAt)
}

// Output records what one sink did during a session.
type Output struct {
	BaseModel
	SessionID  ULID   `gorm:"type:varchar(26);index;not null" json:"session_id"`
	Channel    string `gorm:"size:16" json:"channel"`
	Sink       string `gorm:"size:64" json:"sink"`
	Discipline string `gorm:"size:16" json:"discipline"`
	Path       string `json:"path,omitempty"`
	Submitted  uint64 `json:"submitted"`
	Consumed   uint64 `json:"consumed"`
	Failed     uint64 `json:"failed"`
	Dropped    uint64 `json:"dropped"`
	Rejected   uint64 `json:"rejected"`
}
