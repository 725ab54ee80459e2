package model

import "time"

// Conversion status values. Transitions are one-directional:
// processing -> completed or processing -> failed.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Tempo bounds in BPM.
const (
	MinTempo     = 40
	MaxTempo     = 240
	DefaultTempo = 120
)

// VoiceSettings configures one SATB voice.
type VoiceSettings struct {
	Enabled bool `json:"enabled"`
	Solo    bool `json:"solo"`
	Volume  int  `json:"volume"` // 0-100
}

// SATBConfig is the four-voice choral configuration. At most one voice
// should be soloed at a time; that is enforced by the selection UI, so a
// violating config is tolerated here rather than rejected.
type SATBConfig struct {
	Soprano VoiceSettings `json:"soprano"`
	Alto    VoiceSettings `json:"alto"`
	Tenor   VoiceSettings `json:"tenor"`
	Bass    VoiceSettings `json:"bass"`
}

// Conversion represents one synthesis job against one Score.
type Conversion struct {
	ID          string      `json:"id"`
	ScoreID     string      `json:"scoreId"`
	UserID      int64       `json:"userId"`
	Instruments []string    `json:"instruments"`
	SATBConfig  *SATBConfig `json:"satbConfig,omitempty"`
	Tempo       int         `json:"tempo"`
	Status      string      `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	AudioPath   string      `json:"audioPath,omitempty"`
	MIDIPath    string      `json:"midiPath,omitempty"`
	AudioURL    string      `json:"audioUrl,omitempty"`
	MIDIURL     string      `json:"midiUrl,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Terminal reports whether the conversion has reached a final state.
func (c *Conversion) Terminal() bool {
	return c.Status == StatusCompleted || c.Status == StatusFailed
}
