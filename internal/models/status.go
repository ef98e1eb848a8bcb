package models

// SinkChannels identifies the playback destination: the guild, the voice
// channel consuming the stream, and the text channel replies go to.
type SinkChannels struct {
	GuildID      string `json:"guild_id"`
	VoiceChannel string `json:"voice_channel"`
	ReplyChannel string `json:"reply_channel"`
}

// IsZero reports whether no destination has been set.
func (c SinkChannels) IsZero() bool {
	return c.GuildID == "" && c.VoiceChannel == "" && c.ReplyChannel == ""
}

// StreamStatus is the process-wide playback status. There is exactly one live
// instance, owned and mutated only by the orchestrator under its control mutex;
// it carries no lock of its own.
//
// ManualStop distinguishes a deliberate operator stop/skip from a pipeline that
// ended naturally or failed: while set, auto-advance and failure reporting for
// the terminating attempt are suppressed.
type StreamStatus struct {
	Playing    bool         `json:"playing"`
	Joined     bool         `json:"joined"`
	ManualStop bool         `json:"manual_stop"`
	Channels   SinkChannels `json:"channels"`
}

// ResetPlayback clears the per-attempt flags on Idle entry. The sink
// connection (Joined, Channels) survives between items.
func (s *StreamStatus) ResetPlayback() {
	s.Playing = false
	s.ManualStop = false
}

// ResetConnection clears everything after the sink has been left.
func (s *StreamStatus) ResetConnection() {
	s.Playing = false
	s.ManualStop = false
	s.Joined = false
	s.Channels = SinkChannels{}
}
