package domain

// Role describes how a participant takes part in the show.
type Role string

const (
	RoleHost      Role = "host"
	RoleGuest     Role = "guest"
	RoleBackstage Role = "backstage"
)

// ParticipantSource is one live feed composited into the broadcast: a remote
// guest, the host's own capture, or a screen share. Video and Audio may be
// nil when the corresponding media is absent; the enabled flags gate media
// that exists but is temporarily switched off.
type ParticipantSource struct {
	ID           string
	DisplayName  string
	Video        VideoSource
	Audio        AudioSource
	VideoEnabled bool
	AudioEnabled bool
	Role         Role
	IsLocal      bool
}

// HasVideo reports whether the participant currently contributes visible
// video (a source exists and is enabled).
func (p ParticipantSource) HasVideo() bool {
	return p.Video != nil && p.VideoEnabled
}

// HasAudio reports whether the participant currently contributes audio.
func (p ParticipantSource) HasAudio() bool {
	return p.Audio != nil && p.AudioEnabled
}
