package model

// ParticipantKind distinguishes the two user roles.
type ParticipantKind string

const (
	KindCandidate   ParticipantKind = "CANDIDATE"
	KindResponsible ParticipantKind = "RESPONSIBLE"
)

// Valid reports whether k is one of the known roles.
func (k ParticipantKind) Valid() bool {
	return k == KindCandidate || k == KindResponsible
}

// ProfileSummary is the minimal profile data shown next to messages and connections.
type ProfileSummary struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Title     string `json:"title,omitempty"`
	Company   string `json:"company,omitempty"`
}

// Participant is a user seen through the role it plays.
type Participant struct {
	Kind    ParticipantKind `json:"kind,omitempty"`
	Summary ProfileSummary  `json:"summary"`
}

// UnknownParticipant is used when a profile can no longer be resolved.
func UnknownParticipant(id int64) Participant {
	return Participant{Summary: ProfileSummary{ID: id}}
}
