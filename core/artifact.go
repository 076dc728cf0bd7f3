package core

// ArtifactAction tells whether an artifact was newly created or modified.
type ArtifactAction string

const (
	ArtifactCreated  ArtifactAction = "created"
	ArtifactModified ArtifactAction = "modified"
)

// ArtifactRecord is a generated file. Filename is unique within a run.
type ArtifactRecord struct {
	Filename  string         `json:"filename"`
	Language  string         `json:"language,omitempty"`
	Content   string         `json:"content"`
	Saved     bool           `json:"saved"`
	SavedPath string         `json:"saved_path,omitempty"`
	Action    ArtifactAction `json:"action"`
	SizeBytes *int64         `json:"size_bytes,omitempty"`
}

// Equal compares two records field by field.
func (a ArtifactRecord) Equal(b ArtifactRecord) bool {
	if a.Filename != b.Filename || a.Language != b.Language || a.Content != b.Content ||
		a.Saved != b.Saved || a.SavedPath != b.SavedPath || a.Action != b.Action {
		return false
	}
	if (a.SizeBytes == nil) != (b.SizeBytes == nil) {
		return false
	}
	return a.SizeBytes == nil || *a.SizeBytes == *b.SizeBytes
}

// ArtifactStore is the read side the rest of the application uses to obtain
// the authoritative file set of a run.
type ArtifactStore interface {
	Artifacts() []ArtifactRecord
}
