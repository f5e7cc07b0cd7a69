package domain

import "time"

// ArtifactKind distinguishes the two capture products.
type ArtifactKind string

const (
	ArtifactHierarchy  ArtifactKind = "hierarchy"
	ArtifactScreenshot ArtifactKind = "screenshot"
)

// Extension returns the file extension used for the kind.
func (k ArtifactKind) Extension() string {
	switch k {
	case ArtifactHierarchy:
		return ".xml"
	case ArtifactScreenshot:
		return ".png"
	default:
		return ".bin"
	}
}

// Artifact is a captured file registered under a session-unique key.
type Artifact struct {
	Kind       ArtifactKind
	Key        string
	Path       string
	CapturedAt time.Time
}
