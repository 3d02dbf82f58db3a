package query

// OpenSurfaces lists surfaces handed off by earlier exports.
type OpenSurfaces struct{}

func (OpenSurfaces) Type() string { return "print:surfaces" }

func (OpenSurfaces) Validate() error { return nil }

// ListArtifacts lists printed artifacts held by the configured sink.
type ListArtifacts struct {
	// Limit keeps the newest artifacts when positive.
	Limit int
}

func (ListArtifacts) Type() string { return "print:artifacts" }

func (ListArtifacts) Validate() error { return nil }
