package pipeline

import (
	"github.com/seantiz/nester/internal/harness"
	"github.com/seantiz/nester/internal/protocol"
)

// Pipeline is one way of computing a layout.
type Pipeline interface {
	// Name identifies the pipeline in requests and in the registry.
	Name() string

	// Subset lists the statuses the pipeline emits.
	Subset() protocol.Subset

	// Collaborators returns the importer, optimizer and renderer a harness
	// drives for this pipeline.
	Collaborators() harness.Collaborators
}

// Info describes a registered pipeline for API responses.
type Info struct {
	Name     string            `json:"name"`
	Statuses []protocol.Status `json:"statuses"`
	Default  bool              `json:"default"`
}
