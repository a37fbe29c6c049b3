// internal/domain/models/pipeline.go
package models

// PipelineTemplate is the ordered list of stages deals move through.
// Every organization gets a copy of the default template at creation and can
// rename or reorder stages afterward.
type PipelineTemplate struct {
	Name   string   `bson:"name" json:"name"`
	Stages []string `bson:"stages" json:"stages"`
}

// DefaultPipeline returns the stage set new organizations start with.
func DefaultPipeline() PipelineTemplate {
	return PipelineTemplate{
		Name:   "Sales Pipeline",
		Stages: []string{"Lead", "Contacted", "Proposal", "Negotiation", "Won", "Lost"},
	}
}

// HasStage reports whether the template contains the named stage.
func (p PipelineTemplate) HasStage(stage string) bool {
	for _, s := range p.Stages {
		if s == stage {
			return true
		}
	}
	return false
}
