package reportflow

import (
	"fmt"

	"github.com/petrijr/reportflow/pkg/api"
)

// PipelineBuilder provides a fluent API for defining pipelines:
//
//	def, err := reportflow.NewPipeline("report-testing", "v1").
//	    Phase("Planning",
//	        reportflow.Automated("start", "start_planning_phase", nil),
//	        reportflow.HumanGate("documents", "submit_planning_documents", "process_planning_documents",
//	            reportflow.WithAction("upload_planning_documents")),
//	    ).
//	    Parallel("Sample Selection", ...).
//	    Parallel("Data Owner Identification", ...).
//	    Build()
type PipelineBuilder struct {
	def api.PipelineDefinition
}

// NewPipeline creates a builder for the named pipeline version.
func NewPipeline(name, version string) *PipelineBuilder {
	return &PipelineBuilder{
		def: api.PipelineDefinition{
			Name:    name,
			Version: version,
		},
	}
}

// Name returns the pipeline name.
func (b *PipelineBuilder) Name() string {
	return b.def.Name
}

// Phase appends a sequential phase.
func (b *PipelineBuilder) Phase(name string, steps ...StepDefinition) *PipelineBuilder {
	return b.phase(name, false, steps)
}

// Parallel appends a phase of the fork/join group. Exactly two adjacent
// phases may be parallel; they run concurrently once the phase before them
// completes.
func (b *PipelineBuilder) Parallel(name string, steps ...StepDefinition) *PipelineBuilder {
	return b.phase(name, true, steps)
}

func (b *PipelineBuilder) phase(name string, parallel bool, steps []StepDefinition) *PipelineBuilder {
	if name == "" {
		panic("reportflow: phase name must not be empty")
	}
	b.def.Phases = append(b.def.Phases, api.PhaseDefinition{
		Name:     name,
		Steps:    append([]StepDefinition(nil), steps...),
		Parallel: parallel,
	})
	return b
}

// DefaultPolicy sets the retry policy for activities without their own entry.
func (b *PipelineBuilder) DefaultPolicy(p RetryPolicy) *PipelineBuilder {
	b.def.Policies.Default = p
	return b
}

// Policy sets the retry policy for one activity.
func (b *PipelineBuilder) Policy(activity string, p RetryPolicy) *PipelineBuilder {
	if b.def.Policies.Policies == nil {
		b.def.Policies.Policies = make(map[string]RetryPolicy)
	}
	b.def.Policies.Policies[activity] = p
	return b
}

// Schema registers the payload schema for a signal name.
func (b *PipelineBuilder) Schema(signal string, s SignalSchema) *PipelineBuilder {
	if b.def.Schemas == nil {
		b.def.Schemas = make(map[string]SignalSchema)
	}
	b.def.Schemas[signal] = s
	return b
}

// Build validates and returns the pipeline definition.
func (b *PipelineBuilder) Build() (PipelineDefinition, error) {
	if err := b.def.Validate(); err != nil {
		return PipelineDefinition{}, fmt.Errorf("reportflow: pipeline %s: %w", b.def.Name, err)
	}
	return b.def, nil
}

// MustBuild is like Build but panics on error.
// Useful for package-level pipeline definitions.
func (b *PipelineBuilder) MustBuild() PipelineDefinition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}
