package analysis

// stage is one processing step of the analysis pipeline.
type stage interface {
	Process(st *runState) *runState
}

// pipeline runs stages in order.
type pipeline struct {
	stages []stage
}

func newPipeline(stages ...stage) *pipeline {
	return &pipeline{stages: stages}
}

// run executes the pipeline. Stages keep running after earlier findings so
// the report carries diagnostics from every stage that could still produce
// them; only cancellation stops the pipeline early.
func (p *pipeline) run(initial *runState) *runState {
	st := initial
	for _, s := range p.stages {
		if st.canceled() {
			return st
		}
		st = s.Process(st)
	}
	return st
}
