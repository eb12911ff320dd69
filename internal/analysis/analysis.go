// Package analysis drives the whole subsystem over one compilation: it
// resolves every construction site, runs the definite-assignment tracker
// over every routine in parallel, layers construction diagnostics on top of
// the pure resolution results, and assembles the deterministic report the
// lowering stage and later passes consume.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/calyx-lang/initcheck/internal/assign"
	"github.com/calyx-lang/initcheck/internal/cfg"
	"github.com/calyx-lang/initcheck/internal/diagnostics"
	"github.com/calyx-lang/initcheck/internal/metadata"
	"github.com/calyx-lang/initcheck/internal/opacity"
	"github.com/calyx-lang/initcheck/internal/policy"
	"github.com/calyx-lang/initcheck/internal/resolve"
	"github.com/calyx-lang/initcheck/internal/token"
)

// Compilation is the unit of analysis: the metadata store plus the routines
// and construction sites the front end produced for it.
type Compilation struct {
	Store    metadata.Store
	Routines []*cfg.Routine
	Sites    []*cfg.ConstructionSite
}

// Report is the analysis output. Diagnostics and Decisions are fully
// deterministic for a given input and policy; only RunID varies between
// runs, and it is excluded from Fingerprint.
type Report struct {
	RunID       string
	Diagnostics []*diagnostics.DiagnosticError
	Decisions   map[cfg.SiteID]resolve.Decision

	results map[string]*assign.Result
}

// HasFatal reports whether any finding blocks compilation.
func (r *Report) HasFatal() bool {
	for _, d := range r.Diagnostics {
		if d.IsFatal() {
			return true
		}
	}
	return false
}

// Result returns the definite-assignment query surface for a routine, for
// later passes calling IsDefinitelyAssigned.
func (r *Report) Result(routine string) (*assign.Result, bool) {
	res, ok := r.results[routine]
	return res, ok
}

// Fingerprint hashes the deterministic report content. Re-running the
// analysis over unchanged input must reproduce the same fingerprint.
func (r *Report) Fingerprint() string {
	h := sha256.New()
	for _, d := range r.Diagnostics {
		fmt.Fprintf(h, "%s\n", d.Error())
		for _, fx := range d.Fixes {
			fmt.Fprintf(h, "  fix %q %s %q\n", fx.Title, fx.Span.Start, fx.NewText)
		}
	}
	for _, id := range sortedSiteIDs(r.Decisions) {
		d := r.Decisions[id]
		fmt.Fprintf(h, "%s=%s/%d\n", id, d.Kind, d.Reason)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Analyzer runs compilations under one policy. It is safe for concurrent
// use; the opacity oracle's memo cache is shared across runs.
type Analyzer struct {
	pol     policy.Policy
	workers int
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithWorkers caps the number of routines analyzed concurrently. Defaults
// to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.workers = n
		}
	}
}

// New builds an analyzer for the given policy.
func New(pol policy.Policy, opts ...Option) *Analyzer {
	a := &Analyzer{pol: pol, workers: runtime.GOMAXPROCS(0)}
	for _, o := range opts {
		o(a)
	}
	return a
}

// runState is the in-flight pipeline state for one Run call.
type runState struct {
	ctx    context.Context
	pol    policy.Policy
	comp   *Compilation
	oracle *opacity.Oracle

	workers     int
	decisions   map[cfg.SiteID]resolve.Decision
	siteDiags   []*diagnostics.DiagnosticError
	routineErrs [][]*diagnostics.DiagnosticError
	results     map[string]*assign.Result
	err         error
}

// canceled reports whether a stage already failed. Stages only fail on
// cancellation; ordinary findings are data, not errors.
func (st *runState) canceled() bool {
	return st.err != nil
}

// Run analyzes one compilation. On cancellation the partial report is
// discarded and ctx's error returned; a ResolutionDecision is never
// half-published.
func (a *Analyzer) Run(ctx context.Context, comp *Compilation) (*Report, error) {
	st := &runState{
		ctx:     ctx,
		pol:     a.pol,
		comp:    comp,
		oracle:  opacity.NewOracle(comp.Store),
		workers: a.workers,
		results: make(map[string]*assign.Result, len(comp.Routines)),
	}

	st = newPipeline(resolveStage{}, assignStage{}, constructionStage{}).run(st)
	if st.err != nil {
		return nil, st.err
	}

	report := &Report{
		RunID:     uuid.NewString(),
		Decisions: st.decisions,
		results:   st.results,
	}
	// Routine findings first, in routine declaration order, then the
	// construction findings in site order. Ordering never depends on
	// goroutine scheduling or map iteration.
	for _, errs := range st.routineErrs {
		report.Diagnostics = append(report.Diagnostics, errs...)
	}
	report.Diagnostics = append(report.Diagnostics, st.siteDiags...)
	report.Diagnostics = diagnostics.Dedupe(report.Diagnostics)
	return report, nil
}

// resolveStage decides every construction site. Resolution is pure, so this
// stage is a deterministic map over the site list.
type resolveStage struct{}

func (resolveStage) Process(st *runState) *runState {
	st.decisions = make(map[cfg.SiteID]resolve.Decision, len(st.comp.Sites))
	for _, site := range st.comp.Sites {
		if err := st.ctx.Err(); err != nil {
			st.err = err
			return st
		}
		st.decisions[site.ID] = resolve.Resolve(st.comp.Store, st.pol, site)
	}
	return st
}

// assignStage runs the definite-assignment tracker over all routines. There
// is no shared mutable state between routines beyond the populate-once
// opacity cache, so routines fan out across workers freely.
type assignStage struct{}

func (assignStage) Process(st *runState) *runState {
	tracker := assign.New(st.comp.Store, st.oracle, st.pol)
	st.routineErrs = make([][]*diagnostics.DiagnosticError, len(st.comp.Routines))
	resultsByIdx := make([]*assign.Result, len(st.comp.Routines))

	g, ctx := errgroup.WithContext(st.ctx)
	g.SetLimit(st.workers)
	for i, r := range st.comp.Routines {
		i, r := i, r
		g.Go(func() error {
			res, errs, err := tracker.AnalyzeRoutine(ctx, r)
			if err != nil {
				return err
			}
			resultsByIdx[i] = res
			st.routineErrs[i] = errs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		st.err = err
		return st
	}
	for i, r := range st.comp.Routines {
		st.results[r.Name] = resultsByIdx[i]
	}
	return st
}

// constructionStage layers diagnostics over the resolution decisions.
type constructionStage struct{}

func (constructionStage) Process(st *runState) *runState {
	for _, site := range st.comp.Sites {
		if err := st.ctx.Err(); err != nil {
			st.err = err
			return st
		}
		d := st.decisions[site.ID]
		name := site.TargetName(st.comp.Store)
		span := token.Span{Start: site.Pos, End: site.Pos}

		switch {
		case d.Kind == resolve.Reject && d.Reason == resolve.ReasonCtorInDefaultArgument,
			d.Kind == resolve.Reject && d.Reason == resolve.ReasonInaccessibleCtor:
			e := diagnostics.NewError(diagnostics.ErrC001, site.Pos, name).
				WithFix("use an explicit default value", span, "default("+name+")")
			st.siteDiags = append(st.siteDiags, e)

		case d.Kind == resolve.ZeroInitialize:
			t, ok := st.comp.Store.Lookup(site.Type)
			if !ok || len(t.Constructors) == 0 || t.DeclaresParameterlessCtor() {
				break
			}
			if st.pol.SuspiciousSeverity == diagnostics.Silent {
				break
			}
			e := diagnostics.NewError(diagnostics.ErrC002, site.Pos, name, len(t.Constructors)).
				WithSeverity(st.pol.SuspiciousSeverity).
				WithFix("use an explicit default value", span, "default("+name+")")
			e.WithFix("call a declared constructor", span, ctorCallTemplate(name, t))
			st.siteDiags = append(st.siteDiags, e)
		}
	}
	return st
}

// ctorCallTemplate renders a call skeleton for the first declared
// constructor, one hole per parameter.
func ctorCallTemplate(name string, t *metadata.ValueTypeDescriptor) string {
	c := t.Constructors[0]
	args := ""
	for i := range c.Params {
		if i > 0 {
			args += ", "
		}
		args += "_"
	}
	return name + "(" + args + ")"
}

func sortedSiteIDs(m map[cfg.SiteID]resolve.Decision) []cfg.SiteID {
	ids := make([]cfg.SiteID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
