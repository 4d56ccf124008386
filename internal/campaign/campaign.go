// Package campaign drives discovery and mutation across application
// families and collects the results into a report.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/blackwell-systems/idreset/internal/artifact"
	"github.com/blackwell-systems/idreset/internal/backup"
	"github.com/blackwell-systems/idreset/internal/logging"
	"github.com/blackwell-systems/idreset/internal/mutator"
	"github.com/blackwell-systems/idreset/internal/paths"
)

var (
	// ErrNoFamilies is returned when a campaign names no families.
	ErrNoFamilies = errors.New("no families requested")
	// ErrUnknownFamily is returned for a family ID the resolver does not know.
	ErrUnknownFamily = errors.New("unknown family")
	// ErrUnknownMode is returned when no mode, or an unsupported one, is requested.
	ErrUnknownMode = errors.New("unknown mode")
)

// Params are the inputs of one campaign.
type Params struct {
	Families []string
	Modes    []mutator.Mode
	Backup   bool
	// Protect applies immutability to rewritten identifier and config files.
	Protect bool
	// ProtectDatabases extends protection to databases. Applications usually
	// need to write their own state databases, so it is off by default.
	ProtectDatabases bool
	// Keywords expand to case-variant LIKE patterns for the deletion modes.
	Keywords []string
	// DeepPatterns are added in workspace mode, and in record-deletion mode
	// when Deep is set.
	DeepPatterns []string
	Deep         bool
	// WorkspaceDirs are per-project directory names removed in workspace mode.
	WorkspaceDirs []string
	Observer      Observer
}

// Observer follows a campaign as it runs.
type Observer interface {
	// Planned is called once with the number of mutations about to run.
	Planned(total int)
	// Applied is called after every mutation.
	Applied(res mutator.Result)
}

// FamilyReport holds the results for one family.
type FamilyReport struct {
	Family    string
	Found     int
	Succeeded int
	Failed    int
	Skipped   int
	Results   []mutator.Result
}

// Report is the outcome of a campaign. It is not modified after Run returns.
type Report struct {
	Families   []FamilyReport
	Modes      []mutator.Mode
	Found      int
	Succeeded  int
	Failed     int
	Skipped    int
	Backups    []backup.Record
	Success    bool
	Cancelled  bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Orchestrator runs campaigns.
type Orchestrator struct {
	resolver *paths.Resolver
	mutator  *mutator.Mutator
	log      *slog.Logger
}

// New creates an Orchestrator.
func New(resolver *paths.Resolver, mut *mutator.Mutator) *Orchestrator {
	return &Orchestrator{
		resolver: resolver,
		mutator:  mut,
		log:      logging.L("campaign"),
	}
}

type task struct {
	artifact artifact.Artifact
	opts     mutator.Options
}

type familyPlan struct {
	family paths.Family
	found  int
	tasks  []task
}

// Run executes a campaign. It returns an error only for an invalid call;
// per-artifact failures are recorded in the report. Cancellation is checked
// between artifacts, and a cancelled run returns the partial report.
func (o *Orchestrator) Run(ctx context.Context, p Params) (*Report, error) {
	families, err := o.families(p.Families)
	if err != nil {
		return nil, err
	}
	modes, err := normalizeModes(p.Modes)
	if err != nil {
		return nil, err
	}

	report := &Report{Modes: modes, StartedAt: time.Now()}

	plans := make([]familyPlan, 0, len(families))
	total := 0
	for _, f := range families {
		plan := o.plan(f, modes, p)
		plans = append(plans, plan)
		total += len(plan.tasks)
	}
	if p.Observer != nil {
		p.Observer.Planned(total)
	}

	for _, plan := range plans {
		fr := FamilyReport{Family: plan.family.ID, Found: plan.found}
		o.log.Info("processing family", logging.KeyFamily, plan.family.ID, "artifacts", plan.found, "tasks", len(plan.tasks))

		for _, t := range plan.tasks {
			if ctx.Err() != nil {
				report.Cancelled = true
				break
			}
			res := o.mutator.Apply(t.artifact, t.opts)
			fr.Results = append(fr.Results, res)
			switch res.Outcome {
			case mutator.OutcomeFailed:
				fr.Failed++
			case mutator.OutcomeSkipped:
				fr.Skipped++
			default:
				fr.Succeeded++
			}
			report.Backups = append(report.Backups, res.Backups...)
			if p.Observer != nil {
				p.Observer.Applied(res)
			}
		}

		report.Families = append(report.Families, fr)
		report.Found += fr.Found
		report.Succeeded += fr.Succeeded
		report.Failed += fr.Failed
		report.Skipped += fr.Skipped
		if report.Cancelled {
			o.log.Warn("campaign cancelled", logging.KeyError, ctx.Err())
			break
		}
	}

	report.Success = report.Succeeded > 0
	report.FinishedAt = time.Now()
	return report, nil
}

// plan lists the mutations for one family in processing order: identity,
// config, database, workspace, then cache artifacts.
func (o *Orchestrator) plan(f paths.Family, modes []mutator.Mode, p Params) familyPlan {
	artifacts := o.resolver.Discover(f)
	if hasMode(modes, mutator.ModeWorkspace) {
		artifacts = append(append([]artifact.Artifact(nil), artifacts...), o.resolver.WorkspaceDirs(f, p.WorkspaceDirs)...)
	}
	if hasMode(modes, mutator.ModeCache) {
		artifacts = append(append([]artifact.Artifact(nil), artifacts...), o.resolver.CacheDirs(f)...)
	}
	sort.SliceStable(artifacts, func(i, j int) bool {
		return artifacts[i].Scope < artifacts[j].Scope
	})

	plan := familyPlan{family: f}
	for _, a := range artifacts {
		targeted := false
		for _, mode := range modes {
			if !applies(a.Scope, mode) {
				continue
			}
			targeted = true
			plan.tasks = append(plan.tasks, task{artifact: a, opts: options(a.Scope, mode, p)})
		}
		if targeted {
			plan.found++
		}
	}
	return plan
}

// applies reports whether mode handles artifacts of scope.
func applies(scope artifact.Scope, mode mutator.Mode) bool {
	switch mode {
	case mutator.ModeReplace:
		return scope == artifact.ScopeIdentity || scope == artifact.ScopeConfig || scope == artifact.ScopeDatabase
	case mutator.ModeDelete:
		return scope == artifact.ScopeDatabase
	case mutator.ModeWorkspace:
		return scope == artifact.ScopeWorkspace
	case mutator.ModeCache:
		return scope == artifact.ScopeCache
	}
	return false
}

func options(scope artifact.Scope, mode mutator.Mode, p Params) mutator.Options {
	opts := mutator.Options{Mode: mode, Backup: p.Backup}
	switch scope {
	case artifact.ScopeIdentity, artifact.ScopeConfig:
		opts.Protect = p.Protect
	default:
		opts.Protect = p.ProtectDatabases
	}
	switch mode {
	case mutator.ModeDelete:
		opts.Patterns = mutator.DeletionPatterns(p.Keywords, p.DeepPatterns, p.Deep)
	case mutator.ModeWorkspace:
		opts.Patterns = mutator.DeletionPatterns(p.Keywords, p.DeepPatterns, true)
	}
	return opts
}

func (o *Orchestrator) families(ids []string) ([]paths.Family, error) {
	if len(ids) == 0 {
		return nil, ErrNoFamilies
	}
	seen := make(map[string]bool)
	var families []paths.Family
	for _, id := range ids {
		f, ok := o.resolver.Family(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, id)
		}
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		families = append(families, f)
	}
	return families, nil
}

// normalizeModes validates and dedups modes, returning them in canonical
// order.
func normalizeModes(modes []mutator.Mode) ([]mutator.Mode, error) {
	if len(modes) == 0 {
		return nil, fmt.Errorf("%w: no modes requested", ErrUnknownMode)
	}
	var out []mutator.Mode
	for _, want := range []mutator.Mode{mutator.ModeReplace, mutator.ModeDelete, mutator.ModeWorkspace, mutator.ModeCache} {
		if hasMode(modes, want) {
			out = append(out, want)
		}
	}
	for _, m := range modes {
		if !hasMode(out, m) {
			return nil, fmt.Errorf("%w: %v", ErrUnknownMode, m)
		}
	}
	return out, nil
}

func hasMode(modes []mutator.Mode, m mutator.Mode) bool {
	for _, x := range modes {
		if x == m {
			return true
		}
	}
	return false
}

// Discover lists a family's artifacts without touching them.
func (o *Orchestrator) Discover(family string) ([]artifact.Artifact, error) {
	f, ok := o.resolver.Family(family)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, family)
	}
	artifacts := o.resolver.Discover(f)
	out := make([]artifact.Artifact, len(artifacts))
	for i, a := range artifacts {
		a.Kind = o.mutator.Classify(a.Path)
		out[i] = a
	}
	return out, nil
}

// CurrentValues reads the identifiers a family holds right now, keyed by
// artifact label (plus the field for multi-value artifacts). Artifacts that
// cannot be read are left out.
func (o *Orchestrator) CurrentValues(family string) (map[string]string, error) {
	artifacts, err := o.Discover(family)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	for _, a := range artifacts {
		fields, err := o.mutator.Peek(a)
		if err != nil {
			o.log.Debug("cannot read current value", logging.KeyPath, a.Path, logging.KeyError, err)
			continue
		}
		for field, v := range fields {
			key := a.Label
			if a.Kind != artifact.KindPlainIdentifier {
				key = a.Label + ":" + field
			}
			values[key] = v
		}
	}
	return values, nil
}
