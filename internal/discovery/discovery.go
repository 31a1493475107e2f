// Package discovery finds the scans to export: it lists projects, infers each
// project's branches from its scan history, and selects the newest scan per
// branch that carries SCA results.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/scaggregator/internal/apiclient"
	"github.com/ppiankov/scaggregator/internal/ledger"
	"github.com/ppiankov/scaggregator/internal/logging"
	"github.com/ppiankov/scaggregator/internal/models"
	"github.com/ppiankov/scaggregator/internal/progress"
	"github.com/ppiankov/scaggregator/internal/workpool"
)

// ScanSource is the slice of the platform API discovery needs.
type ScanSource interface {
	ListProjectsPage(ctx context.Context, limit, offset int) (apiclient.ProjectPage, error)
	ListScansPage(ctx context.Context, q apiclient.ScanQuery, limit, offset int) (apiclient.ScanPage, error)
	PackageCount(ctx context.Context, scanID string) (int, error)
}

// Options sizes pages and worker pools.
type Options struct {
	PageSize      int
	BranchWorkers int
	ScanWorkers   int
}

// Discoverer runs the discovery stages. Per-entity failures go to the ledger;
// only fatal errors and cancellation are returned.
type Discoverer struct {
	src      ScanSource
	ledger   *ledger.Ledger
	log      *logging.Logger
	opts     Options
	observer progress.Observer
}

// New creates a Discoverer.
func New(src ScanSource, l *ledger.Ledger, log *logging.Logger, opts Options) *Discoverer {
	if log == nil {
		log = logging.Nop()
	}
	if opts.PageSize < 1 {
		opts.PageSize = 100
	}
	return &Discoverer{
		src:      src,
		ledger:   l,
		log:      log,
		opts:     opts,
		observer: progress.Nop{},
	}
}

// SetObserver routes stage progress to o.
func (d *Discoverer) SetObserver(o progress.Observer) {
	if o == nil {
		o = progress.Nop{}
	}
	d.observer = o
}

// Projects lists every project. Entries without an id are skipped with a
// warning; duplicate ids are dropped.
func (d *Discoverer) Projects(ctx context.Context) ([]models.ProjectRef, error) {
	var projects []models.ProjectRef
	seen := make(map[string]bool)
	skipped := 0

	d.observer.Start("Discovering projects", 0)
	defer d.observer.Done()

	_, err := apiclient.Paginate(ctx, d.opts.PageSize, func(ctx context.Context, limit, offset int) (int, int, bool, error) {
		page, err := d.src.ListProjectsPage(ctx, limit, offset)
		if err != nil {
			return 0, -1, false, err
		}
		skipped += page.Skipped
		for _, p := range page.Projects {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			projects = append(projects, p)
		}
		received := len(page.Projects) + page.Skipped
		d.observer.Update(received)
		return received, page.Total, false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover projects: %w", err)
	}

	if skipped > 0 {
		d.ledger.Warning("project discovery", fmt.Sprintf("skipped %d project entries without an id", skipped))
	}
	return projects, nil
}

// Branches infers the distinct branches of every project from its scans.
// The result is sorted by project name then branch name.
func (d *Discoverer) Branches(ctx context.Context, projects []models.ProjectRef) ([]models.BranchRef, error) {
	d.observer.Start("Discovering branches", len(projects))
	defer d.observer.Done()

	perProject, err := workpool.Map(ctx, d.opts.BranchWorkers, projects,
		func(ctx context.Context, p models.ProjectRef) ([]models.BranchRef, bool, error) {
			defer d.observer.Update(1)
			d.observer.SetContext(progress.Fields{"project": p.Name})

			branches, err := d.projectBranches(ctx, p)
			if err != nil {
				if apiclient.IsFatal(err) || ctx.Err() != nil {
					return nil, false, err
				}
				d.ledger.BranchDiscoveryError(p, err)
				return nil, false, nil
			}
			d.log.Debug("project %s: %d branches", p.Name, len(branches))
			return branches, len(branches) > 0, nil
		})
	if err != nil {
		return nil, err
	}

	var out []models.BranchRef
	for _, bs := range perProject {
		out = append(out, bs...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProjectName != out[j].ProjectName {
			return out[i].ProjectName < out[j].ProjectName
		}
		if out[i].ProjectID != out[j].ProjectID {
			return out[i].ProjectID < out[j].ProjectID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (d *Discoverer) projectBranches(ctx context.Context, p models.ProjectRef) ([]models.BranchRef, error) {
	seen := make(map[string]bool)
	var branches []models.BranchRef

	_, err := apiclient.Paginate(ctx, d.opts.PageSize, func(ctx context.Context, limit, offset int) (int, int, bool, error) {
		page, err := d.src.ListScansPage(ctx, apiclient.ScanQuery{ProjectID: p.ID}, limit, offset)
		if err != nil {
			return 0, -1, false, err
		}
		for _, s := range page.Scans {
			name := strings.TrimSpace(s.Branch)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			branches = append(branches, models.BranchRef{ProjectID: p.ID, ProjectName: p.Name, Name: name})
		}
		return len(page.Scans), page.Total, false, nil
	})
	if err != nil {
		return nil, err
	}
	return branches, nil
}

// SelectScans picks at most one scan per branch, sorted like Branches. Branches without a
// qualifying scan and branches whose lookup failed are recorded separately in
// the ledger.
func (d *Discoverer) SelectScans(ctx context.Context, branches []models.BranchRef) ([]models.ScanRef, error) {
	d.observer.Start("Finding SCA scans", len(branches))
	defer d.observer.Done()

	scans, err := workpool.Map(ctx, d.opts.ScanWorkers, branches,
		func(ctx context.Context, b models.BranchRef) (models.ScanRef, bool, error) {
			defer d.observer.Update(1)
			d.observer.SetContext(progress.Fields{"project": b.ProjectName, "branch": b.Name})

			scan, found, err := d.SelectScan(ctx, b)
			if err != nil {
				if apiclient.IsFatal(err) || ctx.Err() != nil {
					return models.ScanRef{}, false, err
				}
				d.ledger.ScanDiscoveryError(b, err)
				return models.ScanRef{}, false, nil
			}
			if !found {
				d.ledger.NoSCAScan(b, "no SCA scan found")
				return models.ScanRef{}, false, nil
			}
			d.log.Debug("%s: selected scan %s (%s)", b, scan.ScanID, scan.CreatedAt)
			return scan, true, nil
		})
	if err != nil {
		return nil, err
	}

	sort.Slice(scans, func(i, j int) bool {
		if scans[i].ProjectName != scans[j].ProjectName {
			return scans[i].ProjectName < scans[j].ProjectName
		}
		if scans[i].ProjectID != scans[j].ProjectID {
			return scans[i].ProjectID < scans[j].ProjectID
		}
		return scans[i].BranchName < scans[j].BranchName
	})
	return scans, nil
}

// SelectScan walks the branch's completed and partial scans newest first and
// returns the first one that qualifies.
func (d *Discoverer) SelectScan(ctx context.Context, b models.BranchRef) (models.ScanRef, bool, error) {
	var selected models.ScanRef
	found := false

	query := apiclient.ScanQuery{
		ProjectID: b.ProjectID,
		Branch:    b.Name,
		Statuses:  []string{models.ScanStatusCompleted, models.ScanStatusPartial},
		Sort:      "-created_at",
	}

	_, err := apiclient.Paginate(ctx, d.opts.PageSize, func(ctx context.Context, limit, offset int) (int, int, bool, error) {
		page, err := d.src.ListScansPage(ctx, query, limit, offset)
		if err != nil {
			return 0, -1, false, err
		}
		for _, s := range page.Scans {
			ok, err := d.qualifies(ctx, s)
			if err != nil {
				return 0, -1, false, err
			}
			if ok {
				selected = models.ScanRef{
					ScanID:      s.ID,
					ProjectID:   b.ProjectID,
					ProjectName: b.ProjectName,
					BranchName:  b.Name,
					CreatedAt:   s.CreatedAt,
				}
				found = true
				return len(page.Scans), page.Total, true, nil
			}
		}
		return len(page.Scans), page.Total, false, nil
	})
	if err != nil {
		return models.ScanRef{}, false, fmt.Errorf("select scan for %s: %w", b, err)
	}
	return selected, found, nil
}

// qualifies applies the SCA predicate. Missing status breakdowns and
// unreadable package counts reject the scan.
func (d *Discoverer) qualifies(ctx context.Context, s models.ScanRecord) (bool, error) {
	if !s.HasEngine(models.EngineSCA) {
		return false, nil
	}

	switch {
	case strings.EqualFold(s.Status, models.ScanStatusCompleted):
	case strings.EqualFold(s.Status, models.ScanStatusPartial):
		if !s.EngineCompleted(models.EngineSCA) {
			d.log.Debug("scan %s: partial without completed SCA engine", s.ID)
			return false, nil
		}
	default:
		return false, nil
	}

	count, err := d.src.PackageCount(ctx, s.ID)
	if err != nil {
		if errors.Is(err, apiclient.ErrUnrecognizedShape) {
			d.log.Debug("scan %s: unreadable package count, treating as empty: %v", s.ID, err)
			return false, nil
		}
		return false, err
	}
	if count <= 0 {
		d.log.Debug("scan %s: no SCA packages", s.ID)
		return false, nil
	}
	return true, nil
}
