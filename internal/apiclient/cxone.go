package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ppiankov/scaggregator/internal/models"
)

// ScanQuery filters a scan listing. Zero fields are not sent.
type ScanQuery struct {
	ProjectID string
	Branch    string
	Statuses  []string
	Sort      string
}

// ScanPage is one page of a scan listing. Total is -1 when unreported.
type ScanPage struct {
	Scans []models.ScanRecord
	Total int
}

// ProjectPage is one page of the project listing. Skipped entries still
// count toward the page size.
type ProjectPage struct {
	Projects []models.ProjectRef
	Skipped  int
	Total    int
}

// ListProjectsPage fetches one page of projects. Entries without an id are
// skipped and counted.
func (c *Client) ListProjectsPage(ctx context.Context, limit, offset int) (ProjectPage, error) {
	data, err := c.getJSON(ctx, "/api/projects", pageQuery(limit, offset))
	if err != nil {
		return ProjectPage{}, fmt.Errorf("list projects: %w", err)
	}

	items, total, err := listEnvelope(data, "projects", "items")
	if err != nil {
		return ProjectPage{}, fmt.Errorf("list projects: %w", err)
	}

	page := ProjectPage{Total: total}
	for _, raw := range items {
		var p rawProject
		if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
			page.Skipped++
			continue
		}
		page.Projects = append(page.Projects, models.ProjectRef{ID: p.ID, Name: p.Name})
	}
	return page, nil
}

// ListScansPage fetches one page of scans matching q.
func (c *Client) ListScansPage(ctx context.Context, q ScanQuery, limit, offset int) (ScanPage, error) {
	query := pageQuery(limit, offset)
	if q.ProjectID != "" {
		query.Set("project-id", q.ProjectID)
	}
	if q.Branch != "" {
		query.Set("branch", q.Branch)
	}
	for _, s := range q.Statuses {
		query.Add("statuses", s)
	}
	if q.Sort != "" {
		query.Set("sort", q.Sort)
	}

	data, err := c.getJSON(ctx, "/api/scans", query)
	if err != nil {
		return ScanPage{}, fmt.Errorf("list scans: %w", err)
	}

	items, total, err := listEnvelope(data, "scans", "items")
	if err != nil {
		return ScanPage{}, fmt.Errorf("list scans: %w", err)
	}

	page := ScanPage{Total: total, Scans: make([]models.ScanRecord, 0, len(items))}
	for _, raw := range items {
		var s rawScan
		if err := json.Unmarshal(raw, &s); err != nil {
			return ScanPage{}, fmt.Errorf("list scans: decode scan: %w", err)
		}
		rec := s.toModel()
		if rec.ProjectID == "" {
			rec.ProjectID = q.ProjectID
		}
		page.Scans = append(page.Scans, rec)
	}
	return page, nil
}

// PackageCount returns the SCA package total reported for scanID. A body it
// cannot interpret yields an error wrapping ErrUnrecognizedShape.
func (c *Client) PackageCount(ctx context.Context, scanID string) (int, error) {
	data, err := c.getJSON(ctx, "/api/scan-summary", url.Values{"scan-ids": {scanID}})
	if err != nil {
		return 0, fmt.Errorf("scan summary %s: %w", scanID, err)
	}
	n, err := decodePackageCount(data, scanID)
	if err != nil {
		return 0, fmt.Errorf("scan summary %s: %w", scanID, err)
	}
	return n, nil
}

type exportRequest struct {
	ScanID     string `json:"ScanId"`
	FileFormat string `json:"FileFormat"`
}

// RequestExport asks the platform to export scanID's report and returns the
// export id.
func (c *Client) RequestExport(ctx context.Context, scanID, fileFormat string) (string, error) {
	data, err := c.postJSON(ctx, "/api/sca/export/requests",
		exportRequest{ScanID: scanID, FileFormat: fileFormat}, exportAccept)
	if err != nil {
		return "", fmt.Errorf("request export: %w", err)
	}
	id, err := decodeExportID(data)
	if err != nil {
		return "", fmt.Errorf("request export: %w", err)
	}
	return id, nil
}

// ExportStatus returns the current status of an export.
func (c *Client) ExportStatus(ctx context.Context, exportID string) (ExportStatus, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/sca/export/requests",
		query:  url.Values{"exportId": {exportID}},
		accept: exportAccept,
	})
	if err != nil {
		return ExportStatus{}, fmt.Errorf("export status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ExportStatus{}, fmt.Errorf("export status: read: %w", err)
	}
	st, err := decodeExportStatus(data)
	if err != nil {
		return ExportStatus{}, fmt.Errorf("export status: %w", err)
	}
	return st, nil
}

// Download streams the file at path (relative to the base URL) into dst and
// returns the number of bytes written.
func (c *Client) Download(ctx context.Context, path string, dst io.Writer) (int64, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: path, accept: "*/*"})
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download: copy body: %w", err)
	}
	return n, nil
}

// DefaultDownloadPath is the download location used when a completed export
// carries no file URL.
func DefaultDownloadPath(exportID string) string {
	return "/api/sca/export/requests/" + url.PathEscape(exportID) + "/download"
}

func pageQuery(limit, offset int) url.Values {
	return url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
}
