package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ppiankov/scaggregator/internal/models"
)

// listEnvelope normalizes the two layouts listing endpoints use: a bare JSON
// array, or an object holding the array under one of keys with an optional
// totalCount. total is -1 when the server did not report it.
func listEnvelope(data []byte, keys ...string) (items []json.RawMessage, total int, err error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, -1, fmt.Errorf("%w: empty body", ErrUnrecognizedShape)
	}

	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, -1, fmt.Errorf("%w: %v", ErrUnrecognizedShape, err)
		}
		return items, -1, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, -1, fmt.Errorf("%w: %v", ErrUnrecognizedShape, err)
		}
		total = -1
		if raw, ok := obj["totalCount"]; ok {
			var n int
			if json.Unmarshal(raw, &n) == nil {
				total = n
			}
		}
		for _, key := range keys {
			raw, ok := obj[key]
			if !ok {
				continue
			}
			if string(raw) == "null" {
				return nil, total, nil
			}
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, -1, fmt.Errorf("%w: field %q: %v", ErrUnrecognizedShape, key, err)
			}
			return items, total, nil
		}
		return nil, -1, fmt.Errorf("%w: none of %v present", ErrUnrecognizedShape, keys)
	}
	return nil, -1, fmt.Errorf("%w: unexpected leading %q", ErrUnrecognizedShape, data[0])
}

type rawProject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// engineName accepts either "sca" or {"name":"sca"}.
type engineName string

func (e *engineName) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*e = engineName(s)
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(b, &obj); err != nil || obj.Name == "" {
		return fmt.Errorf("%w: engine entry %s", ErrUnrecognizedShape, string(b))
	}
	*e = engineName(obj.Name)
	return nil
}

type rawEngineStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type rawScan struct {
	ID            string            `json:"id"`
	ProjectID     string            `json:"projectId"`
	Branch        string            `json:"branch"`
	Status        string            `json:"status"`
	Engines       []engineName      `json:"engines"`
	CreatedAt     string            `json:"createdAt"`
	StatusDetails []rawEngineStatus `json:"statusDetails"`
}

func (r rawScan) toModel() models.ScanRecord {
	rec := models.ScanRecord{
		ID:        r.ID,
		ProjectID: r.ProjectID,
		Branch:    r.Branch,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
	}
	for _, e := range r.Engines {
		rec.Engines = append(rec.Engines, string(e))
	}
	for _, d := range r.StatusDetails {
		rec.StatusDetails = append(rec.StatusDetails, models.EngineStatus{Name: d.Name, Status: d.Status})
	}
	return rec
}

var exportIDKeys = []string{"exportId", "ExportId", "exportID", "ExportID", "id", "Id"}

// decodeExportID finds the export identifier under any of its known casings.
func decodeExportID(data []byte) (string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(data), &obj); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnrecognizedShape, err)
	}
	for _, key := range exportIDKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		if id := scalarString(raw); id != "" {
			return id, nil
		}
	}
	return "", ErrNoExportID
}

func scalarString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

// ExportStatus is the normalized export status response.
type ExportStatus struct {
	Status       string
	FileURL      string
	ErrorMessage string
}

func decodeExportStatus(data []byte) (ExportStatus, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(data), &obj); err != nil {
		return ExportStatus{}, fmt.Errorf("%w: %v", ErrUnrecognizedShape, err)
	}

	var st ExportStatus
	raw, ok := obj["exportStatus"]
	if !ok {
		raw, ok = obj["status"]
	}
	if !ok {
		return ExportStatus{}, fmt.Errorf("%w: no exportStatus field", ErrUnrecognizedShape)
	}
	st.Status = scalarString(raw)
	if v, ok := obj["fileUrl"]; ok {
		st.FileURL = scalarString(v)
	}
	if v, ok := obj["errorMessage"]; ok {
		st.ErrorMessage = scalarString(v)
	}
	return st, nil
}

type rawScanSummary struct {
	ScanID      string `json:"scanId"`
	SCACounters *struct {
		TotalCounter json.RawMessage `json:"totalCounter"`
	} `json:"scaPackagesCounters"`
}

// decodePackageCount extracts the SCA package total for scanID.
func decodePackageCount(data []byte, scanID string) (int, error) {
	var body struct {
		Summaries []rawScanSummary `json:"scansSummaries"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(data), &body); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnrecognizedShape, err)
	}
	for _, s := range body.Summaries {
		if s.ScanID != "" && s.ScanID != scanID {
			continue
		}
		if s.SCACounters == nil || len(s.SCACounters.TotalCounter) == 0 {
			return 0, fmt.Errorf("%w: no scaPackagesCounters for scan %s", ErrUnrecognizedShape, scanID)
		}
		n, err := strconv.Atoi(scalarString(s.SCACounters.TotalCounter))
		if err != nil {
			return 0, fmt.Errorf("%w: totalCounter: %v", ErrUnrecognizedShape, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: scan %s not in summary", ErrUnrecognizedShape, scanID)
}
