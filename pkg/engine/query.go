package engine

import (
	"context"
	"errors"

	"github.com/openfroyo/vpcforge/pkg/records"
)

// Query reads one record by exact name, or scans all records up to the
// configured record limit. No match is a normal result with Found false.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	kind := "all"
	if req.Name != nil {
		kind = "name"
	}

	ic := e.tel.StartOperation(ctx, "engine.query")
	res, err := e.query(ic.Ctx, req)
	ic.End(err)

	switch {
	case err != nil:
		e.tel.Metrics.RecordQuery(kind, "error")
		e.log.WithError(err).WithField("kind", kind).Error("query failed")
	case res.Found:
		e.tel.Metrics.RecordQuery(kind, "found")
	default:
		e.tel.Metrics.RecordQuery(kind, "not_found")
	}
	return res, err
}

func (e *Engine) query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if req.Name != nil {
		return e.queryByName(ctx, *req.Name, req.IncludeIncomplete)
	}
	return e.queryAll(ctx, req)
}

func (e *Engine) queryByName(ctx context.Context, name string, includeIncomplete bool) (*QueryResult, error) {
	rec, err := e.getRecord(ctx, name)
	if errors.Is(err, records.ErrNotFound) {
		return &QueryResult{Records: []*records.ResourceRecord{}}, nil
	}
	if err != nil {
		return nil, storeError("get", err)
	}
	if !rec.Ready() && !includeIncomplete {
		return &QueryResult{Records: []*records.ResourceRecord{}}, nil
	}
	return &QueryResult{Records: []*records.ResourceRecord{rec}, Found: true}, nil
}

// queryAll follows store cursors until the scan completes or MaxRecords
// records were examined.
func (e *Engine) queryAll(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	res := &QueryResult{Records: []*records.ResourceRecord{}}
	cursor := req.Cursor
	examined := 0

	for {
		limit := e.cfg.ScanPageSize
		if remaining := e.cfg.MaxRecords - examined; remaining < limit {
			limit = remaining
		}

		page, err := e.scanRecords(ctx, records.ScanOptions{Limit: limit, Cursor: cursor})
		if err != nil {
			return nil, storeError("scan", err)
		}

		examined += len(page.Records)
		for _, rec := range page.Records {
			if rec.Ready() || req.IncludeIncomplete {
				res.Records = append(res.Records, rec)
			}
		}

		cursor = page.NextCursor
		if cursor == "" {
			break
		}
		if examined >= e.cfg.MaxRecords {
			res.Truncated = true
			res.NextCursor = cursor
			e.log.WithField("max_records", e.cfg.MaxRecords).Warn("query truncated at record limit")
			break
		}
	}

	res.Found = len(res.Records) > 0
	return res, nil
}
