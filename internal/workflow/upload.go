package workflow

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/finscenario/scenariomap/internal/audit"
	"github.com/finscenario/scenariomap/internal/scenario"
)

// UploadResult summarizes a batch upload. CreatedIDs is in input order and
// PrimaryID is its first element.
type UploadResult struct {
	FileName       string   `json:"fileName,omitempty"`
	CreatedIDs     []string `json:"createdIds"`
	TotalRecords   int      `json:"totalRecords"`
	SkippedRecords int      `json:"skippedRecords"`
	PrimaryID      string   `json:"primaryId,omitempty"`
	Interrupted    bool     `json:"interrupted,omitempty"`
}

// Upload parses a CSV or JSON file and processes every record. The content
// type is checked before anything is parsed. Records that fail validation or
// persistence are skipped and counted. Cancellation is honoured between
// records; a cancelled upload returns the partial result with ctx.Err().
func (s *Service) Upload(ctx context.Context, actor, filename string, data []byte, contentType string) (*UploadResult, error) {
	format, err := scenario.DetectFormat(contentType, filename)
	if err != nil {
		return nil, err
	}
	records, err := scenario.ParseBatch(data, format)
	if err != nil {
		return nil, err
	}
	if s.opts.MaxBatchRecords > 0 && len(records) > s.opts.MaxBatchRecords {
		return nil, &scenario.ValidationError{
			Field:  "file",
			Reason: fmt.Sprintf("%d records exceeds the limit of %d", len(records), s.opts.MaxBatchRecords),
		}
	}

	log := s.logger.With().Str("file", filename).Str("format", string(format)).Logger()
	log.Info().Int("records", len(records)).Msg("upload started")

	slots := make([]string, len(records))
	origin := Origin{Source: scenario.SourceUpload, FileName: filename}
	// A record that has started runs to completion even if ctx is cancelled.
	recordCtx := context.WithoutCancel(ctx)
	stopped := false
	processOne := func(i int) {
		sc, err := s.Process(recordCtx, actor, records[i], origin)
		if err != nil {
			log.Debug().Err(err).Int("position", records[i].Position).Msg("record skipped")
			return
		}
		slots[i] = sc.ID
	}

	if s.opts.BatchWorkers <= 1 {
		for i := range records {
			if ctx.Err() != nil {
				stopped = true
				break
			}
			processOne(i)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(s.opts.BatchWorkers)
		for i := range records {
			if ctx.Err() != nil {
				stopped = true
				break
			}
			i := i
			g.Go(func() error {
				processOne(i)
				return nil
			})
		}
		_ = g.Wait()
	}

	res := &UploadResult{
		FileName:     filename,
		CreatedIDs:   []string{},
		TotalRecords: len(records),
		Interrupted:  stopped,
	}
	for _, id := range slots {
		if id != "" {
			res.CreatedIDs = append(res.CreatedIDs, id)
		}
	}
	res.SkippedRecords = res.TotalRecords - len(res.CreatedIDs)
	if len(res.CreatedIDs) > 0 {
		res.PrimaryID = res.CreatedIDs[0]
	}
	s.uploads.Add(1)

	details := fmt.Sprintf("total=%d created=%d skipped=%d file=%s", res.TotalRecords, len(res.CreatedIDs), res.SkippedRecords, filename)
	s.audit.Record(recordCtx, actor, audit.ActionUploadBatch, "batch:"+filename, details)

	ev := scenario.NewEvent(scenario.EventUploaded, res.PrimaryID, actor, fmt.Sprintf("upload %q processed", filename))
	ev.Details["total"] = fmt.Sprint(res.TotalRecords)
	ev.Details["created"] = fmt.Sprint(len(res.CreatedIDs))
	ev.Details["skipped"] = fmt.Sprint(res.SkippedRecords)
	s.emit(ev)

	log.Info().Int("created", len(res.CreatedIDs)).Int("skipped", res.SkippedRecords).
		Bool("interrupted", res.Interrupted).Msg("upload finished")

	if res.Interrupted {
		return res, fmt.Errorf("upload interrupted: %w", ctx.Err())
	}
	return res, nil
}
