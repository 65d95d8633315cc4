package usecase

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/broker"
)

const maxBatchSize = 1000

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// BulkSubmission is one streamed verification batch, capped at 1000 rows.
type BulkSubmission struct {
	BatchID  string                       `json:"batch_id"`
	DFID     string                       `json:"df_id"`
	Requests []domain.VerificationRequest `json:"requests"`
}

// BulkVerifier runs asynchronous bulk verification: CSV files fetched from
// the object store, and streamed batches from the bulk queue. Rows fail
// individually without aborting the batch.
type BulkVerifier struct {
	Verifier  *ConsentVerifier
	Batches   BatchRepository
	Blobs     BlobStore
	Publisher Publisher
	Now       func() time.Time
}

func (b *BulkVerifier) now() time.Time {
	if b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}

// SubmitFile stores the uploaded CSV, registers a pending batch and queues
// it for processing. Returns the batch id the caller polls.
func (b *BulkVerifier) SubmitFile(ctx context.Context, dfID string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", domain.ErrValidation)
	}
	batchID := uuid.NewString()
	fileKey := fmt.Sprintf("bulk/%s/%s.csv", dfID, batchID)
	if err := b.Blobs.Put(ctx, fileKey, data); err != nil {
		return "", fmt.Errorf("store bulk file: %w", err)
	}
	batch := domain.BulkBatch{
		BatchID:   batchID,
		DFID:      dfID,
		FileKey:   fileKey,
		Status:    domain.BatchPending,
		CreatedAt: b.now(),
	}
	if err := b.Batches.Create(ctx, batch); err != nil {
		return "", err
	}
	if err := b.Publisher.Publish(ctx, "", broker.BulkVerificationQueue, BulkSubmission{BatchID: batchID, DFID: dfID}); err != nil {
		return "", fmt.Errorf("queue bulk batch: %w", err)
	}
	return batchID, nil
}

// SubmitBatch registers and queues a streamed batch.
func (b *BulkVerifier) SubmitBatch(ctx context.Context, sub BulkSubmission) (string, error) {
	if len(sub.Requests) == 0 {
		return "", fmt.Errorf("%w: empty batch", domain.ErrValidation)
	}
	if len(sub.Requests) > maxBatchSize {
		return "", fmt.Errorf("%w: batch exceeds %d records", domain.ErrValidation, maxBatchSize)
	}
	if sub.BatchID == "" {
		sub.BatchID = uuid.NewString()
	}
	batch := domain.BulkBatch{
		BatchID:   sub.BatchID,
		DFID:      sub.DFID,
		Status:    domain.BatchPending,
		RowCount:  len(sub.Requests),
		CreatedAt: b.now(),
	}
	if err := b.Batches.Create(ctx, batch); err != nil {
		return "", err
	}
	if err := b.Publisher.Publish(ctx, "", broker.BulkVerificationQueue, sub); err != nil {
		return "", fmt.Errorf("queue bulk batch: %w", err)
	}
	return sub.BatchID, nil
}

// Process handles one queued batch: file-backed when the stored batch has a
// file key, streamed otherwise.
func (b *BulkVerifier) Process(ctx context.Context, sub BulkSubmission) error {
	batch, err := b.Batches.Get(ctx, sub.BatchID)
	if err != nil {
		return err
	}
	batch.Status = domain.BatchProcessing
	if err := b.Batches.Update(ctx, batch); err != nil {
		return err
	}

	requests := sub.Requests
	var rowErrors []domain.RowError
	if batch.FileKey != "" {
		data, err := b.Blobs.Get(ctx, batch.FileKey)
		if err != nil {
			return fmt.Errorf("fetch bulk file: %w", err)
		}
		requests, rowErrors, err = parseBulkCSV(data, batch.DFID)
		if err != nil {
			return err
		}
	}

	batch.RowCount = len(requests) + len(rowErrors)
	for _, re := range rowErrors {
		batch.Processed++
		batch.Failure++
		batch.RowErrors = append(batch.RowErrors, re)
	}
	for i, req := range requests {
		batch.Processed++
		result, err := b.Verifier.Verify(ctx, req, domain.VerificationExternal)
		switch {
		case err == nil && result.Verified:
			batch.Success++
		case err == nil:
			batch.Failure++
		case errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound):
			batch.Failure++
			batch.RowErrors = append(batch.RowErrors, domain.RowError{Row: i + 1, Message: rowMessage(err)})
		default:
			return fmt.Errorf("verify batch row: %w", err)
		}
	}

	now := b.now()
	batch.Status = domain.BatchCompleted
	batch.CompletedAt = &now
	if err := b.Batches.Update(ctx, batch); err != nil {
		return err
	}

	marker := domain.ConsentEvent{
		EventType:   domain.EventBulkVerificationDone,
		DFID:        batch.DFID,
		AgreementID: batch.BatchID,
	}
	if err := b.Publisher.Publish(ctx, broker.ConsentEventsExchange, broker.ConsentEventsKey, marker); err != nil {
		return fmt.Errorf("publish completion marker: %w", err)
	}
	return nil
}

// parseBulkCSV reads the verification CSV. Expected columns: dp_id,
// dp_system_id, dp_e, dp_m, data_elements_hash (comma-joined),
// purpose_hash. A UTF-8 BOM is tolerated. Row errors are collected, not
// fatal.
func parseBulkCSV(data []byte, dfID string) ([]domain.VerificationRequest, []domain.RowError, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: unreadable CSV header", domain.ErrValidation)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}

	field := func(record []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var requests []domain.VerificationRequest
	var rowErrors []domain.RowError
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			rowErrors = append(rowErrors, domain.RowError{Row: row, Message: "unparseable row"})
			continue
		}
		req := domain.VerificationRequest{
			RequestID:   uuid.NewString(),
			DFID:        dfID,
			DPID:        field(record, "dp_id"),
			DPSystemID:  field(record, "dp_system_id"),
			DPE:         field(record, "dp_e"),
			DPM:         field(record, "dp_m"),
			PurposeHash: field(record, "purpose_hash"),
		}
		if raw := field(record, "data_elements_hash"); raw != "" {
			for _, h := range strings.Split(raw, ",") {
				if h = strings.TrimSpace(h); h != "" {
					req.DataElementsHash = append(req.DataElementsHash, h)
				}
			}
		}
		if req.PurposeHash == "" {
			rowErrors = append(rowErrors, domain.RowError{Row: row, Message: "Either purpose_hash or purpose_id is required"})
			continue
		}
		if len(req.DataElementsHash) == 0 {
			rowErrors = append(rowErrors, domain.RowError{Row: row, Message: "data_elements_hash is required"})
			continue
		}
		requests = append(requests, req)
	}
	return requests, rowErrors, nil
}

func rowMessage(err error) string {
	msg := err.Error()
	for _, prefix := range []string{domain.ErrValidation.Error() + ": ", domain.ErrNotFound.Error() + ": "} {
		msg = strings.TrimPrefix(msg, prefix)
	}
	return msg
}
