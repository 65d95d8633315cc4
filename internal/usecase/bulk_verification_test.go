package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/broker"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/brokermem"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/memstore"
	"github.com/gawravmehta/sahaj-os-sub001/internal/usecase"
)

type bulkFixture struct {
	bulk    *usecase.BulkVerifier
	verify  *verifyFixture
	batches *memstore.BatchRepo
	blobs   *memstore.BlobStore
	pub     *brokermem.Publisher
}

func newBulkFixture() *bulkFixture {
	vf := newVerifyFixture()
	batches := memstore.NewBatchRepo()
	blobs := memstore.NewBlobStore()
	pub := brokermem.New()
	return &bulkFixture{
		bulk: &usecase.BulkVerifier{
			Verifier:  vf.verifier,
			Batches:   batches,
			Blobs:     blobs,
			Publisher: pub,
		},
		verify:  vf,
		batches: batches,
		blobs:   blobs,
		pub:     pub,
	}
}

func TestBulkSubmitFileStoresAndQueues(t *testing.T) {
	f := newBulkFixture()
	ctx := context.Background()

	batchID, err := f.bulk.SubmitFile(ctx, "df-1", []byte("dp_id,data_elements_hash,purpose_hash\n"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	batch, err := f.batches.Get(ctx, batchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.Status != domain.BatchPending {
		t.Fatalf("status %s", batch.Status)
	}
	if batch.FileKey == "" {
		t.Fatal("file key not recorded")
	}
	if _, err := f.blobs.Get(ctx, batch.FileKey); err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	if len(f.pub.To(broker.BulkVerificationQueue)) != 1 {
		t.Fatal("batch not queued")
	}
}

func TestBulkSubmitFileRejectsEmpty(t *testing.T) {
	f := newBulkFixture()
	if _, err := f.bulk.SubmitFile(context.Background(), "df-1", nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBulkSubmitBatchCapsSize(t *testing.T) {
	f := newBulkFixture()
	requests := make([]domain.VerificationRequest, 1001)
	_, err := f.bulk.SubmitBatch(context.Background(), usecase.BulkSubmission{DFID: "df-1", Requests: requests})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "1000") {
		t.Fatalf("error %q does not state the cap", err)
	}
}

func TestBulkProcessStreamedBatch(t *testing.T) {
	f := newBulkFixture()
	ctx := context.Background()
	f.verify.publishedArtifact(t, "agreement-1", 1, "")

	sub := usecase.BulkSubmission{
		DFID: "df-1",
		Requests: []domain.VerificationRequest{
			// Verifies.
			{RequestID: "r1", DFID: "df-1", DPID: "dp-1", DataElementsHash: []string{deHash("email")}, PurposeHash: deHash("marketing")},
			// Denied purpose: counted as failure, no row error.
			{RequestID: "r2", DFID: "df-1", DPID: "dp-1", DataElementsHash: []string{deHash("email")}, PurposeHash: deHash("billing")},
			// Unknown principal: failure with a row error.
			{RequestID: "r3", DFID: "df-1", DPID: "dp-unknown", DataElementsHash: []string{deHash("email")}, PurposeHash: deHash("marketing")},
		},
	}
	batchID, err := f.bulk.SubmitBatch(ctx, sub)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	sub.BatchID = batchID

	if err := f.bulk.Process(ctx, sub); err != nil {
		t.Fatalf("process: %v", err)
	}

	batch, err := f.batches.Get(ctx, batchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.Status != domain.BatchCompleted {
		t.Fatalf("status %s", batch.Status)
	}
	if batch.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	if batch.Processed != 3 || batch.Success != 1 || batch.Failure != 2 {
		t.Fatalf("counters processed=%d success=%d failure=%d", batch.Processed, batch.Success, batch.Failure)
	}
	if len(batch.RowErrors) != 1 {
		t.Fatalf("row errors %v", batch.RowErrors)
	}

	markers := f.pub.To(broker.ConsentEventsKey)
	if len(markers) != 1 {
		t.Fatalf("expected 1 completion marker, got %d", len(markers))
	}
	var marker domain.ConsentEvent
	if err := json.Unmarshal(markers[0].Body, &marker); err != nil {
		t.Fatalf("decode marker: %v", err)
	}
	if marker.EventType != domain.EventBulkVerificationDone || marker.AgreementID != batchID {
		t.Fatalf("marker %+v", marker)
	}
}

func TestBulkProcessFileBackedBatch(t *testing.T) {
	f := newBulkFixture()
	ctx := context.Background()
	f.verify.publishedArtifact(t, "agreement-1", 1, "")

	csvData := fmt.Sprintf(
		"dp_id,dp_system_id,dp_e,dp_m,data_elements_hash,purpose_hash\n"+
			"dp-1,,,,%s,%s\n"+ // verifies
			"dp-1,,,,%s,\n"+ // missing purpose hash
			"dp-1,,,,,%s\n", // missing data elements
		deHash("email"), deHash("marketing"),
		deHash("email"),
		deHash("marketing"),
	)
	// Files commonly arrive with a BOM from spreadsheet exports.
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte(csvData)...)

	batchID, err := f.bulk.SubmitFile(ctx, "df-1", data)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.bulk.Process(ctx, usecase.BulkSubmission{BatchID: batchID}); err != nil {
		t.Fatalf("process: %v", err)
	}

	batch, err := f.batches.Get(ctx, batchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.RowCount != 3 {
		t.Fatalf("row count %d", batch.RowCount)
	}
	if batch.Success != 1 || batch.Failure != 2 {
		t.Fatalf("counters success=%d failure=%d", batch.Success, batch.Failure)
	}
	messages := map[string]bool{}
	for _, re := range batch.RowErrors {
		messages[re.Message] = true
	}
	if !messages["Either purpose_hash or purpose_id is required"] {
		t.Fatalf("missing purpose row error, got %v", batch.RowErrors)
	}
	if !messages["data_elements_hash is required"] {
		t.Fatalf("missing data elements row error, got %v", batch.RowErrors)
	}
}

func TestBulkProcessUnknownBatch(t *testing.T) {
	f := newBulkFixture()
	err := f.bulk.Process(context.Background(), usecase.BulkSubmission{BatchID: "nope"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
