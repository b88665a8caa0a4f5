package recallsdk

import (
	"context"

	"github.com/imroc/req/v3"

	"github.com/deeprecall/deeprecall/internal/writebuf"
)

const v1SyncBatch = "/api/v1/sync/batch"

// BatchResponse is the server's verdict on one submitted batch. Applied and
// Errors partition the submitted change ids; Responses carries the applied
// rows for local reconciliation.
type BatchResponse struct {
	Success   bool                   `json:"success"`
	Applied   []string               `json:"applied"`
	Responses []map[string]any       `json:"responses"`
	Errors    []writebuf.ChangeError `json:"errors,omitempty"`
}

type batchRequest struct {
	Changes []*writebuf.Change `json:"changes"`
}

type SyncAPI struct {
	client *req.Client
}

func newSyncAPI(client *req.Client) *SyncAPI {
	return &SyncAPI{client: client}
}

// Submit sends one batch of changes and returns the full server verdict.
// Batch submission does not retry at the HTTP layer: the write buffer owns
// retries and an idempotent replay is cheaper than a duplicate in flight.
func (a *SyncAPI) Submit(ctx context.Context, changes []*writebuf.Change) (*BatchResponse, error) {
	var apiResp *BatchResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetBody(&batchRequest{Changes: changes}).
		SetSuccessResult(&apiResp).
		Post(v1SyncBatch)

	if err := handleAPIError(resp, err, "sync batch"); err != nil {
		return nil, err
	}

	return apiResp, nil
}

// SubmitBatch adapts Submit to the write buffer's Submitter contract.
func (a *SyncAPI) SubmitBatch(ctx context.Context, changes []*writebuf.Change) (*writebuf.SubmitResult, error) {
	resp, err := a.Submit(ctx, changes)
	if err != nil {
		return nil, err
	}
	return &writebuf.SubmitResult{
		Applied: resp.Applied,
		Errors:  resp.Errors,
	}, nil
}

var _ writebuf.Submitter = (*SyncAPI)(nil)
