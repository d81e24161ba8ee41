package domain

// FailedBatch records one upsert batch that permanently failed, with the IDs
// it contained so the caller can re-drive them.
type FailedBatch struct {
	RecordIDs []string `json:"record_ids"`
	Error     string   `json:"error"`
}

// UpsertReport aggregates the outcome of a batched upsert. Partial failure is
// reported here, not raised: a failed batch never blocks the ones after it.
type UpsertReport struct {
	Attempted     int           `json:"attempted"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	FailedBatches []FailedBatch `json:"failed_batches,omitempty"`
}

// Add merges another report into r. Reports are merged at a single
// aggregation point, never concurrently.
func (r *UpsertReport) Add(o UpsertReport) {
	r.Attempted += o.Attempted
	r.Succeeded += o.Succeeded
	r.Failed += o.Failed
	r.FailedBatches = append(r.FailedBatches, o.FailedBatches...)
}

// DocumentFailure records one document skipped by the pipeline.
type DocumentFailure struct {
	DocumentID string `json:"document_id"`
	Stage      string `json:"stage"` // "chunk", "embed" or "upsert"
	Error      string `json:"error"`
}

// RunReport is the user-visible outcome of one pipeline run. The run always
// completes and reports counts; only configuration errors and a first-call
// permanent provider error abort it outright.
type RunReport struct {
	RunID            string            `json:"run_id"`
	Documents        int               `json:"documents"`
	DocumentsFailed  int               `json:"documents_failed"`
	Chunks           int               `json:"chunks"`
	RecordsUpserted  int               `json:"records_upserted"`
	RecordsFailed    int               `json:"records_failed"`
	FailedDocuments  []DocumentFailure `json:"failed_documents,omitempty"`
	FailedBatches    []FailedBatch     `json:"failed_batches,omitempty"`
}
