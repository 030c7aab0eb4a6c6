package config

// WorkerKeyStruct names the Redis lists drained by background workers.
type WorkerKeyStruct struct {
	PersistDraftsQueue    string
	SubmissionEventsQueue string
}

// Queues lists every worker queue by a short display name.
func (w *WorkerKeyStruct) Queues() map[string]string {
	return map[string]string{
		"drafts":      w.PersistDraftsQueue,
		"submissions": w.SubmissionEventsQueue,
	}
}

var WorkerKey = &WorkerKeyStruct{
	PersistDraftsQueue:    "persist_drafts_queue",
	SubmissionEventsQueue: "submission_events_queue",
}
