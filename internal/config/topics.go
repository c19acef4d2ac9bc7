package config

const (
	// TopicIngestTask is the NSQ topic for document ingestion tasks.
	TopicIngestTask = "ingest.task"
)
