package models

import "time"

// Batch lifecycle states
const (
	BatchStatusPending    = "pending"
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
)

// Document states
const (
	DocumentStatusPending   = "pending"
	DocumentStatusCompleted = "completed"
	DocumentStatusInvalid   = "invalid"
	DocumentStatusFailed    = "failed"
	DocumentStatusSkipped   = "skipped"
)

// SentimentBatch groups documents submitted together to the sentiment API
type SentimentBatch struct {
	ID              uint        `gorm:"primaryKey" json:"id"`
	BatchID         string      `gorm:"size:64;uniqueIndex;not null" json:"batch_id"`
	Status          string      `gorm:"size:16;index;not null" json:"status"`
	Platform        Platform    `gorm:"size:32;index" json:"platform"`
	KeywordCategory string      `gorm:"size:64" json:"keyword_category"`
	ProcessingDate  string      `gorm:"size:10;index" json:"processing_date"`
	Priority        Priority    `gorm:"size:16" json:"priority"`
	Stats           *BatchStats `gorm:"type:text;serializer:json" json:"stats,omitempty"`

	TotalDocuments     int `json:"total_documents"`
	ProcessedDocuments int `json:"processed_documents"`
	FailedDocuments    int `json:"failed_documents"`
	InvalidDocuments   int `json:"invalid_documents"`
	SkippedDocuments   int `json:"skipped_documents"`

	ProcessingCost   float64 `json:"processing_cost"`
	CostLimit        float64 `json:"cost_limit"`
	CostLimitReached bool    `json:"cost_limit_reached"`
	ErrorMessage     string  `gorm:"type:text" json:"error_message,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"index" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName overrides the default table name
func (SentimentBatch) TableName() string {
	return "sentiment_batches"
}

// BatchStats is derived after a batch finishes
type BatchStats struct {
	SuccessRate     float64 `json:"success_rate"`
	CostPerDocument float64 `json:"cost_per_document"`
	AvgSentiment    float64 `json:"avg_sentiment"`
	AvgMagnitude    float64 `json:"avg_magnitude"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// SentimentBatchDocument is a single text inside a batch and its analysis result
type SentimentBatchDocument struct {
	ID               uint     `gorm:"primaryKey" json:"id"`
	SentimentBatchID uint     `gorm:"index;not null" json:"sentiment_batch_id"`
	DocumentIndex    int      `json:"document_index"`
	PostID           *uint    `gorm:"index" json:"post_id,omitempty"`
	Platform         Platform `gorm:"size:32;index:idx_doc_day" json:"platform"`
	KeywordCategory  string   `gorm:"size:64;index:idx_doc_day" json:"keyword_category"`
	ProcessingDate   string   `gorm:"size:10;index:idx_doc_day" json:"processing_date"`
	Keywords         []string `gorm:"type:text;serializer:json" json:"keywords"`
	Text             string   `gorm:"type:text" json:"text"`
	Engagement       int64    `json:"engagement"`

	PostedAt time.Time `json:"posted_at"`

	Status          string   `gorm:"size:16;index" json:"status"`
	SentimentScore  *float64 `json:"sentiment_score,omitempty"`
	Magnitude       *float64 `json:"magnitude,omitempty"`
	Label           string   `gorm:"size:16" json:"label,omitempty"`
	Confidence      float64  `json:"confidence"`
	Language        string   `gorm:"size:16" json:"language,omitempty"`
	Cost            float64  `json:"cost"`
	Valid           bool     `json:"valid"`
	ValidationError string   `gorm:"type:text" json:"validation_error,omitempty"`
	ErrorMessage    string   `gorm:"type:text" json:"error_message,omitempty"`
	Attempts        int      `json:"attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the default table name
func (SentimentBatchDocument) TableName() string {
	return "sentiment_batch_documents"
}
