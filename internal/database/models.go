package database

import "time"

// Item is the sample catalogue entity served under /items.
type Item struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description *string   `gorm:"type:text" json:"description"`
	Price       float64   `gorm:"not null" json:"price"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

// RetrievalLog is one audited retrieval and its threshold outcome.
type RetrievalLog struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	Collection    string `gorm:"size:255;index"`
	Query         string `gorm:"type:text"`
	Strategy      string `gorm:"size:32"`
	Mode          string `gorm:"size:32"`
	ThresholdUsed float64
	MaxScore      float64
	Retrieved     int
	Kept          int
	Valid         bool
	TrackingID    string `gorm:"size:64"`
	CreatedAt     time.Time
}

// IngestRun tracks an ingestion from start to ready or failed.
type IngestRun struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Collection string `gorm:"size:255;index"`
	Source     string `gorm:"size:1024"`
	Category   string `gorm:"size:255"`
	Status     string `gorm:"size:32"`
	Pages      int
	Chunks     int
	Error      *string `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const (
	IngestStatusProcessing = "processing"
	IngestStatusReady      = "ready"
	IngestStatusFailed     = "failed"
)
