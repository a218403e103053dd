package db

import (
	"encoding/json"
	"time"
)

// Discovery review statuses.
const (
	StatusPendingMetadata = "pending_metadata"
	StatusPendingContent  = "pending_content"
	StatusApproved        = "approved"
	StatusRejected        = "rejected"
)

// DiscoveredSource maps curator.discovered_sources. The primary key is the
// content hash of the normalized URL, so re-discovering a URL is a no-op.
type DiscoveredSource struct {
	DiscoveryID        string          `gorm:"column:discovery_id;type:text;primaryKey"`
	URL                string          `gorm:"column:url;type:text;not null"`
	Title              string          `gorm:"column:title;type:text;not null"`
	DiscoveryMethod    string          `gorm:"column:discovery_method;type:text;not null"`
	DiscoveredAt       time.Time       `gorm:"column:discovered_at;type:timestamptz;not null;default:now()"`
	DiscoveredFrom     string          `gorm:"column:discovered_from;type:text;not null"`
	Status             string          `gorm:"column:status;type:text;not null;default:pending_metadata;index:idx_discovered_status_time,priority:1"`
	MetadataConfidence *float64        `gorm:"column:metadata_confidence;type:double precision"`
	ContentConfidence  *float64        `gorm:"column:content_confidence;type:double precision"`
	CombinedConfidence *float64        `gorm:"column:combined_confidence;type:double precision"`
	DocumentType       *string         `gorm:"column:document_type;type:text"`
	TopicDomains       json.RawMessage `gorm:"column:topic_domains;type:jsonb"`
	NGBID              *string         `gorm:"column:ngb_id;type:text"`
	Priority           *string         `gorm:"column:priority;type:text"`
	Description        *string         `gorm:"column:description;type:text"`
	KeyTopics          json.RawMessage `gorm:"column:key_topics;type:jsonb"`
	AuthorityLevel     *string         `gorm:"column:authority_level;type:text"`
	Language           *string         `gorm:"column:language;type:text"`
	MetadataReasoning  *string         `gorm:"column:metadata_reasoning;type:text"`
	ContentReasoning   *string         `gorm:"column:content_reasoning;type:text"`
	ReviewedAt         *time.Time      `gorm:"column:reviewed_at;type:timestamptz;index:idx_discovered_status_time,priority:2"`
	ReviewedBy         *string         `gorm:"column:reviewed_by;type:text"`
	RejectionReason    *string         `gorm:"column:rejection_reason;type:text"`
	SourceConfigID     *string         `gorm:"column:source_config_id;type:text"`
	CreatedAt          time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (DiscoveredSource) TableName() string { return "curator.discovered_sources" }

// SourceConfig maps curator.source_configs, the managed ingestion catalog.
type SourceConfig struct {
	SourceID            string          `gorm:"column:source_id;type:text;primaryKey"`
	Title               string          `gorm:"column:title;type:text;not null"`
	DocumentType        string          `gorm:"column:document_type;type:text;not null"`
	TopicDomains        json.RawMessage `gorm:"column:topic_domains;type:jsonb"`
	URL                 string          `gorm:"column:url;type:text;not null"`
	Format              string          `gorm:"column:format;type:text;not null;default:html"`
	NGBID               *string         `gorm:"column:ngb_id;type:text;index:idx_source_configs_ngb"`
	Priority            string          `gorm:"column:priority;type:text;not null;default:medium"`
	Description         *string         `gorm:"column:description;type:text"`
	AuthorityLevel      string          `gorm:"column:authority_level;type:text;not null;default:unknown"`
	Enabled             bool            `gorm:"column:enabled;type:boolean;not null;default:true;index:idx_source_configs_enabled"`
	LastIngestedAt      *time.Time      `gorm:"column:last_ingested_at;type:timestamptz"`
	LastContentHash     *string         `gorm:"column:last_content_hash;type:text"`
	ConsecutiveFailures int             `gorm:"column:consecutive_failures;type:integer;not null;default:0"`
	LastError           *string         `gorm:"column:last_error;type:text"`
	BlobLocator         *string         `gorm:"column:blob_locator;type:text"`
	CreatedAt           time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt           time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (SourceConfig) TableName() string { return "curator.source_configs" }

// UsageMetric maps curator.usage_metrics, one counter bucket per
// (service, period, bucket_date).
type UsageMetric struct {
	Service      string    `gorm:"column:service;type:text;primaryKey"`
	Period       string    `gorm:"column:period;type:text;primaryKey"`
	BucketDate   string    `gorm:"column:bucket_date;type:text;primaryKey"`
	CallCount    int64     `gorm:"column:call_count;type:bigint;not null;default:0"`
	SearchCount  int64     `gorm:"column:search_count;type:bigint;not null;default:0"`
	MapCount     int64     `gorm:"column:map_count;type:bigint;not null;default:0"`
	InputTokens  int64     `gorm:"column:input_tokens;type:bigint;not null;default:0"`
	OutputTokens int64     `gorm:"column:output_tokens;type:bigint;not null;default:0"`
	CostUSD      float64   `gorm:"column:cost_usd;type:double precision;not null;default:0"`
	UpdatedAt    time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (UsageMetric) TableName() string { return "curator.usage_metrics" }

// Chunk maps curator.chunks, keyed by (source_id, position).
type Chunk struct {
	SourceID       string          `gorm:"column:source_id;type:text;primaryKey"`
	Position       int             `gorm:"column:position;type:integer;primaryKey"`
	Content        string          `gorm:"column:content;type:text;not null"`
	Score          float64         `gorm:"column:score;type:double precision;not null;default:0"`
	DocumentTitle  string          `gorm:"column:document_title;type:text;not null"`
	AuthorityLevel string          `gorm:"column:authority_level;type:text;not null;default:unknown"`
	TopicDomains   json.RawMessage `gorm:"column:topic_domains;type:jsonb"`
	Language       *string         `gorm:"column:language;type:text"`
	Metadata       json.RawMessage `gorm:"column:metadata;type:jsonb"`
	CreatedAt      time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Chunk) TableName() string { return "curator.chunks" }

// FetchJob maps curator.fetch_jobs, the durable FIFO fetch queue. Jobs for
// one source are claimed strictly in job_id order.
type FetchJob struct {
	JobID       int64           `gorm:"column:job_id;primaryKey;autoIncrement"`
	SourceID    string          `gorm:"column:source_id;type:text;not null;index:idx_fetch_jobs_source"`
	Payload     json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	ContentHash string          `gorm:"column:content_hash;type:text;not null"`
	TriggeredAt time.Time       `gorm:"column:triggered_at;type:timestamptz;not null"`
	Status      string          `gorm:"column:status;type:text;not null;default:pending"`
	Attempts    int             `gorm:"column:attempts;type:integer;not null;default:0"`
	ClaimedAt   *time.Time      `gorm:"column:claimed_at;type:timestamptz"`
	FinishedAt  *time.Time      `gorm:"column:finished_at;type:timestamptz"`
	LastError   *string         `gorm:"column:last_error;type:text"`
	CreatedAt   time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (FetchJob) TableName() string { return "curator.fetch_jobs" }

// IngestStatusLog maps curator.ingest_status_log, the append-only per-source
// coordinator outcome ledger.
type IngestStatusLog struct {
	EntryID   int64     `gorm:"column:entry_id;primaryKey;autoIncrement"`
	SourceID  string    `gorm:"column:source_id;type:text;not null;index:idx_ingest_status_source"`
	Status    string    `gorm:"column:status;type:text;not null"`
	Detail    *string   `gorm:"column:detail;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (IngestStatusLog) TableName() string { return "curator.ingest_status_log" }

// DiscoveryRun maps curator.discovery_runs, one ledger row per map or search
// discovery invocation.
type DiscoveryRun struct {
	RunID        int64      `gorm:"column:run_id;primaryKey;autoIncrement"`
	Method       string     `gorm:"column:method;type:text;not null"`
	Seed         string     `gorm:"column:seed;type:text;not null"`
	StartedAt    time.Time  `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	FinishedAt   *time.Time `gorm:"column:finished_at;type:timestamptz"`
	Status       string     `gorm:"column:status;type:text;not null;default:running"`
	URLsFound    int        `gorm:"column:urls_found;type:integer;not null;default:0"`
	URLsInserted int        `gorm:"column:urls_inserted;type:integer;not null;default:0"`
	ErrorMessage *string    `gorm:"column:error_message;type:text"`
}

func (DiscoveryRun) TableName() string { return "curator.discovery_runs" }

func autoMigrateModels() []any {
	return []any{
		&DiscoveredSource{},
		&SourceConfig{},
		&UsageMetric{},
		&Chunk{},
		&FetchJob{},
		&IngestStatusLog{},
		&DiscoveryRun{},
	}
}
