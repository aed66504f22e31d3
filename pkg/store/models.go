package store

import (
	"encoding/json"
	"fmt"

	"github.com/pitabwire/frame/data"
	"github.com/rs/xid"

	"github.com/voicetyped/transcriber/internal/speech/transcript"
)

// TranscriptRecord is a stored transcription result.
type TranscriptRecord struct {
	data.BaseModel

	JobID           string     `gorm:"type:varchar(50);index:idx_tr_job"       json:"job_id"`
	SourcePath      string     `gorm:"type:varchar(2048);not null;index:idx_tr_source" json:"source_path"`
	Language        string     `gorm:"type:varchar(20)"                        json:"language,omitempty"`
	Profile         string     `gorm:"type:varchar(255)"                       json:"profile,omitempty"`
	Duration        float64    `gorm:"default:0"                               json:"duration"`
	SentenceCount   int        `gorm:"default:0"                               json:"sentence_count"`
	ChunkCount      int        `gorm:"default:0"                               json:"total_chunks"`
	SucceededChunks int        `gorm:"default:0"                               json:"successful_chunks"`
	Partial         bool       `gorm:"default:false"                           json:"partial"`
	FullText        string     `gorm:"type:text"                               json:"full_text"`
	Result          ResultJSON `gorm:"type:jsonb"                              json:"result"`
}

func (TranscriptRecord) TableName() string { return "transcripts" }

// NewRecord builds a record for a finished job.
func NewRecord(jobID, sourcePath, language, profile string, res *transcript.Result) *TranscriptRecord {
	rec := &TranscriptRecord{
		JobID:           jobID,
		SourcePath:      sourcePath,
		Language:        language,
		Profile:         profile,
		Duration:        res.Metadata.Duration,
		SentenceCount:   res.Metadata.SentenceCount,
		ChunkCount:      res.Metadata.ChunkCount,
		SucceededChunks: res.Metadata.SucceededChunks,
		Partial:         res.Partial() != nil,
		FullText:        res.FullText,
		Result:          ResultJSON{Result: res},
	}
	rec.ID = xid.New().String()
	return rec
}

// ResultJSON is a custom GORM type for JSONB storage of a transcript result.
type ResultJSON struct {
	*transcript.Result
}

func (r ResultJSON) Value() (interface{}, error) {
	if r.Result == nil {
		return nil, nil
	}
	return json.Marshal(r.Result)
}

func (r *ResultJSON) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		r.Result = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan transcript result: unsupported type %T", src)
	}
	var res transcript.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return err
	}
	r.Result = &res
	return nil
}
