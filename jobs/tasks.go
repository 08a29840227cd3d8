package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fleetdesk/fleetdesk/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPMScan generates work orders for due preventive-maintenance schedules.
	TaskPMScan = "pm:scan"
	// TaskPartsClassify recomputes SMART classes for parts.
	TaskPartsClassify = "parts:classify"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// PMScanPayload scopes a PM scan. A zero OrgID scans every organization.
type PMScanPayload struct {
	OrgID int64 `json:"orgId,omitempty"`
}

// PartsClassifyPayload scopes a reclassification. A zero OrgID covers every
// organization.
type PartsClassifyPayload struct {
	OrgID int64 `json:"orgId,omitempty"`
}

// NewPMScanTask constructs an Asynq task.
func NewPMScanTask(payload PMScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPMScan, data), nil
}

// NewPartsClassifyTask constructs an Asynq task.
func NewPartsClassifyTask(payload PartsClassifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPartsClassify, data), nil
}

// decodePayload treats an empty payload as the zero value so cron tasks can
// be registered without a body.
func decodePayload(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return asynq.SkipRetry
	}
	return nil
}
