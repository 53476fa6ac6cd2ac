// internal/audit/recorder.go
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"entitlement-workers/internal/common/logger"
	"entitlement-workers/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeExisting Outcome = "existing"
	OutcomeFailed   Outcome = "failed"
)

// Event is one activation attempt as written to the audit index.
type Event struct {
	EventID        string                `json:"eventId"`
	Timestamp      time.Time             `json:"@timestamp"`
	Source         string                `json:"source"`
	Reference      string                `json:"reference"`
	Provider       models.Provider       `json:"provider,omitempty"`
	TransactionID  string                `json:"transactionId,omitempty"`
	SubjectID      int64                 `json:"subjectId,omitempty"`
	ItemID         int64                 `json:"itemId,omitempty"`
	ItemDefaulted  bool                  `json:"itemDefaulted,omitempty"`
	AmountPaid     float64               `json:"amountPaid,omitempty"`
	Currency       string                `json:"currency,omitempty"`
	Outcome        Outcome               `json:"outcome"`
	CredentialTier models.CredentialTier `json:"credentialTier,omitempty"`
	Degraded       bool                  `json:"degraded"`
	ErrorCode      string                `json:"errorCode,omitempty"`
	CampaignTags   map[string]string     `json:"campaignTags,omitempty"`
	DurationMs     int64                 `json:"durationMs"`
}

// IndexMapping pins the identifier fields to keyword so references and
// transaction ids are searchable verbatim.
const IndexMapping = `{
  "mappings": {
    "properties": {
      "eventId":        {"type": "keyword"},
      "@timestamp":     {"type": "date"},
      "source":         {"type": "keyword"},
      "reference":      {"type": "keyword"},
      "provider":       {"type": "keyword"},
      "transactionId":  {"type": "keyword"},
      "subjectId":      {"type": "long"},
      "itemId":         {"type": "long"},
      "itemDefaulted":  {"type": "boolean"},
      "amountPaid":     {"type": "double"},
      "currency":       {"type": "keyword"},
      "outcome":        {"type": "keyword"},
      "credentialTier": {"type": "keyword"},
      "degraded":       {"type": "boolean"},
      "errorCode":      {"type": "keyword"},
      "campaignTags":   {"type": "object"},
      "durationMs":     {"type": "long"}
    }
  }
}`

type Recorder interface {
	Record(ctx context.Context, event Event)
}

// NopRecorder discards events. Used when auditing is disabled.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) {}

// ElasticsearchRecorder indexes events into a single index. Failures are
// logged and dropped so auditing never affects an activation.
type ElasticsearchRecorder struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewElasticsearchRecorder(client *elasticsearch.Client, index string, log logger.Logger) *ElasticsearchRecorder {
	return &ElasticsearchRecorder{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "audit", "index": index}),
	}
}

func (r *ElasticsearchRecorder) Record(ctx context.Context, event Event) {
	if err := r.write(ctx, event); err != nil {
		r.logger.Warn("audit event dropped", map[string]interface{}{
			"error":     err,
			"reference": event.Reference,
			"outcome":   string(event.Outcome),
		})
	}
}

func (r *ElasticsearchRecorder) write(ctx context.Context, event Event) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      r.index,
		DocumentID: event.EventID,
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, r.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index failed: %s", res.String())
	}
	return nil
}
