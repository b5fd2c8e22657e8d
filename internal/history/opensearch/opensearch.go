// Package opensearch indexes lifecycle events into an OpenSearch (or
// Elasticsearch) index over its REST API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/keepr/internal/history"
)

// Document is the flat shape stored per event. Process fields sit at the top
// level so they can be queried and aggregated without nested mappings.
type Document struct {
	Event      history.EventType `json:"event"`
	OccurredAt time.Time         `json:"occurred_at"`
	ProcessID  string            `json:"process_id"`
	Name       string            `json:"name"`
	Command    string            `json:"command"`
	State      string            `json:"state"`
	PID        int               `json:"pid,omitempty"`
	ExitCode   *int              `json:"exit_code,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	StoppedAt  *time.Time        `json:"stopped_at,omitempty"`
}

func documentFrom(e history.Event) Document {
	return Document{
		Event:      e.Type,
		OccurredAt: e.OccurredAt.UTC(),
		ProcessID:  e.Record.ProcessID,
		Name:       e.Record.Name,
		Command:    e.Record.Command,
		State:      e.Record.State,
		PID:        e.Record.PID,
		ExitCode:   e.Record.ExitCode,
		Error:      e.Record.Error,
		StartedAt:  e.Record.StartedAt,
		StoppedAt:  e.Record.StoppedAt,
	}
}

// DocumentID is deterministic per event so a redelivered event overwrites
// its earlier copy instead of indexing a duplicate.
func DocumentID(e history.Event) string {
	return e.Record.ProcessID + "-" + string(e.Type) + "-" + strconv.FormatInt(e.OccurredAt.UnixNano(), 10)
}

// Sink writes one document per event with PUT /<index>/_doc/<id>, routed by
// process ID so a process's history lands on a single shard.
type Sink struct {
	client *http.Client
	base   string
	index  string
}

func New(baseURL, index string) *Sink {
	return &Sink{
		client: &http.Client{Timeout: 5 * time.Second},
		base:   strings.TrimRight(baseURL, "/"),
		index:  index,
	}
}

func (s *Sink) docURL(e history.Event) string {
	u := s.base + "/" + url.PathEscape(s.index) + "/_doc/" + url.PathEscape(DocumentID(e))
	if e.Record.ProcessID != "" {
		u += "?" + url.Values{"routing": {e.Record.ProcessID}}.Encode()
	}
	return u
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	body, err := json.Marshal(documentFrom(e))
	if err != nil {
		return fmt.Errorf("encode %s event for %q: %w", e.Type, e.Record.ProcessID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.docURL(e), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch index %s: status %d: %s", s.index, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
