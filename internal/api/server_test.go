package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tickq/internal/metrics"
	"tickq/internal/queue"
	"tickq/internal/scheduler"
	"tickq/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.EnsureSchema(db); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	repo := store.NewSQLiteRepo(db)
	m := metrics.NewMetricsService(false)
	srv := httptest.NewServer(NewServer(scheduler.NewService(repo, m), queue.NewService(repo, m)))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestScheduleLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	var created struct {
		ID         string `json:"schedule_id"`
		RunAtEpoch int64  `json:"run_at_epoch"`
	}
	status := doJSON(t, http.MethodPost, srv.URL+"/api/schedules", map[string]any{
		"delay_seconds": 3600,
		"message_body":  "remind me",
		"queue_name":    "reminders",
	}, &created)
	if status != http.StatusCreated {
		t.Fatalf("create status = %d", status)
	}
	if !strings.HasPrefix(created.ID, "ls_") {
		t.Fatalf("schedule id %q missing ls_ prefix", created.ID)
	}

	var got struct {
		ID          string `json:"schedule_id"`
		MessageBody string `json:"message_body"`
	}
	if status := doJSON(t, http.MethodGet, srv.URL+"/api/schedules/"+created.ID, nil, &got); status != http.StatusOK {
		t.Fatalf("get status = %d", status)
	}
	if got.MessageBody != "remind me" {
		t.Errorf("message_body = %q", got.MessageBody)
	}

	var list struct {
		Count int `json:"count"`
	}
	if status := doJSON(t, http.MethodGet, srv.URL+"/api/schedules", nil, &list); status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if list.Count != 1 {
		t.Errorf("count = %d, want 1", list.Count)
	}

	var cancelled struct {
		Cancelled bool `json:"cancelled"`
	}
	if status := doJSON(t, http.MethodDelete, srv.URL+"/api/schedules/"+created.ID, nil, &cancelled); status != http.StatusOK {
		t.Fatalf("cancel status = %d", status)
	}
	if !cancelled.Cancelled {
		t.Error("expected cancelled=true")
	}

	if status := doJSON(t, http.MethodGet, srv.URL+"/api/schedules/"+created.ID, nil, nil); status != http.StatusNotFound {
		t.Fatalf("get after cancel status = %d, want 404", status)
	}
}

func TestScheduleValidationOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	var errResp struct {
		Code string `json:"code"`
	}
	status := doJSON(t, http.MethodPost, srv.URL+"/api/schedules", map[string]any{
		"message_body": "no timing fields",
	}, &errResp)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if errResp.Code != "validation" {
		t.Errorf("code = %q", errResp.Code)
	}

	status = doJSON(t, http.MethodPost, srv.URL+"/api/schedules", map[string]any{
		"schedule_expression": "rate(banana)",
		"message_body":        "m",
	}, &errResp)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if errResp.Code != "validation.schedule_expression" {
		t.Errorf("code = %q", errResp.Code)
	}
}

func TestDispatchAndQueueFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	// Due in the past so one dispatch pass fires it.
	status := doJSON(t, http.MethodPost, srv.URL+"/api/schedules", map[string]any{
		"run_at_epoch": time.Now().Unix() - 1,
		"message_body": "job1",
		"queue_name":   "q1",
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("create status = %d", status)
	}

	var dispatched struct {
		Count int `json:"count"`
	}
	if status := doJSON(t, http.MethodPost, srv.URL+"/api/dispatch", map[string]any{"max_to_run": 10}, &dispatched); status != http.StatusOK {
		t.Fatalf("dispatch status = %d", status)
	}
	if dispatched.Count != 1 {
		t.Fatalf("dispatched count = %d, want 1", dispatched.Count)
	}

	var received struct {
		Count    int `json:"count"`
		Messages []struct {
			ID           string `json:"message_id"`
			Body         string `json:"body"`
			ReceiveCount int    `json:"receive_count"`
		} `json:"messages"`
	}
	status = doJSON(t, http.MethodPost, srv.URL+"/api/queues/q1/receive", map[string]any{
		"max_messages":       1,
		"visibility_timeout": 0,
	}, &received)
	if status != http.StatusOK {
		t.Fatalf("receive status = %d", status)
	}
	if received.Count != 1 || received.Messages[0].Body != "job1" {
		t.Fatalf("received = %+v, want one message with body job1", received)
	}
	if received.Messages[0].ReceiveCount != 1 {
		t.Errorf("receive_count = %d, want 1", received.Messages[0].ReceiveCount)
	}

	var deleted struct {
		Deleted bool `json:"deleted"`
	}
	url := srv.URL + "/api/queues/q1/messages/" + received.Messages[0].ID
	if status := doJSON(t, http.MethodDelete, url, nil, &deleted); status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}
	if !deleted.Deleted {
		t.Error("expected deleted=true")
	}
	if status := doJSON(t, http.MethodDelete, url, nil, &deleted); status != http.StatusOK || deleted.Deleted {
		t.Errorf("second delete: status=%d deleted=%v, want 200/false", status, deleted.Deleted)
	}
}

func TestQueueEndpoints(t *testing.T) {
	srv := newTestServer(t)

	var sent struct {
		MessageID string `json:"message_id"`
	}
	status := doJSON(t, http.MethodPost, srv.URL+"/api/queues/tasks/messages", map[string]any{"body": "one"}, &sent)
	if status != http.StatusCreated {
		t.Fatalf("send status = %d", status)
	}
	if !strings.HasPrefix(sent.MessageID, "lq_") {
		t.Errorf("message id %q missing lq_ prefix", sent.MessageID)
	}

	var batch struct {
		Successful []struct {
			MessageID string `json:"message_id"`
		} `json:"successful"`
	}
	status = doJSON(t, http.MethodPost, srv.URL+"/api/queues/tasks/messages/batch", map[string]any{
		"messages": []map[string]any{{"body": "two"}, {"body": "three"}},
	}, &batch)
	if status != http.StatusOK {
		t.Fatalf("batch status = %d", status)
	}
	if len(batch.Successful) != 2 {
		t.Fatalf("batch successful = %d, want 2", len(batch.Successful))
	}

	var attrs struct {
		Total int `json:"total"`
	}
	if status := doJSON(t, http.MethodGet, srv.URL+"/api/queues/tasks", nil, &attrs); status != http.StatusOK {
		t.Fatalf("attributes status = %d", status)
	}
	if attrs.Total != 3 {
		t.Errorf("total = %d, want 3", attrs.Total)
	}

	var queues struct {
		Queues []string `json:"queues"`
	}
	if status := doJSON(t, http.MethodGet, srv.URL+"/api/queues", nil, &queues); status != http.StatusOK {
		t.Fatalf("list queues status = %d", status)
	}
	if len(queues.Queues) != 1 || queues.Queues[0] != "tasks" {
		t.Errorf("queues = %v", queues.Queues)
	}

	var purged struct {
		Purged int `json:"purged"`
	}
	if status := doJSON(t, http.MethodPost, srv.URL+"/api/queues/tasks/purge", nil, &purged); status != http.StatusOK {
		t.Fatalf("purge status = %d", status)
	}
	if purged.Purged != 3 {
		t.Errorf("purged = %d, want 3", purged.Purged)
	}
}
