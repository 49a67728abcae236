package github

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-github/v43/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const issueCommentPayload = `{
  "action": "created",
  "issue": {"number": 5, "pull_request": {"url": "https://api.github.com/repos/fho/prbuilder/pulls/5"}},
  "comment": {"id": 1, "body": "ok to test", "user": {"login": "alice"}, "updated_at": "2022-03-01T10:00:00Z"},
  "repository": {"name": "prbuilder", "full_name": "fho/prbuilder", "owner": {"login": "fho"}}
}`

type recordingHandler struct {
	events []*Event
}

func (h *recordingHandler) HandleEvent(_ context.Context, ev *Event) {
	h.events = append(h.events, ev)
}

func newFormRequest(eventType string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/listener/github", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-GitHub-Event", eventType)
	req.Header.Set("X-GitHub-Delivery", "3355fab0-b22c-11eb-9936-51d9540c0cdc")

	return req
}

func TestHTTPHandlerPassesParsedEvent(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	handler := recordingHandler{}
	p := New(&handler)

	respRecorder := httptest.NewRecorder()
	p.HTTPHandler(respRecorder, newFormRequest("issue_comment", url.Values{"payload": {issueCommentPayload}}))
	require.Equal(t, http.StatusOK, respRecorder.Code)

	require.Len(t, handler.events, 1)
	ev := handler.events[0]

	assert.Equal(t, "issue_comment", ev.Type)
	assert.Equal(t, "3355fab0-b22c-11eb-9936-51d9540c0cdc", ev.DeliveryID)
	assert.JSONEq(t, issueCommentPayload, string(ev.JSON))

	commentEv, ok := ev.Event.(*github.IssueCommentEvent)
	require.True(t, ok)
	assert.Equal(t, "created", commentEv.GetAction())
	assert.Equal(t, 5, commentEv.GetIssue().GetNumber())
	assert.True(t, commentEv.GetIssue().IsPullRequest())
	assert.Equal(t, "alice", commentEv.GetComment().GetUser().GetLogin())
}

func TestHTTPHandlerIgnoresMissingPayload(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	handler := recordingHandler{}
	p := New(&handler)

	respRecorder := httptest.NewRecorder()
	p.HTTPHandler(respRecorder, newFormRequest("issue_comment", url.Values{"other": {"1"}}))

	assert.Equal(t, http.StatusOK, respRecorder.Code)
	assert.Empty(t, handler.events)
}

func TestHTTPHandlerIgnoresMalformedPayload(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	handler := recordingHandler{}
	p := New(&handler)

	respRecorder := httptest.NewRecorder()
	p.HTTPHandler(respRecorder, newFormRequest("pull_request", url.Values{"payload": {"{"}}))

	assert.Equal(t, http.StatusOK, respRecorder.Code)
	assert.Empty(t, handler.events)
}

func TestHTTPHandlerIgnoresUnknownEventType(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	handler := recordingHandler{}
	p := New(&handler)

	respRecorder := httptest.NewRecorder()
	p.HTTPHandler(respRecorder, newFormRequest("not_an_event", url.Values{"payload": {"{}"}}))

	assert.Equal(t, http.StatusOK, respRecorder.Code)
	assert.Empty(t, handler.events)
}

func TestHTTPHandlerValidatesSignature(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	const secret = "s3cr3t"

	handler := recordingHandler{}
	p := New(&handler, WithPayloadSecret(secret))

	body := url.Values{"payload": {issueCommentPayload}}.Encode()

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(body))

	req := newFormRequest("issue_comment", url.Values{"payload": {issueCommentPayload}})
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))

	respRecorder := httptest.NewRecorder()
	p.HTTPHandler(respRecorder, req)
	assert.Equal(t, http.StatusOK, respRecorder.Code)
	assert.Len(t, handler.events, 1)

	req = newFormRequest("issue_comment", url.Values{"payload": {issueCommentPayload}})
	req.Header.Set("X-Hub-Signature-256", "sha256=0000")

	respRecorder = httptest.NewRecorder()
	p.HTTPHandler(respRecorder, req)
	assert.Equal(t, http.StatusBadRequest, respRecorder.Code)
	assert.Len(t, handler.events, 1)
}
