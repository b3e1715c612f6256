package uistate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLabels struct{}

func (stubLabels) AgentName(slug string) string {
	return map[string]string{"review_agent": "Review Agent"}[slug]
}

func (stubLabels) ToolLabel(tool string) string {
	return map[string]string{"fetch_reviews": "Fetching reviews", ToolUpdatePlanNote: "Updating plan"}[tool]
}

func (stubLabels) ReportArtifactType(tool string) (string, bool) {
	kind, ok := map[string]string{"generate_review_report": "review-report"}[tool]
	return kind, ok
}

func (stubLabels) ArtifactDisplayType(reportType string) string {
	if reportType == "review_report_short" {
		return "review-report-short"
	}
	return DefaultArtifactType
}

func (stubLabels) ResponseArtifactType(raw string) string {
	if raw == "review_report_short" {
		return "review-report-short"
	}
	return raw
}

type recordedHooks struct {
	markdown   []string
	structured []Artifact
	thinking   []bool
	errors     []string
	clarify    []bool
}

func newTestContext(rec *recordedHooks) *Context {
	c := &Context{Timeline: NewTimeline(), Labels: stubLabels{}, NewID: counterIDs()}
	c.Fold = NewFoldState(c.NewID)
	if rec != nil {
		c.Hooks = Hooks{
			OnArtifact: func(md string) { rec.markdown = append(rec.markdown, md) },
			OnStructuredArtifact: func(kind string, data any, id string) {
				rec.structured = append(rec.structured, Artifact{Type: kind, Data: data, MessageID: id})
			},
			OnThinking:      func(active bool) { rec.thinking = append(rec.thinking, active) },
			OnError:         func(msg string) { rec.errors = append(rec.errors, msg) },
			OnClarification: func(needed bool) { rec.clarify = append(rec.clarify, needed) },
		}
	}
	return c
}

func ev(t *testing.T, raw string) Event {
	t.Helper()
	e, err := DecodeEvent([]byte(raw))
	require.NoError(t, err)
	return e
}

func kinds(msgs []Message) []Kind {
	out := make([]Kind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Kind
	}
	return out
}

func TestDispatchEndToEndScenario(t *testing.T) {
	c := newTestContext(nil)
	Dispatch(ev(t, `{"type":"start"}`), c)
	Dispatch(ev(t, `{"type":"content_chunk","content":"<think>Let me check</think>The answer is 42."}`), c)
	out := Dispatch(ev(t, `{"type":"complete","report":{"summary":""}}`), c)

	items := c.Timeline.Items()
	require.Equal(t, []Kind{KindAgentHeader, KindThinking, KindText}, kinds(items))
	assert.Equal(t, DefaultAgentName, items[0].Data.AgentName)
	assert.Equal(t, "Let me check", items[1].Data.Content)
	assert.False(t, items[1].Data.IsStreaming)
	assert.Equal(t, "The answer is 42.", items[2].Data.Content)
	assert.False(t, items[2].Data.IsStreaming)
	for _, m := range out {
		assert.NotEqual(t, "", m.ID)
		assert.Equal(t, KindText, m.Kind, "complete should only flush the open text")
	}
}

func TestDispatchArtifactResponseRetractsStreamingText(t *testing.T) {
	rec := &recordedHooks{}
	c := newTestContext(rec)
	Dispatch(ev(t, `{"type":"content_chunk","content":"report text"}`), c)
	streamingID := c.Fold.StreamingMessageID()
	require.NotEmpty(t, streamingID)

	Dispatch(ev(t, `{"type":"response","message_id":77,"is_artifact":true,
		"artifact":{"artifact_type":"review_report_short","data":{"rating":4.2}}}`), c)

	_, stillThere := c.Timeline.Get(streamingID)
	assert.False(t, stillThere, "streaming message must be removed, not emptied")
	assert.True(t, c.Fold.IsArtifactResponse)
	require.Len(t, rec.structured, 1)
	assert.Equal(t, "review-report-short", rec.structured[0].Type)
	assert.Equal(t, map[string]any{"rating": 4.2}, rec.structured[0].Data)

	items := c.Timeline.Items()
	require.Equal(t, []Kind{KindText, KindReportArtifact}, kinds(items))
	assert.Equal(t, "", items[0].Data.Content)
	assert.Equal(t, "77", items[1].APIMessageID)
	assert.Equal(t, "77", rec.structured[0].MessageID)

	// complete 之后不应再出现正文
	Dispatch(ev(t, `{"type":"complete","report":{}}`), c)
	assert.Len(t, c.Timeline.Items(), 2)
}

func TestDispatchArtifactResponseWithoutStreamingIsNoop(t *testing.T) {
	c := newTestContext(&recordedHooks{})
	assert.NotPanics(t, func() {
		Dispatch(ev(t, `{"type":"response","is_artifact":true,"artifact":{"format":"markdown","data":{"markdown":"# R"}}}`), c)
	})
	assert.Equal(t, 0, c.Timeline.Len())
}

func TestDispatchMarkdownArtifact(t *testing.T) {
	rec := &recordedHooks{}
	c := newTestContext(rec)
	Dispatch(ev(t, `{"type":"content_chunk","content":"# Weekly"}`), c)
	Dispatch(ev(t, `{"type":"response","is_artifact":true,"artifact":{"format":"markdown","data":{"markdown":"# Weekly report"}}}`), c)
	assert.Equal(t, []string{"# Weekly report"}, rec.markdown)
	require.Len(t, rec.structured, 1)
	assert.Equal(t, ArtifactTypeMarkdown, rec.structured[0].Type)
	assert.Equal(t, "# Weekly report", rec.structured[0].Data)
	assert.NotEmpty(t, rec.structured[0].MessageID, "missing message_id is minted")
	assert.Equal(t, 0, c.Timeline.Len())
}

func TestDispatchArtifactResponseWithoutTypeOrData(t *testing.T) {
	rec := &recordedHooks{}
	c := newTestContext(rec)
	Dispatch(ev(t, `{"type":"content_chunk","content":"draft"}`), c)

	out := Dispatch(ev(t, `{"type":"response","is_artifact":true,"artifact":{"title":"x"}}`), c)
	assert.Empty(t, out)
	assert.Equal(t, 0, c.Timeline.Len())
	assert.Empty(t, rec.structured)
	assert.Empty(t, rec.markdown)

	out = Dispatch(ev(t, `{"type":"response","message_id":"m-9","is_artifact":true,
		"artifact":{"artifact_type":"aso"},"actions":[{"label":"Retry"}]}`), c)
	require.Equal(t, []Kind{KindText}, kinds(out))
	assert.Equal(t, "", out[0].Data.Content)
	assert.Equal(t, []Action{{"label": "Retry"}}, out[0].Data.Actions)
	assert.Equal(t, "m-9", out[0].APIMessageID)
	assert.Empty(t, rec.structured)
}

func TestDispatchActionsOnlyResponseMergesInPlace(t *testing.T) {
	c := newTestContext(nil)
	c.Timeline.Upsert(Message{ID: "t1", Sender: SenderLLM, Kind: KindText, Data: MessageData{Content: "Done."}})

	Dispatch(ev(t, `{"type":"response","actions":[{"label":"Open report"},"Reply"]}`), c)

	items := c.Timeline.Items()
	require.Len(t, items, 1)
	assert.Equal(t, []Action{{"label": "Open report"}, {"label": "Reply"}}, items[0].Data.Actions)

	// 再次合并替换而不是追加
	Dispatch(ev(t, `{"type":"response","actions":[{"label":"Share"}]}`), c)
	items = c.Timeline.Items()
	require.Len(t, items, 1)
	assert.Equal(t, []Action{{"label": "Share"}}, items[0].Data.Actions)
	assert.Equal(t, "Done.", items[0].Data.Content)
}

func TestDispatchActionsOnlyResponseSynthesizesCarrier(t *testing.T) {
	c := newTestContext(nil)
	Dispatch(ev(t, `{"type":"response","actions":[{"label":"Retry"}]}`), c)
	items := c.Timeline.Items()
	require.Len(t, items, 1)
	assert.Equal(t, KindText, items[0].Kind)
	assert.Equal(t, "", items[0].Data.Content)
}

func TestDispatchResponseFinalizesStreamingMessage(t *testing.T) {
	c := newTestContext(nil)
	Dispatch(ev(t, `{"type":"content_chunk","content":"partial ans"}`), c)
	id := c.Fold.StreamingMessageID()
	Dispatch(ev(t, `{"type":"response","message_id":"srv-9","content":"<think>a</think>full <think>b</think>answer","actions":[{"label":"More"}]}`), c)

	m, ok := c.Timeline.Get(id)
	require.True(t, ok)
	assert.Equal(t, "full answer", m.Data.Content)
	assert.Equal(t, "a\n\nb", m.Data.Thinking)
	assert.False(t, m.Data.IsStreaming)
	assert.Equal(t, "srv-9", m.APIMessageID)
	assert.Len(t, m.Data.Actions, 1)
	assert.Empty(t, c.Fold.StreamingMessageID())

	Dispatch(ev(t, `{"type":"complete"}`), c)
	assert.Equal(t, 1, c.Timeline.Len(), "flush must not duplicate the finalized text")
}

func TestDispatchResponseWithoutStreamingEmitsText(t *testing.T) {
	c := newTestContext(nil)
	out := Dispatch(ev(t, `{"type":"response","content":"Here you go"}`), c)
	require.Len(t, out, 1)
	assert.Equal(t, "Here you go", out[0].Data.Content)
}

func TestDispatchUnknownEventIgnored(t *testing.T) {
	c := newTestContext(nil)
	var out []Message
	assert.NotPanics(t, func() {
		out = Dispatch(ev(t, `{"type":"future_event","payload":{}}`), c)
	})
	assert.Empty(t, out)
	assert.Equal(t, 0, c.Timeline.Len())
}

// 所有已知类型在缺字段时都不 panic。
func TestDispatchTotalOnEmptyPayloads(t *testing.T) {
	for _, typ := range KnownEventTypes {
		c := newTestContext(&recordedHooks{})
		assert.NotPanics(t, func() {
			Dispatch(NewEvent(map[string]any{"type": string(typ)}), c)
		}, "type %s", typ)
	}
}

func TestDispatchStartUsesAgentLabel(t *testing.T) {
	rec := &recordedHooks{}
	c := newTestContext(rec)
	c.AgentSlug = "review_agent"
	out := Dispatch(ev(t, `{"event":"start"}`), c)
	require.Len(t, out, 1)
	assert.Equal(t, "Review Agent", out[0].Data.AgentName)
	assert.Equal(t, []bool{true}, rec.thinking)

	c.AgentSlug = "brand_new_agent"
	out = Dispatch(ev(t, `{"event":"start"}`), c)
	assert.Equal(t, "brand_new_agent", out[0].Data.AgentName)
}

func TestDispatchActionVariants(t *testing.T) {
	c := newTestContext(nil)

	out := Dispatch(ev(t, `{"type":"action","tool_name":"update_plan_note","tool_args":{"note":"Check ratings first"}}`), c)
	require.Len(t, out, 1)
	assert.Equal(t, "Updating plan", out[0].Data.Title)
	assert.Equal(t, "Check ratings first", out[0].Data.Description)
	require.NotNil(t, out[0].Data.Tool)
	assert.Equal(t, ToolStatusCompleted, out[0].Data.Tool.Status)

	out = Dispatch(ev(t, `{"type":"action","tool_name":"request_clarification","tool_args":{"reason":"Which app?"}}`), c)
	assert.Equal(t, "Which app?", out[0].Data.Reason)

	out = Dispatch(ev(t, `{"type":"action","tool_name":"fetch_reviews","tool_args":{"app_id":"com.game","limit":50,"filters":{"stars":[1,2]}}}`), c)
	assert.Equal(t, "Fetching reviews", out[0].Data.Title)
	assert.Equal(t, "**app_id:** com.game\n**limit:** 50\n**filters:** {\"stars\":[1,2]}", out[0].Data.Description)
	require.NotNil(t, out[0].Data.Tool)
	assert.Equal(t, "fetch_reviews", out[0].Data.Tool.Name)

	assert.Empty(t, Dispatch(ev(t, `{"type":"action"}`), c))
	assert.Empty(t, Dispatch(ev(t, `{"type":"tool_call"}`), c))
}

func TestDispatchToolCallAndResult(t *testing.T) {
	rec := &recordedHooks{}
	c := newTestContext(rec)

	out := Dispatch(ev(t, `{"type":"tool_call","tool":"fetch_reviews","args":{"days":7},"step":2}`), c)
	require.Len(t, out, 1)
	assert.Equal(t, "**days:** 7", out[0].Data.Description)
	assert.Equal(t, float64(2), out[0].Data.Tool.Step)
	assert.Equal(t, ToolStatusInProgress, out[0].Data.Tool.Status)

	out = Dispatch(ev(t, `{"type":"tool_result","tool":"fetch_reviews","result":"ok"}`), c)
	assert.Empty(t, out, "non-report tool results emit nothing")

	out = Dispatch(ev(t, `{"type":"tool_result","tool":"generate_review_report","result":"{\"summary\":\"fine\"}"}`), c)
	require.Len(t, out, 1)
	assert.Equal(t, KindReportArtifact, out[0].Kind)
	assert.Equal(t, "review-report", out[0].Data.ArtifactType)
	assert.Equal(t, map[string]any{"summary": "fine"}, out[0].Data.Artifact)
	require.Len(t, rec.structured, 1)
	assert.Equal(t, out[0].ID, rec.structured[0].MessageID)
}

func TestDispatchArtifactEvent(t *testing.T) {
	rec := &recordedHooks{}
	c := newTestContext(rec)

	out := Dispatch(ev(t, `{"type":"artifact","artifact_type":"report_json","content":{"report_type":"review_report_short","items":[]}}`), c)
	require.Len(t, out, 1)
	assert.Equal(t, "review-report-short", out[0].Data.ArtifactType)

	out = Dispatch(ev(t, `{"type":"artifact","artifact_type":"report_json","content":{"report_type":"mystery"}}`), c)
	assert.Equal(t, DefaultArtifactType, out[0].Data.ArtifactType)

	out = Dispatch(ev(t, `{"type":"artifact","artifact_type":"image"}`), c)
	assert.Empty(t, out)
}

func TestDispatchTerminalEvents(t *testing.T) {
	rec := &recordedHooks{}
	c := newTestContext(rec)

	Dispatch(ev(t, `{"type":"content_chunk","content":"half"}`), c)
	out := Dispatch(ev(t, `{"type":"error","data":{"message":"quota exceeded"}}`), c)
	require.Equal(t, []Kind{KindText, KindError}, kinds(out))
	assert.False(t, out[0].Data.IsStreaming)
	assert.Equal(t, "quota exceeded", out[1].Data.Content)
	assert.Equal(t, []string{"quota exceeded"}, rec.errors)

	out = Dispatch(ev(t, `{"type":"error"}`), c)
	assert.Equal(t, DefaultErrorMessage, out[0].Data.Content)

	out = Dispatch(ev(t, `{"type":"cancelled"}`), c)
	require.Len(t, out, 1)
	assert.Equal(t, KindCancelled, out[0].Kind)
	assert.Equal(t, DefaultCancelledReason, out[0].Data.Reason)

	out = Dispatch(ev(t, `{"type":"complete","message_id":5,"report":{"status":"needs_clarification","summary":"Need the app name."}}`), c)
	require.Len(t, out, 1)
	assert.Equal(t, "Need the app name.", out[0].Data.Content)
	assert.Equal(t, "5", out[0].APIMessageID)
	assert.Equal(t, []bool{true}, rec.clarify)
}

func TestDispatchReason(t *testing.T) {
	c := newTestContext(nil)
	out := Dispatch(ev(t, `{"type":"reason","reasoning":"Comparing last two weeks"}`), c)
	require.Len(t, out, 1)
	assert.Equal(t, KindTask, out[0].Kind)
	assert.Equal(t, "Agent is thinking", out[0].Data.Title)
	assert.Equal(t, "Comparing last two weeks", out[0].Data.Description)
	assert.Empty(t, out[0].Data.Content)

	c.AgentSlug = "review_agent"
	out = Dispatch(ev(t, `{"type":"reason","reasoning":"Grouping by country"}`), c)
	require.Len(t, out, 1)
	assert.Equal(t, "Review Agent is thinking", out[0].Data.Title)

	assert.Empty(t, Dispatch(ev(t, `{"type":"reason"}`), c))
	assert.Empty(t, Dispatch(ev(t, `{"type":"reason","reasoning":"   "}`), c))
}

func TestDispatchToolCallSpecialTools(t *testing.T) {
	c := newTestContext(nil)

	out := Dispatch(ev(t, `{"type":"tool_call","tool":"update_plan_note","args":{"note":"step 2"}}`), c)
	require.Len(t, out, 1)
	assert.Equal(t, "Updating plan", out[0].Data.Title)
	assert.Equal(t, "step 2", out[0].Data.Description)
	assert.Equal(t, ToolStatusInProgress, out[0].Data.Tool.Status)

	out = Dispatch(ev(t, `{"type":"tool_call","tool":"request_clarification","args":{"reason":"Which region?"}}`), c)
	require.Len(t, out, 1)
	assert.Equal(t, "Which region?", out[0].Data.Description)
	assert.Equal(t, "Which region?", out[0].Data.Reason)
}

func TestDispatchContentChunkRecordsStep(t *testing.T) {
	c := newTestContext(nil)
	_, ok := c.Fold.LastStep()
	assert.False(t, ok)

	Dispatch(ev(t, `{"type":"content_chunk","content":"a","step":3}`), c)
	step, ok := c.Fold.LastStep()
	require.True(t, ok)
	assert.Equal(t, 3, step)

	Dispatch(ev(t, `{"type":"content_chunk","content":"b"}`), c)
	step, _ = c.Fold.LastStep()
	assert.Equal(t, 3, step, "chunk without step keeps the last one")

	c.Fold.Reset()
	_, ok = c.Fold.LastStep()
	assert.False(t, ok)
}
