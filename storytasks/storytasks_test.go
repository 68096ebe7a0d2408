package storytasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/storyjobs/remote"
	"github.com/jonwraymond/storyjobs/resilience"
	"github.com/jonwraymond/storyjobs/taskqueue"
)

// fakeRemote answers each remote function from a table and records payloads.
type fakeRemote struct {
	mu       sync.Mutex
	payloads map[string][]any
	replies  map[string]func(payload any) ([]byte, error)
}

func (f *fakeRemote) Call(_ context.Context, function string, payload any) ([]byte, error) {
	f.mu.Lock()
	if f.payloads == nil {
		f.payloads = make(map[string][]any)
	}
	f.payloads[function] = append(f.payloads[function], payload)
	reply := f.replies[function]
	f.mu.Unlock()

	if reply == nil {
		return nil, resilience.Permanent(remote.ErrUnknownFunction)
	}
	return reply(payload)
}

func (f *fakeRemote) calls(function string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[function]
}

func setup(t *testing.T, fr *fakeRemote) *taskqueue.Queue {
	t.Helper()
	q := taskqueue.New(taskqueue.Config{RetryBase: time.Millisecond})
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	ex := remote.NewExecutor(fr, remote.Config{MaxRetries: 1, RetryDelays: []time.Duration{time.Millisecond}})
	_, err := Register(q, ex)
	require.NoError(t, err)
	return q
}

func wait(t *testing.T, q *taskqueue.Queue, id string) taskqueue.Task {
	t.Helper()
	var task taskqueue.Task
	require.Eventually(t, func() bool {
		task, _ = q.Get(id)
		return task.Status.IsTerminal()
	}, 2*time.Second, time.Millisecond)
	return task
}

func jsonReply(v any) func(any) ([]byte, error) {
	return func(any) ([]byte, error) { return sonic.Marshal(v) }
}

func TestGenerate(t *testing.T) {
	fr := &fakeRemote{replies: map[string]func(any) ([]byte, error){
		FuncGenerateStory: jsonReply(Story{ID: "s-1", Title: "Mila and the Moon", Content: "Once upon a time..."}),
	}}
	q := setup(t, fr)

	var progress []int
	var mu sync.Mutex
	id, err := q.Add(TypeGenerate, GenerateRequest{ChildName: "Mila", Theme: "space"},
		taskqueue.OnProgress(func(p int) {
			mu.Lock()
			defer mu.Unlock()
			progress = append(progress, p)
		}))
	require.NoError(t, err)

	task := wait(t, q, id)
	require.Equal(t, taskqueue.StatusCompleted, task.Status, task.Error)
	story, ok := task.Result.(Story)
	require.True(t, ok)
	assert.Equal(t, "Mila and the Moon", story.Title)
	assert.Empty(t, story.NarrationTaskID)

	sent := fr.calls(FuncGenerateStory)
	require.Len(t, sent, 1)
	assert.Equal(t, "Mila", sent[0].(GenerateRequest).ChildName)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{10, 80, 100}, progress)
}

func TestGenerate_QueuesNarration(t *testing.T) {
	fr := &fakeRemote{replies: map[string]func(any) ([]byte, error){
		FuncGenerateStory: jsonReply(Story{ID: "s-2", Title: "The Kind Dragon", Content: "A dragon who loved tea."}),
		FuncTextToSpeech:  jsonReply(Narration{AudioURL: "https://cdn.example/s-2.mp3", DurationSeconds: 42}),
	}}
	q := setup(t, fr)

	id, err := q.Add(TypeGenerate, map[string]any{
		"child_name": "Noah",
		"theme":      "dragons",
		"narrate":    true,
		"voice":      "warm",
	}, taskqueue.Priority(4))
	require.NoError(t, err)

	task := wait(t, q, id)
	require.Equal(t, taskqueue.StatusCompleted, task.Status, task.Error)
	story := task.Result.(Story)
	require.NotEmpty(t, story.NarrationTaskID)

	narration := wait(t, q, story.NarrationTaskID)
	require.Equal(t, taskqueue.StatusCompleted, narration.Status, narration.Error)
	assert.Equal(t, 4, narration.Priority)
	n := narration.Result.(Narration)
	assert.Equal(t, "s-2", n.StoryID)
	assert.Equal(t, "https://cdn.example/s-2.mp3", n.AudioURL)

	sent := fr.calls(FuncTextToSpeech)
	require.Len(t, sent, 1)
	assert.Equal(t, NarrateRequest{StoryID: "s-2", Text: "A dragon who loved tea.", Voice: "warm"}, sent[0])
}

func TestGenerate_InvalidPayloadFailsWithoutRetry(t *testing.T) {
	fr := &fakeRemote{}
	q := setup(t, fr)

	id, err := q.Add(TypeGenerate, GenerateRequest{ChildName: "Mila"}, taskqueue.MaxRetries(3))
	require.NoError(t, err)

	task := wait(t, q, id)
	assert.Equal(t, taskqueue.StatusFailed, task.Status)
	assert.ErrorIs(t, task.Err, ErrInvalidPayload)
	assert.Zero(t, task.Retries)
	assert.Empty(t, fr.calls(FuncGenerateStory))

	id, err = q.Add(TypeNarrate, []byte(`{not json`))
	require.NoError(t, err)
	task = wait(t, q, id)
	assert.ErrorIs(t, task.Err, ErrInvalidPayload)

	id, err = q.Add(TypePublish, nil)
	require.NoError(t, err)
	task = wait(t, q, id)
	assert.ErrorIs(t, task.Err, ErrInvalidPayload)
}

func TestNarrate_RemoteCallerFaultIsTerminal(t *testing.T) {
	fr := &fakeRemote{replies: map[string]func(any) ([]byte, error){
		FuncTextToSpeech: func(any) ([]byte, error) {
			return nil, resilience.Permanent(errors.New("voice not found"))
		},
	}}
	q := setup(t, fr)

	id, err := q.Add(TypeNarrate, NarrateRequest{StoryID: "s-3", Text: "hello"}, taskqueue.MaxRetries(3))
	require.NoError(t, err)

	task := wait(t, q, id)
	assert.Equal(t, taskqueue.StatusFailed, task.Status)
	assert.True(t, resilience.IsNonRetryable(task.Err))
	assert.Zero(t, task.Retries)
	assert.Len(t, fr.calls(FuncTextToSpeech), 1)
}

func TestPublish_RetriesTransientFailures(t *testing.T) {
	var mu sync.Mutex
	failures := 0
	fr := &fakeRemote{replies: map[string]func(any) ([]byte, error){
		FuncWorkflowWebhook: func(any) ([]byte, error) {
			mu.Lock()
			defer mu.Unlock()
			if failures < 3 {
				failures++
				return nil, errors.New("502 bad gateway")
			}
			return []byte(`{"ok":true}`), nil
		},
	}}
	q := setup(t, fr)

	id, err := q.Add(TypePublish, PublishRequest{StoryID: "s-4", Event: "story.ready"}, taskqueue.MaxRetries(3))
	require.NoError(t, err)

	task := wait(t, q, id)
	require.Equal(t, taskqueue.StatusCompleted, task.Status, task.Error)
	assert.Equal(t, 1, task.Retries, "first execute exhausts its two attempts, second succeeds")
	assert.Equal(t, "delivered", task.Result.(map[string]string)["status"])
}

func TestDecode(t *testing.T) {
	req := NarrateRequest{StoryID: "s", Text: "t"}

	got, err := decode[NarrateRequest](req)
	require.NoError(t, err)
	assert.Equal(t, req, got)

	got, err = decode[NarrateRequest](&req)
	require.NoError(t, err)
	assert.Equal(t, req, got)

	got, err = decode[NarrateRequest]([]byte(`{"story_id":"s","text":"t"}`))
	require.NoError(t, err)
	assert.Equal(t, req, got)

	got, err = decode[NarrateRequest](map[string]any{"story_id": "s", "text": "t"})
	require.NoError(t, err)
	assert.Equal(t, req, got)

	_, err = decode[NarrateRequest](nil)
	assert.True(t, taskqueue.IsNoRetry(err))
}
