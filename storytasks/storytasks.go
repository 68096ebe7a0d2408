// Package storytasks holds the task handlers for the children's story
// pipeline: text generation, narration and publication webhooks.
package storytasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/jonwraymond/storyjobs/remote"
	"github.com/jonwraymond/storyjobs/taskqueue"
)

// Task types.
const (
	TypeGenerate = "story.generate"
	TypeNarrate  = "story.narrate"
	TypePublish  = "story.publish"
)

// Remote function names.
const (
	FuncGenerateStory   = "generate-story"
	FuncTextToSpeech    = "text-to-speech"
	FuncWorkflowWebhook = "workflow-webhook"
)

// GenerateTimeout bounds each story generation attempt; language-model
// calls run longer than the executor default.
const GenerateTimeout = 45 * time.Second

// ErrInvalidPayload is returned, wrapped in taskqueue.NoRetry, for payloads
// that cannot be decoded or are missing required fields.
var ErrInvalidPayload = errors.New("storytasks: invalid payload")

// GenerateRequest asks for a new personalized story.
type GenerateRequest struct {
	ChildName string `json:"child_name"`
	Age       int    `json:"age,omitempty"`
	Theme     string `json:"theme"`
	Language  string `json:"language,omitempty"`
	Length    string `json:"length,omitempty"`

	// Narrate queues a narration task once the story text exists.
	Narrate bool   `json:"narrate,omitempty"`
	Voice   string `json:"voice,omitempty"`
}

// Story is the generated story text.
type Story struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`

	// NarrationTaskID is set when a narration task was queued.
	NarrationTaskID string `json:"narration_task_id,omitempty"`
}

// NarrateRequest asks for an audio rendition of a story.
type NarrateRequest struct {
	StoryID string `json:"story_id"`
	Text    string `json:"text"`
	Voice   string `json:"voice,omitempty"`
}

// Narration is the text-to-speech result.
type Narration struct {
	StoryID         string  `json:"story_id"`
	AudioURL        string  `json:"audio_url"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// PublishRequest notifies the workflow automation of a story event.
type PublishRequest struct {
	StoryID string         `json:"story_id"`
	Event   string         `json:"event"`
	Data    map[string]any `json:"data,omitempty"`
}

// Handlers runs story tasks through a remote executor.
type Handlers struct {
	queue    *taskqueue.Queue
	executor *remote.Executor
}

// Register installs the story handlers on q.
func Register(q *taskqueue.Queue, ex *remote.Executor) (*Handlers, error) {
	h := &Handlers{queue: q, executor: ex}
	for typ, fn := range map[string]taskqueue.Handler{
		TypeGenerate: h.Generate,
		TypeNarrate:  h.Narrate,
		TypePublish:  h.Publish,
	} {
		if err := q.RegisterHandler(typ, fn); err != nil {
			return nil, fmt.Errorf("storytasks: register %s: %w", typ, err)
		}
	}
	return h, nil
}

// Generate calls the story generation function and, when requested, queues
// narration of the result.
func (h *Handlers) Generate(ctx context.Context, task taskqueue.Task) (any, error) {
	req, err := decode[GenerateRequest](task.Payload)
	if err != nil {
		return nil, err
	}
	if req.ChildName == "" || req.Theme == "" {
		return nil, taskqueue.NoRetry(fmt.Errorf("%w: child_name and theme are required", ErrInvalidPayload))
	}
	taskqueue.ReportProgress(ctx, 10)

	story, err := remote.Call[Story](ctx, h.executor, FuncGenerateStory, req, remote.WithTimeout(GenerateTimeout))
	if err != nil {
		return nil, err
	}
	taskqueue.ReportProgress(ctx, 80)

	if req.Narrate {
		id, err := h.queue.Add(TypeNarrate, NarrateRequest{
			StoryID: story.ID,
			Text:    story.Content,
			Voice:   req.Voice,
		}, taskqueue.Priority(task.Priority))
		if err != nil {
			return nil, fmt.Errorf("storytasks: queue narration: %w", err)
		}
		story.NarrationTaskID = id
	}
	return story, nil
}

// Narrate renders story text to audio.
func (h *Handlers) Narrate(ctx context.Context, task taskqueue.Task) (any, error) {
	req, err := decode[NarrateRequest](task.Payload)
	if err != nil {
		return nil, err
	}
	if req.Text == "" {
		return nil, taskqueue.NoRetry(fmt.Errorf("%w: text is required", ErrInvalidPayload))
	}
	taskqueue.ReportProgress(ctx, 10)

	n, err := remote.Call[Narration](ctx, h.executor, FuncTextToSpeech, req)
	if err != nil {
		return nil, err
	}
	if n.StoryID == "" {
		n.StoryID = req.StoryID
	}
	return n, nil
}

// Publish delivers a story event to the workflow webhook. The webhook's
// response body is not interpreted.
func (h *Handlers) Publish(ctx context.Context, task taskqueue.Task) (any, error) {
	req, err := decode[PublishRequest](task.Payload)
	if err != nil {
		return nil, err
	}
	if req.StoryID == "" || req.Event == "" {
		return nil, taskqueue.NoRetry(fmt.Errorf("%w: story_id and event are required", ErrInvalidPayload))
	}

	if _, err := h.executor.Execute(ctx, FuncWorkflowWebhook, req); err != nil {
		return nil, err
	}
	return map[string]string{"story_id": req.StoryID, "event": req.Event, "status": "delivered"}, nil
}

// decode converts a task payload into T. Payloads added in-process arrive as
// T already; payloads from the API arrive as raw JSON or generic maps.
func decode[T any](payload any) (T, error) {
	var out T
	switch p := payload.(type) {
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
	case []byte:
		if err := sonic.Unmarshal(p, &out); err != nil {
			return out, taskqueue.NoRetry(fmt.Errorf("%w: %w", ErrInvalidPayload, err))
		}
		return out, nil
	case nil:
	default:
		raw, err := sonic.Marshal(p)
		if err == nil {
			err = sonic.Unmarshal(raw, &out)
		}
		if err != nil {
			return out, taskqueue.NoRetry(fmt.Errorf("%w: %w", ErrInvalidPayload, err))
		}
		return out, nil
	}
	return out, taskqueue.NoRetry(fmt.Errorf("%w: missing payload", ErrInvalidPayload))
}
