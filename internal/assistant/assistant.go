package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/UjanGuin/ZYLO-LINK/internal/metrics"
	"github.com/rs/zerolog/log"
)

// MentionToken 是触发助手的保留提及前缀，大小写不敏感。
const MentionToken = "@assistant"

// Mentioned 判断一条文本消息是否以提及前缀开头。
func Mentioned(content string) bool {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < len(MentionToken) {
		return false
	}
	return strings.EqualFold(trimmed[:len(MentionToken)], MentionToken)
}

// Prompt 去掉提及前缀，返回真正要发给助手的内容。
func Prompt(content string) string {
	trimmed := strings.TrimSpace(content)
	return strings.TrimSpace(trimmed[len(MentionToken):])
}

// Invoker 是外部补全调用的边界，测试用桩实现替换。
type Invoker interface {
	Complete(ctx context.Context, prompt, apiKey string) (string, error)
}

// HTTPInvoker 调用 chat-completions 风格的 HTTP 接口。
type HTTPInvoker struct {
	URL        string
	Model      string
	DefaultKey string
	Client     *http.Client
}

func NewHTTPInvoker(url, model, defaultKey string) *HTTPInvoker {
	return &HTTPInvoker{
		URL:        url,
		Model:      model,
		DefaultKey: defaultKey,
		Client:     &http.Client{Timeout: 60 * time.Second},
	}
}

func (h *HTTPInvoker) Complete(ctx context.Context, prompt, apiKey string) (string, error) {
	payload := map[string]interface{}{
		"model": h.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	key := apiKey
	if key == "" {
		key = h.DefaultKey
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := h.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("assistant upstream status %d", resp.StatusCode)
	}
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("assistant upstream returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// Job 是一次待执行的助手调用。
type Job struct {
	RoomID string
	Prompt string
	APIKey string
}

// PublishFunc 在调用完成后把回复重新注入房间的持久化与广播路径。
type PublishFunc func(roomID, reply string)

// Bridge 把助手调用调度到有界队列上的 worker 执行，完成后经 publish
// 回到普通消息通路；入站会话任务从不等待外部调用。
type Bridge struct {
	invoker Invoker
	publish PublishFunc
	jobs    chan Job
	wg      sync.WaitGroup
	timeout time.Duration
}

func NewBridge(invoker Invoker, publish PublishFunc, workers, queueSize int) *Bridge {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	b := &Bridge{
		invoker: invoker,
		publish: publish,
		jobs:    make(chan Job, queueSize),
		timeout: 90 * time.Second,
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

// Dispatch 非阻塞入队；队列满时立即以忙碌文案降级成回复，绝不拖住发送方。
func (b *Bridge) Dispatch(job Job) {
	select {
	case b.jobs <- job:
	default:
		metrics.AssistantFailures.Inc()
		b.publish(job.RoomID, "Assistant is busy right now, please try again in a moment.")
	}
}

// Close 停止接收新任务并等待在途任务全部完成，测试靠它确定性收尾。
func (b *Bridge) Close() {
	close(b.jobs)
	b.wg.Wait()
}

func (b *Bridge) worker() {
	defer b.wg.Done()
	for job := range b.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		reply, err := b.invoker.Complete(ctx, job.Prompt, job.APIKey)
		cancel()
		metrics.AssistantCalls.Inc()
		if err != nil {
			// 外部失败吸收为助手口吻的错误文本，不上抛协议错误。
			metrics.AssistantFailures.Inc()
			log.Warn().Err(err).Str("room_id", job.RoomID).Msg("assistant call failed")
			reply = fmt.Sprintf("Assistant error: %v", err)
		}
		b.publish(job.RoomID, reply)
	}
}
