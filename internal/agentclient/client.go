// Package agentclient agent runtime 的 HTTP 客户端。
//
// 聊天与重新生成返回 text/event-stream, 由 sse.Decode 逐事件回调;
// 历史接口返回持久化 turn 列表 (裸数组或 {messages: [...]} 信封)。
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/sse"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/uistate"
	apperrors "github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/errors"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/logger"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/util"
)

const (
	// 错误响应体最多读取的字节数。
	errorBodyLimit = 2048
	// 历史接口默认超时 (流式接口不设客户端超时, 由调用方 ctx 控制)。
	defaultListTimeout = 30 * time.Second
)

// SendRequest 一次用户发送 (或重新生成) 的请求体。
type SendRequest struct {
	Message     string               `json:"message,omitempty"`
	AgentSlug   string               `json:"agent_slug,omitempty"`
	Attachments []uistate.Attachment `json:"attachments,omitempty"`
}

// Client agent runtime 客户端。
type Client struct {
	baseURL     string
	token       string
	listTimeout time.Duration
	httpCli     *http.Client
}

// New 创建客户端。listTimeout <= 0 时使用默认值。
func New(baseURL, token string, listTimeout time.Duration) *Client {
	if listTimeout <= 0 {
		listTimeout = defaultListTimeout
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		listTimeout: listTimeout,
		httpCli:     &http.Client{},
	}
}

// SendMessage POST 一条用户消息, 按顺序回调返回流中的每个事件。
func (c *Client) SendMessage(ctx context.Context, conversationID string, req SendRequest, fn func(uistate.Event) error) error {
	return c.stream(ctx, "agentclient.SendMessage", c.endpoint("conversations", conversationID, "chat"), req, fn)
}

// Regenerate 以持久化消息 id 重新生成, 返回流形状与 SendMessage 相同。
func (c *Client) Regenerate(ctx context.Context, conversationID, messageID string, req SendRequest, fn func(uistate.Event) error) error {
	if messageID == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "agentclient.Regenerate", "message id is required")
	}
	return c.stream(ctx, "agentclient.Regenerate", c.endpoint("conversations", conversationID, "messages", messageID, "regenerate"), req, fn)
}

// ListTurns 拉取会话的持久化 turn。
func (c *Client) ListTurns(ctx context.Context, conversationID string) ([]uistate.StoredTurn, error) {
	const op = "agentclient.ListTurns"
	ctx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("conversations", conversationID, "messages"), nil)
	if err != nil {
		return nil, apperrors.Wrap(err, op, "build request")
	}
	c.decorate(httpReq)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpCli.Do(httpReq)
	if err != nil {
		return nil, apperrors.Wrap(err, op, "request history")
	}
	defer resp.Body.Close()
	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, op, "read history")
	}
	turns, err := decodeTurns(body)
	if err != nil {
		return nil, apperrors.Wrap(err, op, "decode history")
	}
	logger.Debug("agentclient: history fetched",
		logger.FieldConversationID, conversationID,
		logger.FieldCount, len(turns),
	)
	return turns, nil
}

func (c *Client) stream(ctx context.Context, op, endpoint string, req SendRequest, fn func(uistate.Event) error) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return apperrors.Wrap(err, op, "encode request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return apperrors.Wrap(err, op, "build request")
	}
	c.decorate(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpCli.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return apperrors.WithCode(err, op, apperrors.CodeUpstream, "agent runtime unreachable")
	}
	defer resp.Body.Close()
	if err := checkStatus(op, resp); err != nil {
		return err
	}
	return sse.Decode(ctx, resp.Body, fn)
}

func (c *Client) decorate(r *http.Request) {
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// endpoint 拼接 /api/superagent/... 路径, 各段做 PathEscape。
func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, 0, len(segments)+2)
	escaped = append(escaped, "api", "superagent")
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

// checkStatus 非 2xx 转为 UPSTREAM_ERROR, 附带截断后的响应体。
func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	msg := strings.TrimSpace(util.Truncate(string(excerpt), 512))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	code := apperrors.CodeUpstream
	if resp.StatusCode == http.StatusNotFound {
		code = apperrors.CodeNotFound
	}
	logger.Warn("agentclient: upstream rejected request",
		logger.FieldStatus, resp.StatusCode,
		logger.FieldURL, resp.Request.URL.Redacted(),
	)
	return apperrors.WithCode(apperrors.ErrUpstream, op, code, "agent runtime returned "+resp.Status+": "+msg)
}

// decodeTurns 兼容 [...], {"messages": [...]}, {"data": [...]}。
func decodeTurns(body []byte) ([]uistate.StoredTurn, error) {
	if !gjson.ValidBytes(body) {
		return nil, apperrors.ErrMalformedEvent
	}
	root := gjson.ParseBytes(body)
	list := root
	if !root.IsArray() {
		list = gjson.Result{}
		for _, key := range []string{"messages", "data", "data.messages"} {
			if r := root.Get(key); r.IsArray() {
				list = r
				break
			}
		}
	}
	if !list.Exists() {
		return []uistate.StoredTurn{}, nil
	}
	var turns []uistate.StoredTurn
	if err := json.Unmarshal([]byte(list.Raw), &turns); err != nil {
		return nil, err
	}
	if turns == nil {
		turns = []uistate.StoredTurn{}
	}
	return turns, nil
}
