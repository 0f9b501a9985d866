// Package api is the HTTP client for the chat REST collaborator. Every
// failure it returns is an *apperr.Error so callers can branch on the kind.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chatsync/internal/apperr"
	"chatsync/internal/logging"
	"chatsync/internal/model"
	"chatsync/internal/persist"
)

const (
	codeTokenExpired = "token_expired"
	maxBodyBytes     = 4 << 20
)

type Client struct {
	baseURL string
	http    *http.Client
	tokens  persist.Reader
	logger  *slog.Logger
}

// New returns a client for baseURL. Authenticated calls read the token from
// tokens on every request.
func New(baseURL string, timeout time.Duration, tokens persist.Reader, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		logger:  logging.OrDefault(logger),
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (c *Client) Authenticate(ctx context.Context, creds model.Credentials) (string, error) {
	form := url.Values{}
	form.Set("username", creds.Email)
	form.Set("password", creds.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", apperr.Wrap(apperr.Unknown, "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out tokenResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", apperr.New(apperr.Unknown, "Login response did not include a token")
	}
	return out.AccessToken, nil
}

func (c *Client) RegisterAccount(ctx context.Context, reg model.Registration) (model.User, error) {
	var out model.User
	err := c.send(ctx, http.MethodPost, "/users/", "", reg, &out)
	return out, err
}

func (c *Client) FetchCurrentUser(ctx context.Context, token string) (model.User, error) {
	var out model.User
	err := c.send(ctx, http.MethodGet, "/users/me", token, nil, &out)
	return out, err
}

func (c *Client) ListChats(ctx context.Context) ([]model.Chat, error) {
	var out []model.Chat
	err := c.authed(ctx, http.MethodGet, "/chats/", nil, &out)
	return out, err
}

func (c *Client) GetChat(ctx context.Context, chatID int64) (model.Chat, error) {
	var out model.Chat
	err := c.authed(ctx, http.MethodGet, chatPath(chatID), nil, &out)
	return out, err
}

func (c *Client) CreateChat(ctx context.Context, spec model.ChatCreate) (model.Chat, error) {
	var out model.Chat
	err := c.authed(ctx, http.MethodPost, "/chats/", spec, &out)
	return out, err
}

func (c *Client) UpdateChat(ctx context.Context, chatID int64, patch model.ChatUpdate) (model.Chat, error) {
	var out model.Chat
	err := c.authed(ctx, http.MethodPut, chatPath(chatID), patch, &out)
	return out, err
}

func (c *Client) DeleteChat(ctx context.Context, chatID int64) error {
	return c.authed(ctx, http.MethodDelete, chatPath(chatID), nil, nil)
}

func (c *Client) AddParticipant(ctx context.Context, chatID int64, email string) (model.Chat, error) {
	var out model.Chat
	err := c.authed(ctx, http.MethodPost, chatPath(chatID)+"/participants", map[string]string{"email": email}, &out)
	return out, err
}

func (c *Client) RemoveParticipant(ctx context.Context, chatID int64, email string) (model.Chat, error) {
	var out model.Chat
	path := chatPath(chatID) + "/participants?email=" + url.QueryEscape(email)
	err := c.authed(ctx, http.MethodDelete, path, nil, &out)
	return out, err
}

func (c *Client) LeaveChat(ctx context.Context, chatID int64) error {
	return c.authed(ctx, http.MethodPost, chatPath(chatID)+"/leave", nil, nil)
}

func (c *Client) ListMessages(ctx context.Context, chatID int64) ([]model.Message, error) {
	var out []model.Message
	err := c.authed(ctx, http.MethodGet, messagePath(chatID), nil, &out)
	return out, err
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, content string) (model.Message, error) {
	var out model.Message
	err := c.authed(ctx, http.MethodPost, messagePath(chatID), map[string]string{"content": content}, &out)
	return out, err
}

func (c *Client) EditMessage(ctx context.Context, messageID int64, content string) (model.Message, error) {
	var out model.Message
	err := c.authed(ctx, http.MethodPatch, messagePath(messageID), map[string]string{"content": content}, &out)
	return out, err
}

func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	return c.authed(ctx, http.MethodDelete, messagePath(messageID), nil, nil)
}

func chatPath(id int64) string    { return "/chats/" + strconv.FormatInt(id, 10) }
func messagePath(id int64) string { return "/messages/" + strconv.FormatInt(id, 10) }

func (c *Client) authed(ctx context.Context, method, path string, body, out any) error {
	token, ok, err := c.tokens.Get(persist.TokenKey)
	if err != nil {
		return apperr.Wrap(apperr.Unknown, "read token", err)
	}
	if !ok || token == "" {
		return apperr.New(apperr.AuthInvalid, "Not authenticated")
	}
	return c.send(ctx, method, path, token, body, out)
}

func (c *Client) send(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.Validation, "encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperr.Wrap(apperr.Unknown, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return apperr.Wrap(apperr.Transient, "Unable to connect to the server", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return apperr.Wrap(apperr.Transient, "read response", err)
	}

	if resp.StatusCode >= 300 {
		e := classify(resp.StatusCode, data)
		if e.Kind == apperr.Unknown {
			c.logger.Error("unexpected api response", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode)
		}
		return e
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Wrap(apperr.Unknown, "decode response", err)
	}
	return nil
}

func classify(status int, data []byte) *apperr.Error {
	var body errorBody
	_ = json.Unmarshal(data, &body)
	msg := body.Error
	if msg == "" {
		msg = body.Detail
	}
	if msg == "" {
		msg = fmt.Sprintf("Request failed with status %d", status)
	}

	switch {
	case status == http.StatusUnauthorized:
		if body.Code == codeTokenExpired {
			return apperr.New(apperr.AuthExpired, msg)
		}
		return apperr.New(apperr.AuthInvalid, msg)
	case status == http.StatusForbidden:
		return apperr.New(apperr.Forbidden, msg)
	case status == http.StatusNotFound:
		return apperr.New(apperr.NotFound, msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusConflict:
		return apperr.New(apperr.Validation, msg)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return apperr.New(apperr.Transient, msg)
	default:
		return apperr.New(apperr.Unknown, msg)
	}
}
