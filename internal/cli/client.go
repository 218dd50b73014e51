package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api, CLI не импортирует internal/api) ---

// AccountResponse — учётная запись из API.
type AccountResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// BuildRequest — параметры сборки для API.
type BuildRequest struct {
	Private  bool              `json:"private"`
	Debug    bool              `json:"debug"`
	Hydrates bool              `json:"hydrates"`
	Keys     map[string]KeyRef `json:"keys,omitempty"`
}

// KeyRef — ссылка на ключ подписи.
type KeyRef struct {
	ID       int64  `json:"id"`
	Password string `json:"password,omitempty"`
}

// apiResponse — конверт ответа API: {code, result|message}.
type apiResponse struct {
	Code    int             `json:"code"`
	Result  json.RawMessage `json:"result"`
	Message string          `json:"message"`
}

// Client — HTTP клиент для API сервера.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient создаёт новый Client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 5 * time.Minute, // build загружает архив проекта
		},
	}
}

// Me возвращает учётную запись владельца токена.
func (c *Client) Me(key string) (*AccountResponse, error) {
	var account AccountResponse
	if err := c.get("/me/"+url.PathEscape(key), &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// Init создаёт новый проект из скелета.
func (c *Client) Init(user, project string) error {
	return c.get(c.path("init", user, project), nil)
}

// Info возвращает сохранённый статус сборки проекта.
func (c *Client) Info(user, project, uid string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.get(c.path("info", user, project, uid), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Build отправляет проект на сборку.
func (c *Client) Build(user, project, uid, key string, req BuildRequest) error {
	return c.post(c.path("build", user, project, uid, key), req, nil)
}

// Remove удаляет запись проекта.
func (c *Client) Remove(user, project, uid string) error {
	return c.get(c.path("remove", user, project, uid), nil)
}

// path собирает путь из сегментов с экранированием.
func (c *Client) path(segments ...string) string {
	out := ""
	for _, s := range segments {
		out += "/" + url.PathEscape(s)
	}
	return out
}

// get выполняет GET запрос.
func (c *Client) get(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	return c.decode(resp, out)
}

// post выполняет POST запрос с JSON телом.
func (c *Client) post(path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	return c.decode(resp, out)
}

// decode разбирает конверт {code, result|message}.
func (c *Client) decode(resp *http.Response, out any) error {
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}

	if envelope.Code != 1 {
		if envelope.Message == "" {
			return errors.New("request failed")
		}
		return errors.New(envelope.Message)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}
