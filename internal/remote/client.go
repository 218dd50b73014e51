package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/shaiso/Apparat/internal/domain"
)

// Client — клиент удалённого сервиса сборки.
//
// Аутентификация: токен пользователя передаётся с каждым запросом
// (auth_token). Клиент не хранит токены — они приходят в envelope
// задачи или в запросе пользователя.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient создаёт клиент сервиса сборки.
// Таймаут большой: создание приложения загружает архив проекта.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// DefaultURL возвращает адрес сервиса сборки.
// Переопределяется через BUILD_API_URL.
func DefaultURL() string {
	if v := os.Getenv("BUILD_API_URL"); v != "" {
		return v
	}
	return "https://build.phonegap.com/api/v1"
}

// Account — учётная запись на сервисе сборки.
type Account struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// SigningKey — ключ подписи для одной платформы.
type SigningKey struct {
	// ID — идентификатор загруженного ключа на сервисе.
	ID int64 `json:"id"`

	// Password — пароль ключа, если требуется.
	Password string `json:"password,omitempty"`
}

// CreateOptions — параметры создания приложения.
type CreateOptions struct {
	Title    string
	Private  bool
	Debug    bool
	Hydrates bool

	// Keys — ключи подписи по платформам. Платформы без идентификатора
	// ключа в запрос не попадают: сервис отвергает пустые объекты ключей.
	Keys map[string]SigningKey
}

// appRequest — тело поля data в multipart-запросе создания.
type appRequest struct {
	Title        string                `json:"title"`
	CreateMethod string                `json:"create_method"`
	Private      bool                  `json:"private"`
	Debug        bool                  `json:"debug"`
	Hydrates     bool                  `json:"hydrates"`
	Keys         map[string]SigningKey `json:"keys,omitempty"`
}

func (o CreateOptions) form() appRequest {
	req := appRequest{
		Title:        o.Title,
		CreateMethod: "file",
		Private:      o.Private,
		Debug:        o.Debug,
		Hydrates:     o.Hydrates,
	}

	for platform, key := range o.Keys {
		if key.ID == 0 {
			continue
		}
		if req.Keys == nil {
			req.Keys = make(map[string]SigningKey)
		}
		req.Keys[platform] = key
	}

	return req
}

// Me возвращает учётную запись владельца токена.
func (c *Client) Me(ctx context.Context, token string) (*Account, error) {
	var account Account
	if err := c.get(ctx, token, "/me", &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// Status возвращает текущий отчёт о сборке приложения.
func (c *Client) Status(ctx context.Context, token string, appID int64) (*domain.StatusReport, error) {
	var report domain.StatusReport
	if err := c.get(ctx, token, fmt.Sprintf("/apps/%d", appID), &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Create создаёт новое приложение из архива проекта и возвращает
// первый отчёт о сборке.
func (c *Client) Create(ctx context.Context, token, archivePath string, opts CreateOptions) (*domain.StatusReport, error) {
	data, err := json.Marshal(opts.form())
	if err != nil {
		return nil, fmt.Errorf("marshal app request: %w", err)
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	// Архив стримится в тело запроса, в память целиком не читается.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		var werr error
		defer func() { pw.CloseWithError(werr) }()

		if werr = mw.WriteField("data", string(data)); werr != nil {
			return
		}
		part, perr := mw.CreateFormFile("file", filepath.Base(archivePath))
		if perr != nil {
			werr = perr
			return
		}
		if _, werr = io.Copy(part, file); werr != nil {
			return
		}
		werr = mw.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(token, "/apps"), pr)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var report domain.StatusReport
	if err := c.do(req, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Delete удаляет приложение с сервиса сборки.
func (c *Client) Delete(ctx context.Context, token string, appID int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint(token, fmt.Sprintf("/apps/%d", appID)), nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	return c.do(req, nil)
}

// get выполняет GET-запрос и декодирует ответ.
func (c *Client) get(ctx context.Context, token, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(token, path), nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	return c.do(req, out)
}

// do выполняет запрос и нормализует любую ошибку API в Error.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return nil
}

// endpoint собирает URL с токеном аутентификации.
func (c *Client) endpoint(token, path string) string {
	return c.baseURL + path + "?auth_token=" + url.QueryEscape(token)
}
