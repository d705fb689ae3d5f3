/*
Package client provides easy and fast in-process access to the REST api

Instead of marshalling HTTP, the client talks directly to the mux router. It is
perfectly suited for unit tests. With NewWithURL the same client talks to a running
service over HTTP.

Every response is decoded into the API's envelope:

	var conversations struct{ Conversations []store.Conversation }
	res, err := client.WithAuthorization(auth).Get("/api/chat/conversations", &conversations)
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/kumii/core/access"
	"github.com/relabs-tech/kumii/core/envelope"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	auth       *access.Authorization
	ctx        context.Context

	defaultHeaders map[string]string
}

// Response is a decoded API response
type Response struct {
	Status     int                   `json:"-"`
	Header     http.Header           `json:"-"`
	Success    bool                  `json:"success"`
	Data       json.RawMessage       `json:"data"`
	Message    string                `json:"message"`
	Error      string                `json:"error"`
	Details    []envelope.FieldError `json:"details"`
	Pagination *envelope.Pagination  `json:"pagination"`
	// Body is the raw response body
	Body []byte `json:"-"`
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithAuthorization() adds an authorization to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            strings.TrimSuffix(url, "/"),
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := map[string]string{key: value}
	for k, v := range c.defaultHeaders {
		if k != key {
			headers[k] = v
		}
	}
	c.defaultHeaders = headers
	return c
}

// WithToken returns a new client with a bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithAuthorization returns a new client with specific authorizations
// (this works only directly against the mux router, for a normal client
// use WithToken())
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context of the client
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = access.ContextWithAuthorization(ctx, c.auth)
	}
	return ctx
}

// Path joins the elements and appends the query parameters
func Path(query url.Values, elements ...string) string {
	path := "/" + strings.Join(elements, "/")
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return path
}

// Do sends a request with the method to path. body can be nil, a []byte or an object,
// which is marshalled to JSON. If the response is successful and data is non-nil, the
// envelope's data is unmarshalled into data.
//
// Do returns an error for transport failures and for responses with a status code of
// 300 or above. The response is returned in both cases.
func (c Client) Do(method, path string, body interface{}, data interface{}) (*Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		j, ok := body.([]byte)
		if !ok {
			var err error
			j, err = json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", method, path, err)
			}
		}
		reader = bytes.NewReader(j)
	}
	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	return c.send(r, data)
}

func (c Client) send(r *http.Request, data interface{}) (*Response, error) {
	for key, value := range c.defaultHeaders {
		r.Header.Set(key, value)
	}

	res := &Response{}
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res.Status = rec.Code
		res.Header = rec.Header()
		res.Body = rec.Body.Bytes()
	} else {
		if c.token != "" {
			r.Header.Set("Authorization", "Bearer "+c.token)
		}
		httpRes, err := c.httpClient.Do(r)
		if err != nil {
			return nil, err
		}
		defer httpRes.Body.Close()
		res.Status = httpRes.StatusCode
		res.Header = httpRes.Header
		res.Body, _ = io.ReadAll(httpRes.Body)
	}

	if len(res.Body) > 0 && strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(res.Body, res); err != nil {
			return res, fmt.Errorf("%s %s: cannot decode response: %w", r.Method, r.URL.Path, err)
		}
	}
	if res.Status >= 300 {
		message := res.Error
		if message == "" {
			message = strings.TrimSpace(string(res.Body))
		}
		return res, fmt.Errorf("%s %s: status %d: %s", r.Method, r.URL.Path, res.Status, message)
	}
	if data != nil && len(res.Data) > 0 {
		if err := json.Unmarshal(res.Data, data); err != nil {
			return res, fmt.Errorf("%s %s: cannot decode data: %w", r.Method, r.URL.Path, err)
		}
	}
	return res, nil
}

// Get gets the resource from path
func (c Client) Get(path string, data interface{}) (*Response, error) {
	return c.Do(http.MethodGet, path, nil, data)
}

// Post posts body to path
func (c Client) Post(path string, body interface{}, data interface{}) (*Response, error) {
	return c.Do(http.MethodPost, path, body, data)
}

// Put puts body to path
func (c Client) Put(path string, body interface{}, data interface{}) (*Response, error) {
	return c.Do(http.MethodPut, path, body, data)
}

// Patch patches path with body
func (c Client) Patch(path string, body interface{}, data interface{}) (*Response, error) {
	return c.Do(http.MethodPatch, path, body, data)
}

// Delete deletes the resource at path
func (c Client) Delete(path string, data interface{}) (*Response, error) {
	return c.Do(http.MethodDelete, path, nil, data)
}

// PostFile posts a multipart form with a single file in field
func (c Client) PostFile(path, field, fileName, contentType string, content []byte, data interface{}) (*Response, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, fileName)}
	header["Content-Type"] = []string{contentType}
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	r, err := http.NewRequestWithContext(c.Context(), http.MethodPost, c.url+path, &buf)
	if err != nil {
		return nil, err
	}
	r.Header.Set("Content-Type", writer.FormDataContentType())
	return c.send(r, data)
}
