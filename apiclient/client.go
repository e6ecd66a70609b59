// Package apiclient is a Go client for the spend note HTTP API.
package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"

	"go.vocdoni.io/spendnote/crypto/ethereum"
	"go.vocdoni.io/spendnote/httprouter/apirest"
	"go.vocdoni.io/spendnote/log"
)

const (
	// HTTPGET is the method string used for calling Request()
	HTTPGET = "GET"
	// HTTPPOST is the method string used for calling Request()
	HTTPPOST = "POST"

	errCodeNot200 = "API server returned status code is not 200"
)

// HTTPclient is the spend note API HTTP client.
type HTTPclient struct {
	c       *http.Client
	token   *uuid.UUID
	addr    *url.URL
	account *ethereum.SignKeys
}

// NewHTTPclient creates a new HTTP(s) API client. The server is reached once
// to check it answers.
func NewHTTPclient(addr *url.URL, bearerToken *uuid.UUID) (*HTTPclient, error) {
	tr := &http.Transport{
		IdleConnTimeout:    10 * time.Second,
		DisableCompression: false,
		WriteBufferSize:    1 * 1024 * 1024, // 1 MiB
		ReadBufferSize:     1 * 1024 * 1024, // 1 MiB
	}
	c := &HTTPclient{
		// issuing runs the prover, which may take a while
		c:     &http.Client{Transport: tr, Timeout: time.Minute * 2},
		token: bearerToken,
		addr:  addr,
	}
	if _, err := c.Root(); err != nil {
		return nil, err
	}
	return c, nil
}

// SetAccount sets the account used for signing claims.
func (c *HTTPclient) SetAccount(accountPrivateKey string) error {
	c.account = ethereum.NewSignKeys()
	return c.account.AddHexKey(accountPrivateKey)
}

// MyAddress returns the address of the account set with SetAccount.
func (c *HTTPclient) MyAddress() string {
	if c.account == nil {
		return ""
	}
	return c.account.Address().Hex()
}

// SetAuthToken configures the bearer authentication token.
func (c *HTTPclient) SetAuthToken(token *uuid.UUID) {
	c.token = token
}

// Request performs a `method` type raw request to the endpoint specified in urlPath parameter.
// Method is either GET or POST. If POST, a JSON struct should be attached. Returns the response,
// the status code and an error.
func (c *HTTPclient) Request(method string, jsonBody any, urlPath ...string) ([]byte, int, error) {
	var body []byte
	if jsonBody != nil {
		var err error
		if body, err = json.Marshal(jsonBody); err != nil {
			return nil, 0, err
		}
	}
	u, err := url.Parse(c.addr.String())
	if err != nil {
		return nil, 0, err
	}
	u.Path = path.Join(u.Path, path.Join(urlPath...))
	headers := http.Header{
		"User-Agent":   []string{"spendnote API client / 1.0"},
		"Content-Type": []string{"application/json"},
	}
	if c.token != nil {
		headers.Set("Authorization", "Bearer "+c.token.String())
	}
	log.Debugf("%s %s", method, u)
	resp, err := c.c.Do(&http.Request{
		Method: method,
		URL:    u,
		Header: headers,
		Body:   io.NopCloser(bytes.NewBuffer(body)),
	})
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return data, resp.StatusCode, nil
}

// Error is a non 200 answer of the API. Code is the API error code, zero
// if the body was not an API error.
type Error struct {
	HTTPstatus int
	Code       int
	Message    string
}

func (e *Error) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("%s: %d (%s)", errCodeNot200, e.HTTPstatus, e.Message)
	}
	return fmt.Sprintf("%s: %d (code %d: %s)", errCodeNot200, e.HTTPstatus, e.Code, e.Message)
}

// call performs a request and decodes a 200 answer into out.
func (c *HTTPclient) call(method string, jsonBody, out any, urlPath ...string) error {
	data, status, err := c.Request(method, jsonBody, urlPath...)
	if err != nil {
		return err
	}
	if status != apirest.HTTPstatusOK {
		apiErr := struct {
			Error string `json:"error"`
			Code  int    `json:"code"`
		}{}
		if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Code == 0 {
			return &Error{HTTPstatus: status, Message: string(bytes.TrimSpace(data))}
		}
		return &Error{HTTPstatus: status, Code: apiErr.Code, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("could not unmarshal response: %w", err)
	}
	return nil
}
