package httprouter

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"go.vocdoni.io/spendnote/log"
)

// DefaultContentType is used when the handler does not set one.
const DefaultContentType = "application/json"

// RequestIDHeader carries the identifier assigned to every routed request, so
// that a client report can be matched with the node logs.
const RequestIDHeader = "X-Request-Id"

// maxLoggedResponse is how much of a response body makes it to the debug log.
const maxLoggedResponse = 256

var (
	errConnectionClosed = errors.New("connection is closed")
	errAlreadySent      = errors.New("response already sent")
)

// Message is what a RouterNamespace handler receives. Data is whatever the
// namespace produced in ProcessData.
type Message struct {
	Data      any
	TimeStamp time.Time
	Path      []string
	Context   *HTTPContext
}

// HTTPContext wraps one in-flight request. Handlers must answer through Send
// exactly once, since the router waits for it before returning to net/http.
type HTTPContext struct {
	Writer    http.ResponseWriter
	Request   *http.Request
	RequestID uuid.UUID

	contentType string
	received    time.Time
	sent        chan struct{}
	done        bool
}

func newHTTPContext(w http.ResponseWriter, req *http.Request) *HTTPContext {
	hc := &HTTPContext{
		Writer:    w,
		Request:   req,
		RequestID: uuid.New(),
		received:  time.Now(),
		sent:      make(chan struct{}),
	}
	w.Header().Set(RequestIDHeader, hc.RequestID.String())
	return hc
}

// SetResponseContentType overrides DefaultContentType for this response.
func (h *HTTPContext) SetResponseContentType(contentType string) {
	h.contentType = contentType
}

// URLParam returns the path parameter declared as {key} in the route pattern.
func (h *HTTPContext) URLParam(key string) string {
	return chi.URLParam(h.Request, key)
}

// Send writes msg followed by a newline with the given status. Bodies are
// never written for 204 responses.
func (h *HTTPContext) Send(msg []byte, httpStatusCode int) error {
	if h.done {
		return errAlreadySent
	}
	h.done = true
	defer func() {
		if r := recover(); r != nil {
			log.Warnw("recovered http send panic", "request", h.RequestID, "panic", r)
		}
	}()
	defer close(h.sent)

	if http.StatusText(httpStatusCode) == "" {
		h.Writer.WriteHeader(http.StatusInternalServerError)
		return errors.New("unknown http status code " + strconv.Itoa(httpStatusCode))
	}
	if h.Request.Context().Err() != nil {
		return errConnectionClosed
	}
	contentType := h.contentType
	if contentType == "" {
		contentType = DefaultContentType
	}
	h.Writer.Header().Set("Content-Type", contentType)

	if httpStatusCode == http.StatusNoContent {
		h.Writer.WriteHeader(httpStatusCode)
		h.logResponse(httpStatusCode, nil)
		return nil
	}
	h.Writer.Header().Set("Content-Length", strconv.Itoa(len(msg)+1))
	h.Writer.WriteHeader(httpStatusCode)
	h.logResponse(httpStatusCode, msg)
	if _, err := h.Writer.Write(msg); err != nil {
		return err
	}
	_, err := h.Writer.Write([]byte("\n"))
	return err
}

func (h *HTTPContext) logResponse(status int, msg []byte) {
	if len(msg) > maxLoggedResponse {
		msg = append(msg[:maxLoggedResponse:maxLoggedResponse], "..."...)
	}
	log.Debugw("http response",
		"request", h.RequestID,
		"method", h.Request.Method,
		"path", h.Request.URL.Path,
		"status", status,
		"took", time.Since(h.received),
		"data", string(msg))
}
