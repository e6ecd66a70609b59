package httprouter

import (
	"net/http"
	"net/http/httptest"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"
)

func TestHTTPContextSend(t *testing.T) {
	c := qt.New(t)
	w := httptest.NewRecorder()
	hc := newHTTPContext(w, httptest.NewRequest(http.MethodGet, "/v1/notes/root", nil))

	c.Assert(hc.Send([]byte(`{"size":1}`), http.StatusOK), qt.IsNil)
	c.Assert(w.Code, qt.Equals, http.StatusOK)
	c.Assert(w.Body.String(), qt.Equals, "{\"size\":1}\n")
	c.Assert(w.Header().Get("Content-Type"), qt.Equals, DefaultContentType)
	id, err := uuid.Parse(w.Header().Get(RequestIDHeader))
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Equals, hc.RequestID)

	// a second reply is refused instead of panicking on the closed channel
	c.Assert(hc.Send([]byte("again"), http.StatusOK), qt.Equals, errAlreadySent)
	select {
	case <-hc.sent:
	default:
		c.Fatal("sent channel was not closed")
	}
}

func TestHTTPContextNoContent(t *testing.T) {
	c := qt.New(t)
	w := httptest.NewRecorder()
	hc := newHTTPContext(w, httptest.NewRequest(http.MethodDelete, "/v1/x", nil))
	hc.SetResponseContentType("text/plain")

	c.Assert(hc.Send([]byte("ignored"), http.StatusNoContent), qt.IsNil)
	c.Assert(w.Code, qt.Equals, http.StatusNoContent)
	c.Assert(w.Body.Len(), qt.Equals, 0)
	c.Assert(w.Header().Get("Content-Type"), qt.Equals, "text/plain")
}
