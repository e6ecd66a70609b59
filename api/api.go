// Package api exposes the spend note flows over HTTP.
package api

import (
	"fmt"
	"strings"

	"go.vocdoni.io/spendnote/coordinator"
	"go.vocdoni.io/spendnote/httprouter"
	"go.vocdoni.io/spendnote/httprouter/apirest"
)

const (
	NotesHandler  = "notes"
	ClaimsHandler = "claims"

	// DefaultMaxLinkTTLMinutes bounds the validity of the links the API
	// creates, unless SetMaxLinkTTL is called.
	DefaultMaxLinkTTLMinutes = 60 * 24 * 30
)

var (
	ErrMissingModulesForHandler = fmt.Errorf("missing modules attached for enabling handler")
	ErrHandlerUnknown           = fmt.Errorf("handler unknown")
	ErrHTTPRouterIsNil          = fmt.Errorf("httprouter is nil")
	ErrBaseRouteInvalid         = fmt.Errorf("base route must start with /")
)

// API is the URL based REST API supporting bearer authentication.
type API struct {
	Endpoint *apirest.API

	coordinator       *coordinator.Coordinator
	maxLinkTTLMinutes int
}

// NewAPI creates a new instance of the API. Attach must be called next.
func NewAPI(router *httprouter.HTTProuter, baseRoute string) (*API, error) {
	if router == nil {
		return nil, ErrHTTPRouterIsNil
	}
	if len(baseRoute) == 0 || baseRoute[0] != '/' {
		return nil, fmt.Errorf("%w (invalid given: %s)", ErrBaseRouteInvalid, baseRoute)
	}
	if len(baseRoute) > 1 {
		baseRoute = strings.TrimSuffix(baseRoute, "/")
	}
	endpoint, err := apirest.NewAPI(router, baseRoute)
	if err != nil {
		return nil, err
	}
	return &API{Endpoint: endpoint, maxLinkTTLMinutes: DefaultMaxLinkTTLMinutes}, nil
}

// Attach takes the modules used by the handlers. It must be called before
// EnableHandlers.
func (a *API) Attach(c *coordinator.Coordinator) {
	a.coordinator = c
}

// SetMaxLinkTTL sets the longest claim link validity, in minutes, an issue
// request may ask for. Non positive values are ignored.
func (a *API) SetMaxLinkTTL(minutes int) {
	if minutes > 0 {
		a.maxLinkTTLMinutes = minutes
	}
}

// EnableHandlers enables the list of handlers. Attach must be called before.
func (a *API) EnableHandlers(handlers ...string) error {
	for _, h := range handlers {
		switch h {
		case NotesHandler:
			if a.coordinator == nil {
				return fmt.Errorf("%w %s", ErrMissingModulesForHandler, h)
			}
			if err := a.enableNotesHandlers(); err != nil {
				return err
			}
		case ClaimsHandler:
			if a.coordinator == nil {
				return fmt.Errorf("%w %s", ErrMissingModulesForHandler, h)
			}
			if err := a.enableClaimsHandlers(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %s", ErrHandlerUnknown, h)
		}
	}
	return nil
}
