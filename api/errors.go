//nolint:lll
package api

import (
	"errors"
	"fmt"

	"go.vocdoni.io/spendnote/claimlink"
	"go.vocdoni.io/spendnote/commitment"
	"go.vocdoni.io/spendnote/coordinator"
	"go.vocdoni.io/spendnote/httprouter/apirest"
	"go.vocdoni.io/spendnote/ledger"
	"go.vocdoni.io/spendnote/prover"
)

// APIerror satisfies the error interface.
// Error() returns a human-readable description of the error.
//
// Error codes in the 4001-4999 range are the user's fault,
// and error codes 5001-5999 are the server's fault, mimicking HTTP.
var (
	ErrCantParseDataAsJSON   = apirest.APIerror{Code: 4001, HTTPstatus: apirest.HTTPstatusBadRequest, Err: fmt.Errorf("cannot parse data as JSON")}
	ErrAddressMalformed      = apirest.APIerror{Code: 4002, HTTPstatus: apirest.HTTPstatusBadRequest, Err: fmt.Errorf("address malformed")}
	ErrAmountInvalid         = apirest.APIerror{Code: 4003, HTTPstatus: apirest.HTTPstatusBadRequest, Err: fmt.Errorf("amount invalid")}
	ErrLinkTTLInvalid        = apirest.APIerror{Code: 4004, HTTPstatus: apirest.HTTPstatusBadRequest, Err: fmt.Errorf("link ttl out of range")}
	ErrLeafHashMalformed     = apirest.APIerror{Code: 4005, HTTPstatus: apirest.HTTPstatusBadRequest, Err: fmt.Errorf("leaf hash malformed")}
	ErrLeafNotFound          = apirest.APIerror{Code: 4006, HTTPstatus: apirest.HTTPstatusNotFound, Err: fmt.Errorf("leaf not found")}
	ErrLinkMalformed         = apirest.APIerror{Code: 4007, HTTPstatus: apirest.HTTPstatusBadRequest, Err: fmt.Errorf("claim link malformed")}
	ErrLinkExpired           = apirest.APIerror{Code: 4008, HTTPstatus: apirest.HTTPstatusGone, Err: fmt.Errorf("claim link expired")}
	ErrInvalidSignature      = apirest.APIerror{Code: 4009, HTTPstatus: apirest.HTTPstatusUnauthorized, Err: fmt.Errorf("invalid claim signature")}
	ErrNullifierMismatch     = apirest.APIerror{Code: 4010, HTTPstatus: apirest.HTTPstatusBadRequest, Err: fmt.Errorf("nullifier does not match")}
	ErrAlreadySpent          = apirest.APIerror{Code: 4011, HTTPstatus: apirest.HTTPstatusConflict, Err: fmt.Errorf("spend note already claimed")}
	ErrClaimInProgress       = apirest.APIerror{Code: 4012, HTTPstatus: apirest.HTTPstatusConflict, Err: fmt.Errorf("claim already in progress")}
	ErrNoteNotFound          = apirest.APIerror{Code: 4013, HTTPstatus: apirest.HTTPstatusNotFound, Err: fmt.Errorf("spend note not found")}
	ErrParamMissing          = apirest.APIerror{Code: 4014, HTTPstatus: apirest.HTTPstatusBadRequest, Err: fmt.Errorf("missing parameter")}
	ErrMarshalingServerJSON  = apirest.APIerror{Code: 5001, HTTPstatus: apirest.HTTPstatusInternalErr, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrLedgerUnavailable     = apirest.APIerror{Code: 5002, HTTPstatus: apirest.HTTPstatusServiceUnavailable, Err: fmt.Errorf("ledger unavailable")}
	ErrStorageUnavailable    = apirest.APIerror{Code: 5003, HTTPstatus: apirest.HTTPstatusServiceUnavailable, Err: fmt.Errorf("storage unavailable")}
	ErrProofGeneration       = apirest.APIerror{Code: 5004, HTTPstatus: apirest.HTTPstatusInternalErr, Err: fmt.Errorf("proof generation failed")}
	ErrProofGenerationTimout = apirest.APIerror{Code: 5005, HTTPstatus: apirest.HTTPstatusGatewayTimeout, Err: fmt.Errorf("proof generation timed out")}
	ErrInternal              = apirest.APIerror{Code: 5006, HTTPstatus: apirest.HTTPstatusInternalErr, Err: fmt.Errorf("internal error")}
)

// toAPIerror maps the errors of the spend note flows to API errors.
func toAPIerror(err error) apirest.APIerror {
	var apierr apirest.APIerror
	if errors.As(err, &apierr) {
		return apierr
	}
	var e apirest.APIerror
	switch {
	case errors.Is(err, claimlink.ErrExpired):
		e = ErrLinkExpired
	case errors.Is(err, claimlink.ErrMalformed):
		e = ErrLinkMalformed
	case errors.Is(err, coordinator.ErrInvalidSignature):
		e = ErrInvalidSignature
	case errors.Is(err, coordinator.ErrNullifierMismatch):
		e = ErrNullifierMismatch
	case errors.Is(err, coordinator.ErrClaimInProgress):
		e = ErrClaimInProgress
	case errors.Is(err, coordinator.ErrUnknownNote), errors.Is(err, ledger.ErrNoteNotFound):
		e = ErrNoteNotFound
	case errors.Is(err, ledger.ErrAlreadySpent):
		e = ErrAlreadySpent
	case errors.Is(err, commitment.ErrAmountOverflow):
		e = ErrAmountInvalid
	case errors.Is(err, coordinator.ErrInvalidInput):
		e = ErrAddressMalformed
	case errors.Is(err, commitment.ErrLeafNotFound):
		e = ErrLeafNotFound
	case errors.Is(err, ledger.ErrUnavailable):
		e = ErrLedgerUnavailable
	case errors.Is(err, commitment.ErrStorageUnavailable):
		e = ErrStorageUnavailable
	case errors.Is(err, prover.ErrProofGenerationTimeout):
		e = ErrProofGenerationTimout
	case errors.Is(err, prover.ErrProofGeneration), errors.Is(err, prover.ErrAmountOverflow):
		e = ErrProofGeneration
	default:
		e = ErrInternal
	}
	return e.WithErr(err)
}
