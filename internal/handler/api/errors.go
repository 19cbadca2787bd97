package api

import (
	"ZepixTrader/internal/domain/errs"
	xhttp "ZepixTrader/pkg/http"
)

// appError maps the domain taxonomy onto HTTP errors. Errors outside the
// taxonomy come from the venue and surface as 502.
func appError(err error) *xhttp.AppError {
	reason := errs.ReasonOf(err)
	var ae *xhttp.AppError
	switch errs.KindOf(err) {
	case errs.KindValidation:
		ae = xhttp.BadRequestError(reason)
	case errs.KindDuplicate:
		ae = xhttp.ConflictError(reason)
	case errs.KindTransient:
		ae = xhttp.ServiceUnavailableError("temporarily unavailable, retry later")
	case errs.KindInvariant:
		ae = xhttp.InternalError("internal error")
	case errs.KindRiskDenied:
		ae = xhttp.ForbiddenError("trade denied by risk gate").WithParam("reason", reason)
	default:
		ae = xhttp.BadGatewayError("broker rejected the request")
	}
	return ae.WithError(err)
}
