package model

import "errors"

// Failure classes shared by every layer. Callers wrap them with fmt.Errorf("%w: ...")
// and test with errors.Is.
var (
	ErrProtocol        = errors.New("protocol error")
	ErrMalformedDomain = errors.New("malformed domain")
	ErrEmptyRanking    = errors.New("empty ranking")
	ErrModelInfeasible = errors.New("model infeasible")
	ErrTransport       = errors.New("transport error")
	ErrSolverResource  = errors.New("solver resource error")
)

// Class returns a stable label for err, used as the "error_class" log attribute.
func Class(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProtocol):
		return "protocol_error"
	case errors.Is(err, ErrMalformedDomain):
		return "malformed_domain"
	case errors.Is(err, ErrEmptyRanking):
		return "empty_ranking"
	case errors.Is(err, ErrModelInfeasible):
		return "model_infeasible"
	case errors.Is(err, ErrTransport):
		return "transport_error"
	case errors.Is(err, ErrSolverResource):
		return "solver_resource_error"
	default:
		return "internal_error"
	}
}
