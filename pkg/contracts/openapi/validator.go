package openapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
)

// Validator validates HTTP requests against an OpenAPI specification.
type Validator struct {
	router routers.Router
}

// NewValidatorFromBytes loads and validates the document before building the router.
func NewValidatorFromBytes(specBytes []byte) (*Validator, error) {
	loader := openapi3.NewLoader()

	doc, err := loader.LoadFromData(specBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI spec: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI spec: %w", err)
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	return &Validator{router: router}, nil
}

// ErrRouteNotFound wraps lookups for requests the document does not describe.
type ErrRouteNotFound struct {
	Method string
	Path   string
	Err    error
}

func (e *ErrRouteNotFound) Error() string {
	return fmt.Sprintf("no route for %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *ErrRouteNotFound) Unwrap() error { return e.Err }

// ValidateRequest validates parameters and body of req. The body is restored
// for downstream handlers.
func (v *Validator) ValidateRequest(req *http.Request) error {
	route, pathParams, err := v.router.FindRoute(req)
	if err != nil {
		return &ErrRouteNotFound{Method: req.Method, Path: req.URL.Path, Err: err}
	}

	input := &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			MultiError:         true,
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	}

	if err := openapi3filter.ValidateRequest(req.Context(), input); err != nil {
		return fmt.Errorf("request validation failed: %w", err)
	}
	return nil
}

// OperationID returns the operation ID for a given request.
func (v *Validator) OperationID(req *http.Request) (string, error) {
	route, _, err := v.router.FindRoute(req)
	if err != nil {
		return "", &ErrRouteNotFound{Method: req.Method, Path: req.URL.Path, Err: err}
	}
	return route.Operation.OperationID, nil
}
