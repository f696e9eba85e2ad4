package grant

import (
	"context"
	"errors"
	"net/url"
	"slices"

	"github.com/giantswarm/oauth-authz/instrumentation"
	"github.com/giantswarm/oauth-authz/internal/util"
)

// Token endpoint parameter names.
const (
	ParameterGrantType = "grant_type"
	ParameterScope     = "scope"
	ParameterUsername  = "username"
	ParameterPassword  = "password"
	ParameterAssertion = "assertion"
)

// Converter parses token endpoint parameters into an AuthenticationRequest.
// It returns (nil, nil) when the request is not for its grant type.
type Converter interface {
	Convert(ctx context.Context, params url.Values) (AuthenticationRequest, error)
}

// ConverterFunc adapts a function to the Converter interface.
type ConverterFunc func(ctx context.Context, params url.Values) (AuthenticationRequest, error)

// Convert calls f.
func (f ConverterFunc) Convert(ctx context.Context, params url.Values) (AuthenticationRequest, error) {
	return f(ctx, params)
}

// Chain tries converters in order and returns the first applicable result.
type Chain struct {
	converters      []Converter
	instrumentation *instrumentation.Instrumentation
}

// NewChain returns a chain over converters.
func NewChain(converters ...Converter) *Chain {
	return &Chain{converters: converters}
}

// SetInstrumentation enables conversion metrics.
func (c *Chain) SetInstrumentation(inst *instrumentation.Instrumentation) {
	c.instrumentation = inst
}

// Convert returns the first converter's result that is not (nil, nil). An
// error from a converter stops the chain. When nothing applies the result is
// (nil, nil).
func (c *Chain) Convert(ctx context.Context, params url.Values) (AuthenticationRequest, error) {
	grantType := params.Get(ParameterGrantType)
	for _, conv := range c.converters {
		req, err := conv.Convert(ctx, params)
		if err != nil {
			result := "error"
			var ge *Error
			if errors.As(err, &ge) {
				result = ge.Code
			}
			c.record(ctx, grantType, result)
			return nil, err
		}
		if req != nil {
			c.record(ctx, grantType, "converted")
			return req, nil
		}
	}
	c.record(ctx, grantType, "not_applicable")
	return nil, nil
}

func (c *Chain) record(ctx context.Context, grantType, result string) {
	if c.instrumentation == nil {
		return
	}
	c.instrumentation.Metrics().RecordGrantConversion(ctx, grantType, result)
}

// singleValue returns the only value of name. A missing, empty or repeated
// parameter is an invalid_request error.
func singleValue(params url.Values, name string) (string, error) {
	values := params[name]
	switch {
	case len(values) == 0 || values[0] == "":
		return "", invalidParameter(name, "is required")
	case len(values) > 1:
		return "", invalidParameter(name, "must appear exactly once")
	}
	return values[0], nil
}

// optionalScope parses the scope parameter, which may be absent but must not repeat.
func optionalScope(params url.Values) ([]string, error) {
	values, ok := params[ParameterScope]
	if !ok {
		return nil, nil
	}
	if len(values) != 1 {
		return nil, invalidParameter(ParameterScope, "must appear exactly once")
	}
	return util.SplitScope(values[0]), nil
}

// remaining copies params without the excluded names.
func remaining(params url.Values, exclude ...string) url.Values {
	out := make(url.Values, len(params))
	for name, values := range params {
		if slices.Contains(exclude, name) {
			continue
		}
		out[name] = slices.Clone(values)
	}
	return out
}

// matchGrantType reports whether the request's grant_type is one of accepted.
// A repeated grant_type is rejected once the grant type is recognised.
func matchGrantType(params url.Values, accepted []string) (string, bool, error) {
	values := params[ParameterGrantType]
	if len(values) == 0 || !slices.Contains(accepted, values[0]) {
		return "", false, nil
	}
	if len(values) > 1 {
		return "", true, invalidParameter(ParameterGrantType, "must appear exactly once")
	}
	return values[0], true, nil
}

func requirePrincipal(ctx context.Context) (*ClientPrincipal, error) {
	p, ok := ClientPrincipalFrom(ctx)
	if !ok {
		return nil, ErrInvalidClient
	}
	return p, nil
}
