// Package providererr maps opaque upstream provider error codes onto a stable
// category, a canonical status and a retryable flag.
//
// Provider codes follow the "HTTP status x 100 + detail" convention, so the
// leading three digits carry the coarse category even for codes that are not
// in the registry.
package providererr

import (
	"net/http"
	"sort"
	"strconv"

	"google.golang.org/grpc/codes"
)

// Category is the coarse classification used to drive retry and alerting policy.
type Category string

const (
	CategoryAuthentication Category = "AUTHENTICATION"
	CategoryAuthorization  Category = "AUTHORIZATION"
	CategoryClientError    Category = "CLIENT_ERROR"
	CategoryRateLimit      Category = "RATE_LIMIT"
	CategoryTimeout        Category = "TIMEOUT"
	CategoryServerError    Category = "SERVER_ERROR"
)

// Registered provider codes.
const (
	CodeInvalidRegistration   = 40001
	CodeUnregistered          = 40002
	CodePayloadTooLarge       = 40003
	CodeInvalidImage          = 40004
	CodeImageProcessingFailed = 40005
	CodeInvalidParameters     = 40006
	CodeThirdPartyAuth        = 40101
	CodeInvalidCredentials    = 40102
	CodeSenderIDMismatch      = 40301
	CodeTopicDisallowed       = 40302
	CodeRequestTimeout        = 40801
	CodeQuotaExceeded         = 42901
	CodeDeviceRateExceeded    = 42902
	CodeProviderInternal      = 50001
	CodeProviderUnavailable   = 50301

	CodeUnknown = -1
)

// Code is one entry of the closed provider error registry.
type Code struct {
	Code      int
	Message   string
	Status    codes.Code
	Category  Category
	Retryable bool
}

// HTTPStatus renders the canonical status as an HTTP status code.
func (c Code) HTTPStatus() int {
	switch c.Status {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.Unimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// Unknown is returned for every code absent from the registry.
var Unknown = Code{
	Code:      CodeUnknown,
	Message:   "unknown provider error",
	Status:    codes.Internal,
	Category:  CategoryServerError,
	Retryable: false,
}

var registry = map[int]Code{
	CodeInvalidRegistration: {CodeInvalidRegistration, "invalid registration token", codes.InvalidArgument, CategoryClientError, false},
	CodeUnregistered:        {CodeUnregistered, "registration token not registered", codes.NotFound, CategoryClientError, false},
	CodePayloadTooLarge:     {CodePayloadTooLarge, "message payload too large", codes.InvalidArgument, CategoryClientError, false},
	// The provider reports transient image fetch degradation through these two.
	CodeInvalidImage:          {CodeInvalidImage, "invalid image", codes.InvalidArgument, CategoryClientError, true},
	CodeImageProcessingFailed: {CodeImageProcessingFailed, "image processing failed", codes.InvalidArgument, CategoryClientError, true},
	CodeInvalidParameters:     {CodeInvalidParameters, "invalid message parameters", codes.InvalidArgument, CategoryClientError, false},
	CodeThirdPartyAuth:        {CodeThirdPartyAuth, "third-party authentication error", codes.Unauthenticated, CategoryAuthentication, false},
	CodeInvalidCredentials:    {CodeInvalidCredentials, "invalid provider credentials", codes.Unauthenticated, CategoryAuthentication, false},
	CodeSenderIDMismatch:      {CodeSenderIDMismatch, "sender id mismatch", codes.PermissionDenied, CategoryAuthorization, false},
	CodeTopicDisallowed:       {CodeTopicDisallowed, "topic disallowed", codes.PermissionDenied, CategoryAuthorization, false},
	CodeRequestTimeout:        {CodeRequestTimeout, "provider request timeout", codes.DeadlineExceeded, CategoryTimeout, true},
	CodeQuotaExceeded:         {CodeQuotaExceeded, "quota exceeded", codes.ResourceExhausted, CategoryRateLimit, true},
	CodeDeviceRateExceeded:    {CodeDeviceRateExceeded, "device message rate exceeded", codes.ResourceExhausted, CategoryRateLimit, true},
	CodeProviderInternal:      {CodeProviderInternal, "provider internal error", codes.Internal, CategoryServerError, true},
	CodeProviderUnavailable:   {CodeProviderUnavailable, "provider unavailable", codes.Unavailable, CategoryServerError, true},
}

// Classify resolves a provider code against the registry. It never fails:
// unregistered codes resolve to Unknown.
func Classify(code int) Code {
	if c, ok := registry[code]; ok {
		return c
	}
	return Unknown
}

// Lookup reports whether code is registered.
func Lookup(code int) (Code, bool) {
	c, ok := registry[code]
	return c, ok
}

// Registry returns a copy of all registered entries ordered by code.
func Registry() []Code {
	out := make([]Code, 0, len(registry))
	for _, c := range registry {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// CategoryOf derives the category from the leading three digits of code,
// independent of the registry. Detail digits after the prefix are ignored.
func CategoryOf(code int) Category {
	s := strconv.Itoa(code)
	if len(s) < 3 {
		return CategoryServerError
	}
	switch s[:3] {
	case "401":
		return CategoryAuthentication
	case "403":
		return CategoryAuthorization
	case "400":
		return CategoryClientError
	case "429":
		return CategoryRateLimit
	case "408":
		return CategoryTimeout
	default:
		return CategoryServerError
	}
}
