package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
)

var (
	ErrBookNotFound         = errors.New("book not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrForbidden            = errors.New("requester is not the owner")
	ErrUnauthenticated      = errors.New("missing or invalid identity token")
	ErrDuplicateRating      = errors.New("user already rated this book")
	ErrInvalidGrade         = errors.New("grade must be an integer between 0 and 5")
	ErrUnsupportedMediaType = errors.New("only image uploads are allowed")
	ErrPayloadTooLarge      = errors.New("upload exceeds the maximum allowed size")
	ErrInvalidImageRef      = errors.New("invalid image reference")
	ErrImageNotFound        = errors.New("image not found")
	ErrEmailTaken           = errors.New("email is already in use")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrStoreConflict        = errors.New("record kept changing during the write")
)

type (
	ContextKey        string
	missingFieldError string
)

const (
	BookIDPrefix         string     = "b"
	UserIDPrefix         string     = "u"
	RequestIDPrefix      string     = "r"
	ContextRequestID     ContextKey = "request.id"
	ContextRequestNumber ContextKey = "request.number"
	ContextUserID        ContextKey = "user.id"
	ConnContextKey       ContextKey = "http-conn"
	LoggerContextKey     ContextKey = "request.logger"
)

func (m missingFieldError) Error() string {
	return string(m) + " is required"
}

// ValidationError groups all the field errors found in a request payload.
type ValidationError struct {
	Fields []error
}

func (v *ValidationError) Error() string {
	msgs := make([]string, 0, len(v.Fields))
	for _, f := range v.Fields {
		msgs = append(msgs, f.Error())
	}
	return strings.Join(msgs, ", ")
}

// GetValueFromContext returns the value of a given key in the context
// if this key is not available, it returns an empty string.
func GetValueFromContext(ctx context.Context, contextKey ContextKey) string {
	if val, ok := ctx.Value(contextKey).(string); ok {
		return val
	}
	return ""
}

// GetRequestNumberFromContext returns the request number set in
// the context. if not previously set then it returns 0.
func GetRequestNumberFromContext(ctx context.Context) uint64 {
	if val, ok := ctx.Value(ContextRequestNumber).(uint64); ok {
		return val
	}
	return 0
}

// GetRequestSourceIP helps find the source IP of the caller.
func GetRequestSourceIP(r *http.Request) string {
	// Get IP from the X-REAL-IP header
	ip := r.Header.Get("X-REAL-IP")
	netIP := net.ParseIP(ip)
	if netIP != nil {
		return ip
	}

	// Get IP from X-FORWARDED-FOR header
	ips := r.Header.Get("X-FORWARDED-FOR")
	splitIps := strings.Split(ips, ",")
	for _, ip := range splitIps {
		ip = strings.TrimSpace(ip)
		netIP = net.ParseIP(ip)
		if netIP != nil {
			return ip
		}
	}

	// Get IP from RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	netIP = net.ParseIP(ip)
	if netIP != nil {
		return ip
	}
	return ""
}

// IsAppRunningInDocker checks the existence of the .dockerenv
// file at the root directory and returns a boolean result. This
// helps know if the App is running in a docker container or not.
func IsAppRunningInDocker() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}

// SaveConnInContext is the hook used by the server under ConnContext.
// It sets the underlying connection into the request context for later
// use by ReadDeadline or WriteDeadline method on *CustomResponseWriter.
func SaveConnInContext(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, ConnContextKey, c)
}

// GetConnFromContext returns the connection saved into the context.
func GetConnFromContext(ctx context.Context) net.Conn {
	if c, ok := ctx.Value(ConnContextKey).(net.Conn); ok {
		return c
	}
	return nil
}
