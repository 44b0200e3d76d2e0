// Package errors provides the error taxonomy for svcpool. It includes the stdlib's
// functions so callers do not need to import both packages.
package errors

import (
	"fmt"
	"strings"
)

// Category represents the category of the error.
type Category uint32

func (c Category) Category() string {
	return c.String()
}

const (
	// CatUnknown represents an unknown category. This should not be used.
	CatUnknown Category = Category(0) // Unknown
	// CatUser represents an error that is caused by the caller, such as a bad configuration
	// or using the manager outside of its lifecycle.
	CatUser Category = Category(1) // User
	// CatInternal represents an error inside the pool or the network under it.
	CatInternal Category = Category(2) // Internal
)

func (c Category) String() string {
	switch c {
	case CatUser:
		return "User"
	case CatInternal:
		return "Internal"
	}
	return "Unknown"
}

// Kind is the kind of failure an *Error describes.
type Kind uint16

const (
	// KindUnknown should not be used.
	KindUnknown Kind = 0
	// KindConfig is an invalid configuration or a misuse of Initialize.
	KindConfig Kind = 1
	// KindUnknownService is an Acquire for a service id that was never configured.
	KindUnknownService Kind = 2
	// KindConnectionTimeout is a connect or probe that did not finish within the timeout.
	KindConnectionTimeout Kind = 3
	// KindConnectFailed is a connect that was refused or otherwise failed.
	KindConnectFailed Kind = 4
	// KindConnectionLost is an established connection that broke while in use.
	KindConnectionLost Kind = 5
	// KindAllConnectionsDown means no connection in a pool is READY.
	KindAllConnectionsDown Kind = 6
	// KindServiceUnavailable means reconnection retries for a connection were exhausted.
	KindServiceUnavailable Kind = 7
	// KindManagerNotInitialized is an operation on a manager before Initialize.
	KindManagerNotInitialized Kind = 8
	// KindManagerShutDown is an operation on a manager after Shutdown.
	KindManagerShutDown Kind = 9
	// KindConnShutdown is an operation on a connection that was closed.
	KindConnShutdown Kind = 10
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindUnknownService:
		return "UnknownService"
	case KindConnectionTimeout:
		return "ConnectionTimeout"
	case KindConnectFailed:
		return "ConnectFailed"
	case KindConnectionLost:
		return "ConnectionLost"
	case KindAllConnectionsDown:
		return "AllConnectionsDown"
	case KindServiceUnavailable:
		return "ServiceUnavailable"
	case KindManagerNotInitialized:
		return "ManagerNotInitialized"
	case KindManagerShutDown:
		return "ManagerShutDown"
	case KindConnShutdown:
		return "ConnShutdown"
	}
	return "Unknown"
}

// Category returns the Category the Kind belongs to.
func (k Kind) Category() Category {
	switch k {
	case KindConfig, KindUnknownService, KindManagerNotInitialized, KindManagerShutDown:
		return CatUser
	case KindUnknown:
		return CatUnknown
	}
	return CatInternal
}

// NoConn is used for Error.Conn when an error is not about a single connection.
const NoConn = -1

// Error is the error type returned by svcpool. Two *Error values match with Is() when
// their Kind is the same, so the sentinel values below can be used as targets. An
// UnknownService error also matches ErrConfig.
type Error struct {
	// Kind is the kind of failure.
	Kind Kind
	// Service is the service id, if known.
	Service string
	// Conn is the index of the connection inside its pool or NoConn.
	Conn int
	// Msg is an optional human readable detail.
	Msg string
	// Err is the underlying error, if any.
	Err error
}

// Sentinels for use with Is().
var (
	ErrConfig                = &Error{Kind: KindConfig, Conn: NoConn}
	ErrUnknownService        = &Error{Kind: KindUnknownService, Conn: NoConn}
	ErrConnectionTimeout     = &Error{Kind: KindConnectionTimeout, Conn: NoConn}
	ErrConnectFailed         = &Error{Kind: KindConnectFailed, Conn: NoConn}
	ErrConnectionLost        = &Error{Kind: KindConnectionLost, Conn: NoConn}
	ErrAllConnectionsDown    = &Error{Kind: KindAllConnectionsDown, Conn: NoConn}
	ErrServiceUnavailable    = &Error{Kind: KindServiceUnavailable, Conn: NoConn}
	ErrManagerNotInitialized = &Error{Kind: KindManagerNotInitialized, Conn: NoConn}
	ErrManagerShutDown       = &Error{Kind: KindManagerShutDown, Conn: NoConn}
	ErrConnShutdown          = &Error{Kind: KindConnShutdown, Conn: NoConn}
)

// E creates a new *Error. conn should be NoConn if the error is not about a single connection.
func E(k Kind, service string, conn int, err error, format string, a ...any) *Error {
	msg := format
	if len(a) > 0 {
		msg = fmt.Sprintf(format, a...)
	}
	return &Error{Kind: k, Service: service, Conn: conn, Msg: msg, Err: err}
}

// Config returns a KindConfig error for service.
func Config(service string, format string, a ...any) *Error {
	return E(KindConfig, service, NoConn, nil, format, a...)
}

func (e *Error) Error() string {
	b := strings.Builder{}
	b.WriteString(e.Kind.String())
	if e.Service != "" {
		b.WriteString("[")
		b.WriteString(e.Service)
		if e.Conn >= 0 {
			fmt.Fprintf(&b, "#%d", e.Conn)
		}
		b.WriteString("]")
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements the interface used by errors.Is().
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == KindConfig && e.Kind == KindUnknownService {
		return true
	}
	return t.Kind == e.Kind
}

// Category returns the category of the error.
func (e *Error) Category() Category {
	return e.Kind.Category()
}

// Retryable reports if the same operation may succeed if tried again later.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindConnectionTimeout, KindConnectFailed, KindConnectionLost, KindAllConnectionsDown, KindServiceUnavailable:
		return true
	}
	return false
}

// KindOf returns the Kind of the first *Error in err's chain or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
