package retry

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"syscall"

	"github.com/lib/pq"
)

// NetworkClasses are retried by the network profile.
var NetworkClasses = []string{
	"ECONNRESET",
	"ETIMEDOUT",
	"ENOTFOUND",
	"ECONNREFUSED",
	"EAI_AGAIN",
	"RATE_LIMIT",
	"TEMPORARY_FAILURE",
	"503",
	"504",
	"429",
	"NETWORK_ERROR",
	"FETCH_ERROR",
	"GATEWAY_TIMEOUT",
}

// StoreClasses are retried by the store profile. The Postgres SQLSTATEs
// cover serialization failures, deadlocks, lock timeouts and too many
// connections.
var StoreClasses = []string{
	"P1001",
	"P1002",
	"P2024",
	"SQLITE_BUSY",
	"DEADLOCK",
	"LOCK_TIMEOUT",
	"40001",
	"40P01",
	"55P03",
	"53300",
	"database is locked",
	"too many connections",
}

// ClassNone marks an error as explicitly not retryable by any profile.
const ClassNone = "NONE"

// ClassifiedError attaches a class (and optionally an HTTP status) to an error.
type ClassifiedError struct {
	Class  string
	Status int
	Err    error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return e.Class
	}
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// WithClass tags err with a retry class such as "RATE_LIMIT".
func WithClass(class string, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: class, Err: err}
}

// WithStatus tags err with an HTTP status code.
func WithStatus(status int, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Status: status, Err: err}
}

// Matches reports whether any identifier of err contains one of classes.
// Classes with a digit, such as status codes and SQLSTATEs, only match as
// whole tokens so "task-4291" is not a 429.
func Matches(err error, classes []string) bool {
	if err == nil || len(classes) == 0 {
		return false
	}
	ids := Identifiers(err)
	for _, class := range classes {
		if class == "" {
			continue
		}
		coded := strings.ContainsAny(class, "0123456789")
		for _, id := range ids {
			if coded && containsToken(id, class) || !coded && strings.Contains(id, class) {
				return true
			}
		}
	}
	return false
}

// containsToken reports whether token occurs in s with no letter or digit
// directly before or after it.
func containsToken(s, token string) bool {
	for from := 0; ; {
		i := strings.Index(s[from:], token)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(token)
		if (start == 0 || !isAlnum(s[start-1])) && (end == len(s) || !isAlnum(s[end])) {
			return true
		}
		from = start + 1
	}
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// Identifiers returns the strings an error is classified by: explicit
// classes, status codes, driver codes, well known syscall names, and the
// error message.
func Identifiers(err error) []string {
	var ids []string

	for e := err; e != nil; e = errors.Unwrap(e) {
		classified, ok := e.(*ClassifiedError)
		if !ok {
			continue
		}
		if classified.Class != "" {
			ids = append(ids, classified.Class)
		}
		if classified.Status != 0 {
			ids = append(ids, strconv.Itoa(classified.Status))
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		ids = append(ids, string(pqErr.Code), strings.ToUpper(pqErr.Code.Name()))
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			ids = append(ids, "ENOTFOUND")
		} else if dnsErr.IsTemporary || dnsErr.IsTimeout {
			ids = append(ids, "EAI_AGAIN")
		}
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET):
		ids = append(ids, "ECONNRESET")
	case errors.Is(err, syscall.ECONNREFUSED):
		ids = append(ids, "ECONNREFUSED")
	case errors.Is(err, syscall.ETIMEDOUT):
		ids = append(ids, "ETIMEDOUT")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		ids = append(ids, "ETIMEDOUT")
	}

	ids = append(ids, err.Error())
	return ids
}
