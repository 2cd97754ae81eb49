package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/go-sql-driver/mysql"
)

// Classification is the result of analysing an arbitrary error
type Classification struct {
	Kind        Kind
	Recoverable bool
	UserMessage string
}

// Classify analyses err and decides whether retrying could help.
// An *Error without a cause keeps its kind and is never recoverable;
// one with a cause is classified by that cause first.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}

	var own *Error
	if errors.As(err, &own) && own.Cause == nil {
		return Classification{Kind: own.Kind, UserMessage: own.Message}
	}

	if c, ok := classifyMySQLError(err); ok {
		return c
	}
	// context errors satisfy net.Error, so they go first
	if c, ok := classifyContextError(err); ok {
		return c
	}
	if c, ok := classifyNetworkError(err); ok {
		return c
	}
	if c, ok := classifyFileSystemError(err); ok {
		return c
	}
	if own != nil {
		return Classification{Kind: own.Kind, UserMessage: own.Message}
	}

	return Classification{Kind: KindUnknown, UserMessage: "An unexpected error occurred"}
}

func classifyMySQLError(err error) (Classification, bool) {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1045: // access denied
			return Classification{Kind: KindConfig, UserMessage: "Database access denied - check username and password"}, true
		case 1049: // unknown database
			return Classification{Kind: KindConfig, UserMessage: "Database does not exist"}, true
		case 1040, 1205, 1213: // too many connections, lock wait timeout, deadlock
			return Classification{Kind: KindStorage, Recoverable: true, UserMessage: fmt.Sprintf("Transient MySQL error %d", mysqlErr.Number)}, true
		case 2003, 2006, 2013: // can't connect, gone away, lost connection
			return Classification{Kind: KindStorage, Recoverable: true, UserMessage: "MySQL server unreachable or connection lost"}, true
		default:
			return Classification{Kind: KindStorage, UserMessage: fmt.Sprintf("MySQL error: %s", mysqlErr.Message)}, true
		}
	}

	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) {
		return Classification{Kind: KindStorage, Recoverable: true, UserMessage: "Database connection is closed"}, true
	}

	return Classification{}, false
}

func classifyNetworkError(err error) (Classification, bool) {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return Classification{Kind: KindStorage, Recoverable: true, UserMessage: "Failed to establish network connection"}, true
		case "read", "write":
			return Classification{Kind: KindStorage, Recoverable: true, UserMessage: "Network I/O error"}, true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Classification{Kind: KindStorage, Recoverable: true, UserMessage: "Network operation timed out"}, true
	}

	return Classification{}, false
}

func classifyContextError(err error) (Classification, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Kind: KindUnknown, UserMessage: "Operation timed out"}, true
	}
	if errors.Is(err, context.Canceled) {
		return Classification{Kind: KindUnknown, UserMessage: "Operation was canceled"}, true
	}
	return Classification{}, false
}

func classifyFileSystemError(err error) (Classification, bool) {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.ENOENT:
			return Classification{Kind: KindNotFound, UserMessage: fmt.Sprintf("File or directory not found: %s", pathErr.Path)}, true
		case syscall.EACCES:
			return Classification{Kind: KindStorage, UserMessage: fmt.Sprintf("Permission denied: %s", pathErr.Path)}, true
		case syscall.ENOSPC:
			return Classification{Kind: KindStorage, UserMessage: "No space left on device"}, true
		}
	}
	return Classification{}, false
}

// IsRecoverable reports whether err is worth retrying
func IsRecoverable(err error) bool {
	return Classify(err).Recoverable
}

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var rbErr *RollbackError
	if errors.As(err, &rbErr) {
		return rbErr.Error()
	}

	var own *Error
	if errors.As(err, &own) {
		msg := own.Message
		if msg == "" {
			msg = string(own.Kind)
		}
		var issues ValidationErrors
		if errors.As(own.Cause, &issues) {
			for _, issue := range issues {
				msg += fmt.Sprintf("\n  - %s: %s", issue.Field, issue.Message)
			}
		}
		if own.Stderr != "" {
			msg += "\n" + own.Stderr
		}
		return msg
	}

	return Classify(err).UserMessage
}
