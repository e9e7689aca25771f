package ldap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrorCategory groups LDAP failures by what the caller can do about them.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryConflict       ErrorCategory = "conflict"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// resultClass is the category and retry policy of one result code.
type resultClass struct {
	category  ErrorCategory
	retryable bool
}

// resultClasses covers the codes a synchronization run can meet. Anything
// else is unknown and not retried.
var resultClasses = map[uint16]resultClass{
	ldap.LDAPResultInvalidCredentials:          {ErrorCategoryAuthentication, false},
	ldap.LDAPResultInappropriateAuthentication: {ErrorCategoryAuthentication, false},
	ldap.LDAPResultStrongAuthRequired:          {ErrorCategoryAuthentication, false},
	ldap.LDAPResultConfidentialityRequired:     {ErrorCategoryAuthentication, false},

	ldap.LDAPResultInsufficientAccessRights: {ErrorCategoryPermission, false},
	ldap.LDAPResultUnwillingToPerform:       {ErrorCategoryPermission, false},

	ldap.LDAPResultNoSuchObject:           {ErrorCategoryNotFound, false},
	ldap.LDAPResultNoSuchAttribute:        {ErrorCategoryNotFound, false},
	ldap.LDAPResultUndefinedAttributeType: {ErrorCategoryNotFound, false},

	ldap.LDAPResultEntryAlreadyExists:     {ErrorCategoryConflict, false},
	ldap.LDAPResultAttributeOrValueExists: {ErrorCategoryConflict, false},
	ldap.LDAPResultObjectClassViolation:   {ErrorCategoryConflict, false},
	ldap.LDAPResultNotAllowedOnNonLeaf:    {ErrorCategoryConflict, false},

	ldap.LDAPResultInvalidAttributeSyntax: {ErrorCategoryValidation, false},
	ldap.LDAPResultConstraintViolation:    {ErrorCategoryValidation, false},
	ldap.LDAPResultInvalidDNSyntax:        {ErrorCategoryValidation, false},
	ldap.LDAPResultNamingViolation:        {ErrorCategoryValidation, false},

	ldap.LDAPResultServerDown:         {ErrorCategoryConnection, true},
	ldap.LDAPResultUnavailable:        {ErrorCategoryServer, true},
	ldap.LDAPResultBusy:               {ErrorCategoryServer, true},
	ldap.LDAPResultTimeLimitExceeded:  {ErrorCategoryServer, true},
	ldap.LDAPResultAdminLimitExceeded: {ErrorCategoryServer, false},
	ldap.LDAPResultConnectError:       {ErrorCategoryConnection, true},
	ldap.LDAPResultProtocolError:      {ErrorCategoryConnection, false},
	ldap.ErrorNetwork:                 {ErrorCategoryConnection, true},
}

// transientPatterns mark errors without a result code (dial, TLS, I/O) that
// are worth another attempt.
var transientPatterns = []string{
	"connection",
	"timeout",
	"network",
	"broken pipe",
	"temporary failure",
	"server temporarily unavailable",
}

// LDAPError provides enhanced error information for LDAP operations.
type LDAPError struct {
	Operation string        // The operation that failed
	Category  ErrorCategory // Error category
	LDAPCode  uint16        // LDAP result code
	Message   string        // Human-readable message
	ServerMsg string        // Server-provided message
	DN        string        // DN involved in the operation (if applicable)
	Retryable bool          // Whether the error is retryable
	Cause     error         // Underlying error
}

func (e *LDAPError) Error() string {
	head := "LDAP " + e.Operation + " failed"
	if e.LDAPCode > 0 {
		head = fmt.Sprintf("%s (code %d)", head, e.LDAPCode)
	}

	parts := []string{head}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		parts = append(parts, "server: "+e.ServerMsg)
	}
	if e.DN != "" {
		parts = append(parts, "DN: "+e.DN)
	}
	return strings.Join(parts, " - ")
}

func (e *LDAPError) IsRetryable() bool {
	return e.Retryable
}

func (e *LDAPError) Unwrap() error {
	return e.Cause
}

// NewLDAPError classifies err as a failure of operation. It returns nil for a nil err.
func NewLDAPError(operation string, err error) *LDAPError {
	if err == nil {
		return nil
	}

	ldapErr := &LDAPError{
		Operation: operation,
		Category:  GetErrorCategory(err),
		Retryable: IsRetryableError(err),
		Cause:     err,
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		ldapErr.LDAPCode = resultErr.ResultCode
		ldapErr.Message = resultMessage(resultErr.ResultCode)
		if resultErr.Err != nil {
			ldapErr.ServerMsg = resultErr.Err.Error()
		}
	} else {
		ldapErr.Message = err.Error()
	}

	return ldapErr
}

// NewLDAPErrorWithDN is NewLDAPError bound to the DN the operation targeted.
func NewLDAPErrorWithDN(operation, dn string, err error) *LDAPError {
	ldapErr := NewLDAPError(operation, err)
	if ldapErr != nil {
		ldapErr.DN = dn
	}
	return ldapErr
}

func categorizeError(code uint16) ErrorCategory {
	if class, ok := resultClasses[code]; ok {
		return class.category
	}
	return ErrorCategoryUnknown
}

// resultMessage names a result code using go-ldap's table.
func resultMessage(code uint16) string {
	if msg, ok := ldap.LDAPResultCodeMap[code]; ok {
		return msg
	}
	return fmt.Sprintf("LDAP error (code %d)", code)
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsRetryableError reports whether repeating the operation may succeed.
// Cancellation is never retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return resultClasses[resultErr.ResultCode].retryable
	}

	return isTransient(err)
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return ldapErr.Category
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return ErrorCategoryConnection
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return categorizeError(resultErr.ResultCode)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case isTransient(err):
		return ErrorCategoryConnection
	case strings.Contains(msg, "authentication"), strings.Contains(msg, "credentials"):
		return ErrorCategoryAuthentication
	case strings.Contains(msg, "permission"), strings.Contains(msg, "denied"):
		return ErrorCategoryPermission
	}
	return ErrorCategoryUnknown
}

// IsNotFoundError reports whether err means the target entry or attribute is absent.
func IsNotFoundError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryNotFound
}

// IsConnectionError reports whether err means the directory is unreachable.
func IsConnectionError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryConnection
}
