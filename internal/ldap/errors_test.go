package ldap

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
)

func TestNewLDAPError(t *testing.T) {
	tests := []struct {
		name          string
		operation     string
		err           error
		wantNil       bool
		wantCategory  ErrorCategory
		wantRetryable bool
	}{
		{
			name:      "nil error",
			operation: "search",
			err:       nil,
			wantNil:   true,
		},
		{
			name:         "ldap error",
			operation:    "bind",
			err:          ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad password")),
			wantCategory: ErrorCategoryAuthentication,
		},
		{
			name:          "busy server",
			operation:     "modify",
			err:           ldap.NewError(ldap.LDAPResultBusy, errors.New("busy")),
			wantCategory:  ErrorCategoryServer,
			wantRetryable: true,
		},
		{
			name:          "generic error",
			operation:     "connect",
			err:           errors.New("connection refused"),
			wantCategory:  ErrorCategoryConnection,
			wantRetryable: true,
		},
		{
			name:         "connection error type",
			operation:    "search",
			err:          NewConnectionError("operation failed after retries", false, errors.New("eof")),
			wantCategory: ErrorCategoryConnection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewLDAPError(tt.operation, tt.err)

			if tt.wantNil {
				assert.Nil(t, result)
				return
			}

			if assert.NotNil(t, result) {
				assert.Equal(t, tt.operation, result.Operation)
				assert.Equal(t, tt.err, result.Cause)
				assert.Equal(t, tt.wantCategory, result.Category)
				assert.Equal(t, tt.wantRetryable, result.Retryable)
			}
		})
	}
}

func TestLDAPError_Error(t *testing.T) {
	tests := []struct {
		name    string
		ldapErr *LDAPError
		want    string
	}{
		{
			name: "basic error",
			ldapErr: &LDAPError{
				Operation: "search",
				Message:   "operation failed",
			},
			want: "LDAP search failed - operation failed",
		},
		{
			name: "error with code",
			ldapErr: &LDAPError{
				Operation: "bind",
				LDAPCode:  ldap.LDAPResultInvalidCredentials,
				Message:   "authentication failed",
			},
			want: "LDAP bind failed (code 49) - authentication failed",
		},
		{
			name: "error with server message",
			ldapErr: &LDAPError{
				Operation: "add",
				Message:   "validation failed",
				ServerMsg: "attribute required",
			},
			want: "LDAP add failed - validation failed - server: attribute required",
		},
		{
			name: "error with DN",
			ldapErr: &LDAPError{
				Operation: "modify",
				Message:   "access denied",
				DN:        "CN=jdoe,CN=Users,DC=example,DC=com",
			},
			want: "LDAP modify failed - access denied - DN: CN=jdoe,CN=Users,DC=example,DC=com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ldapErr.Error())
		})
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		code uint16
		want ErrorCategory
	}{
		{ldap.LDAPResultInvalidCredentials, ErrorCategoryAuthentication},
		{ldap.LDAPResultInsufficientAccessRights, ErrorCategoryPermission},
		{ldap.LDAPResultNoSuchObject, ErrorCategoryNotFound},
		{ldap.LDAPResultEntryAlreadyExists, ErrorCategoryConflict},
		{ldap.LDAPResultConstraintViolation, ErrorCategoryValidation},
		{ldap.LDAPResultUnavailable, ErrorCategoryServer},
		{ldap.LDAPResultConnectError, ErrorCategoryConnection},
		{ldap.LDAPResultOther, ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("code %d", tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, categorizeError(tt.code))
		})
	}
}

func TestErrorPredicatesThroughWrapping(t *testing.T) {
	notFound := NewLDAPErrorWithDN("modify", "CN=x,DC=example,DC=com", ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("gone")))
	wrapped := fmt.Errorf("persist: %w", notFound)

	assert.True(t, IsNotFoundError(wrapped))
	assert.False(t, IsConnectionError(wrapped))
	assert.Equal(t, ErrorCategoryNotFound, GetErrorCategory(wrapped))

	conflict := fmt.Errorf("add: %w", ldap.NewError(ldap.LDAPResultEntryAlreadyExists, errors.New("exists")))
	assert.Equal(t, ErrorCategoryConflict, GetErrorCategory(conflict))

	lost := fmt.Errorf("search: %w", NewConnectionError("connection lost", false, nil))
	assert.True(t, IsConnectionError(lost))

	assert.Equal(t, ErrorCategoryUnknown, GetErrorCategory(nil))
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.True(t, IsRetryableError(ldap.NewError(ldap.LDAPResultBusy, errors.New("busy"))))
	assert.False(t, IsRetryableError(ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad"))))
	assert.True(t, IsRetryableError(NewConnectionError("dial", true, nil)))
	assert.False(t, IsRetryableError(NewConnectionError("dial", false, nil)))
	assert.True(t, IsRetryableError(errors.New("i/o timeout")))
	assert.False(t, IsRetryableError(fmt.Errorf("search: %w", context.Canceled)))
}
