package ldap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"

	"github.com/go-ldap/ldap/v3"
)

// ErrorCategory groups failures by what has to change before a rerun helps.
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

// resultClass is the category of a result code and whether the same
// request could succeed on a later run without any change to the data.
type resultClass struct {
	category  ErrorCategory
	transient bool
}

var resultClasses = map[uint16]resultClass{
	ldap.LDAPResultInvalidCredentials:          {ErrorCategoryAuthentication, false},
	ldap.LDAPResultInappropriateAuthentication: {ErrorCategoryAuthentication, false},
	ldap.LDAPResultStrongAuthRequired:          {ErrorCategoryAuthentication, false},
	ldap.LDAPResultAuthMethodNotSupported:      {ErrorCategoryAuthentication, false},

	ldap.LDAPResultInsufficientAccessRights: {ErrorCategoryPermission, false},
	ldap.LDAPResultUnwillingToPerform:       {ErrorCategoryPermission, false},

	// An add below a missing parent reports noSuchObject with the deepest
	// existing DN as MatchedDN; importing the parent first fixes it.
	ldap.LDAPResultNoSuchObject:           {ErrorCategoryNotFound, false},
	ldap.LDAPResultNoSuchAttribute:        {ErrorCategoryNotFound, false},
	ldap.LDAPResultUndefinedAttributeType: {ErrorCategoryNotFound, false},

	ldap.LDAPResultEntryAlreadyExists:     {ErrorCategoryConflict, false},
	ldap.LDAPResultAttributeOrValueExists: {ErrorCategoryConflict, false},
	ldap.LDAPResultNotAllowedOnNonLeaf:    {ErrorCategoryConflict, false},

	ldap.LDAPResultInvalidAttributeSyntax: {ErrorCategoryValidation, false},
	ldap.LDAPResultConstraintViolation:    {ErrorCategoryValidation, false},
	ldap.LDAPResultInvalidDNSyntax:        {ErrorCategoryValidation, false},
	ldap.LDAPResultNamingViolation:        {ErrorCategoryValidation, false},
	ldap.LDAPResultObjectClassViolation:   {ErrorCategoryValidation, false},
	ldap.LDAPResultParamError:             {ErrorCategoryValidation, false},

	ldap.LDAPResultBusy:                         {ErrorCategoryServer, true},
	ldap.LDAPResultUnavailable:                  {ErrorCategoryServer, true},
	ldap.LDAPResultServerDown:                   {ErrorCategoryServer, true},
	ldap.LDAPResultTimeLimitExceeded:            {ErrorCategoryServer, true},
	ldap.LDAPResultAdminLimitExceeded:           {ErrorCategoryServer, false},
	ldap.LDAPResultLoopDetect:                   {ErrorCategoryServer, false},
	ldap.LDAPResultUnavailableCriticalExtension: {ErrorCategoryServer, false},

	ldap.LDAPResultConnectError:  {ErrorCategoryConnection, true},
	ldap.LDAPResultProtocolError: {ErrorCategoryConnection, false},
	ldap.LDAPResultTimeout:       {ErrorCategoryConnection, true},
	ldap.ErrorNetwork:            {ErrorCategoryConnection, true},
}

// LDAPError is a failed directory operation with the server's verdict.
type LDAPError struct {
	Operation string        // bind, gssapi_bind, add
	Category  ErrorCategory // What has to change before a rerun helps
	LDAPCode  uint16        // Result code, 0 when the failure never reached the server
	Message   string        // Result code name, or the cause for local failures
	ServerMsg string        // Diagnostic message returned by the server
	DN        string        // Entry or bind DN
	MatchedDN string        // Deepest existing DN reported by the server
	Transient bool          // The same request may succeed on a later run
	Cause     error
}

func (e *LDAPError) Error() string {
	msg := e.Operation + " failed"
	if e.DN != "" {
		msg += " for " + e.DN
	}
	if e.LDAPCode != 0 {
		msg += fmt.Sprintf(": result code %d", e.LDAPCode)
		if e.Message != "" {
			msg += " (" + e.Message + ")"
		}
	} else if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		msg += ": " + e.ServerMsg
	}
	return msg
}

func (e *LDAPError) Unwrap() error {
	return e.Cause
}

// Fields returns the error as log fields.
func (e *LDAPError) Fields() map[string]any {
	fields := map[string]any{
		"operation":      e.Operation,
		"error":          e.Error(),
		"error_category": string(e.Category),
		"transient":      e.Transient,
	}
	if e.LDAPCode != 0 {
		fields["ldap_result_code"] = e.LDAPCode
		fields["ldap_result"] = e.Message
	}
	if e.ServerMsg != "" {
		fields["ldap_diagnostic_message"] = e.ServerMsg
	}
	if e.MatchedDN != "" {
		fields["ldap_matched_dn"] = e.MatchedDN
	}
	if e.DN != "" {
		fields["dn"] = e.DN
	}
	return fields
}

// NewLDAPError wraps err from operation. It returns nil for a nil err.
func NewLDAPError(operation string, err error) *LDAPError {
	if err == nil {
		return nil
	}

	ldapErr := &LDAPError{
		Operation: operation,
		Message:   err.Error(),
		Cause:     err,
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		ldapErr.LDAPCode = resultErr.ResultCode
		ldapErr.MatchedDN = resultErr.MatchedDN
		ldapErr.Message = ResultCodeName(resultErr.ResultCode)
		if resultErr.Err != nil {
			ldapErr.ServerMsg = resultErr.Err.Error()
		}
	}

	ldapErr.Category, ldapErr.Transient = classify(err)

	return ldapErr
}

// ResultCodeName returns the protocol name of an LDAP result code.
func ResultCodeName(code uint16) string {
	if name, ok := ldap.LDAPResultCodeMap[code]; ok {
		return name
	}
	return fmt.Sprintf("Unknown LDAP result (code %d)", code)
}

// classify inspects the error chain. Certificate failures are permanent
// even when go-ldap reports them as network errors.
func classify(err error) (ErrorCategory, bool) {
	if isCertificateError(err) {
		return ErrorCategoryConnection, false
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) && ldapErr.Category != "" {
		return ldapErr.Category, ldapErr.Transient
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return ErrorCategoryConnection, connErr.transient
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		if class, ok := resultClasses[resultErr.ResultCode]; ok {
			return class.category, class.transient
		}
		return ErrorCategoryUnknown, false
	}

	var netErr net.Error
	switch {
	case errors.Is(err, errNotConnected):
		return ErrorCategoryConnection, true
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryConnection, true
	case errors.As(err, &netErr):
		return ErrorCategoryConnection, true
	}

	return ErrorCategoryUnknown, false
}

func isCertificateError(err error) bool {
	var verifyErr *tls.CertificateVerificationError
	var authorityErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError

	return errors.As(err, &verifyErr) ||
		errors.As(err, &authorityErr) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr)
}

// CategoryOf returns the category of err.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}
	category, _ := classify(err)
	return category
}

// IsTransient reports whether err is a failure that a later run may not
// repeat: a busy or unreachable server rather than bad data or credentials.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	_, transient := classify(err)
	return transient
}

// IsConflictError reports whether err means the entry already exists.
func IsConflictError(err error) bool {
	return CategoryOf(err) == ErrorCategoryConflict
}

// IsAuthenticationError reports whether err is a credential problem.
func IsAuthenticationError(err error) bool {
	return CategoryOf(err) == ErrorCategoryAuthentication
}
