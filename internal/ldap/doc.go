/*
Package ldap provides the Active Directory access layer of the synchronization engine.

# Architecture Overview

The package is organized into a few core components:

  - Client: one long-lived, authenticated connection with retry and reconnect
  - EntryRepository: lookup, create, persist, relocate and delete of users and groups
  - Entry: an object under reconciliation, with stored values and pending assignments
  - DN and filter helpers: RFC 4514 escaping and case normalization

# Connection Management

The Client opens a single connection to the first reachable URL:

  - LDAPS, or StartTLS on ldap:// URLs
  - Simple bind or Kerberos (GSSAPI) authentication
  - Automatic retry with exponential backoff for transient failures
  - Subtree searches paged with the simple paged results control

# Persisting Entries

Entries are written by difference. A new entry is added with its structural
and auxiliary object classes. An existing entry is renamed first when its
common name changed, then modified with only the attributes whose values
differ. unicodePwd is write-only and always sent when present.

# Error Handling

Directory failures are returned as *LDAPError with a category, the LDAP result
code and the DN involved. Repository writes wrap them in *PersistError.

# Logging

Operations log through the hclog logger carried in the context (see WithLogger),
under the "ldap" sub-logger. Sensitive fields are redacted by SanitizeFields.
*/
package ldap
