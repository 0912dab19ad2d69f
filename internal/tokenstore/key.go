package tokenstore

import "strings"

// Credential types used as the last key segment.
const (
	CredentialTypeIDToken      = "ID_TOKEN"
	CredentialTypeMFAToken     = "MFA_TOKEN"
	CredentialTypeOAuthAccess  = "OAUTH_ACCESS_TOKEN"
	CredentialTypeOAuthRefresh = "OAUTH_REFRESH_TOKEN"
)

// Key builds a cache key of the form HOST:USER:TYPE. Host and user are upper-cased
// so lookups do not depend on how the caller spelled them.
func Key(host, user, credentialType string) string {
	return strings.ToUpper(host) + ":" + strings.ToUpper(user) + ":" + credentialType
}
