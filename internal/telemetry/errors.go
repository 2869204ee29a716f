package telemetry

// Error message templates with troubleshooting steps for the failures
// operators hit most often.
//
// Usage:
//
//	if !strings.Contains(contentType, "application/json") {
//	    return fmt.Errorf(telemetry.ErrNonJSONResponseTemplate,
//	        contentType, url, preview)
//	}
const (
	// ErrLoginFailedTemplate is returned when the platform rejects the credentials
	// or answers the login call without a session id.
	ErrLoginFailedTemplate = `Login to the ArcherOSS platform failed (%s).

This usually indicates:
1. Wrong username or password (check 'platform.username' and ARCHER_PLATFORM_PASSWORD)
2. The account is locked after repeated failures
3. The URL points at a node that does not serve the resource API

Request URL: %s`

	// ErrNonJSONResponseTemplate is returned when the server returns non-JSON content
	ErrNonJSONResponseTemplate = `ArcherOSS platform returned non-JSON response (Content-Type: %s).

This usually indicates:
1. Wrong platform URL (check 'platform.url' in config.yaml)
2. A reverse proxy login page in front of the API
3. The resource service is restarting

Request URL: %s
Response preview: %s`

	// ErrSSHKeyPermissionTemplate is returned when a remote command fails on key access.
	ErrSSHKeyPermissionTemplate = `SSH authentication to %s failed: %v

The private key is probably readable by other users or not accepted by the node.
Run: chmod 600 %s`
)
