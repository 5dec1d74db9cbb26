package source

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildRTSPURL injects decrypted credentials into a base RTSP URL.
// Credentials already embedded in the base are stripped first so a
// tenant-pasted URL never overrides the stored ones. A bare host/path
// gets the rtsp scheme.
func BuildRTSPURL(base, username, password string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("source: empty rtsp url")
	}
	if !strings.Contains(base, "://") {
		base = "rtsp://" + base
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("source: parse rtsp url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("source: rtsp url %q has no host", base)
	}

	// Drop any embedded user info before injecting.
	u.User = nil
	if username != "" {
		if password != "" {
			u.User = url.UserPassword(username, password)
		} else {
			u.User = url.User(username)
		}
	}
	return u.String(), nil
}

// SplitCredentials splits the decrypted "<username>:<password>" blob.
// The password may itself contain colons; only the first one splits.
func SplitCredentials(plain string) (username, password string) {
	if i := strings.IndexByte(plain, ':'); i >= 0 {
		return plain[:i], plain[i+1:]
	}
	return plain, ""
}
