package storage

import "strings"

// ComposeURL joins serverURL, an optional bucket segment and key with single
// slashes: serverURL + "/" + [bucket + "/"] + key.
func ComposeURL(serverURL, bucket, key string) string {
	parts := make([]string, 0, 3)
	if s := strings.TrimRight(serverURL, "/"); s != "" {
		parts = append(parts, s)
	}
	if b := strings.Trim(bucket, "/"); b != "" {
		parts = append(parts, b)
	}
	if k := strings.TrimLeft(key, "/"); k != "" {
		parts = append(parts, k)
	}
	return strings.Join(parts, "/")
}
