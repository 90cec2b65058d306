package hash

import (
	"crypto/md5"
	"encoding/hex"
	"io"
)

// Short returns the first 8 hex characters of the MD5 of s.
func Short(s string) string {
	hasher := md5.New()
	_, _ = io.WriteString(hasher, s)
	return hex.EncodeToString(hasher.Sum(nil))[:8]
}

// Name returns "<prefix>-<Short(key)>".
func Name(prefix, key string) string {
	return prefix + "-" + Short(key)
}
