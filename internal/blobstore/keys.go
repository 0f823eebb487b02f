package blobstore

import (
	"crypto/rand"
	"encoding/hex"
	"path"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

const (
	keyDigestLength = 12
	keyNonceLength  = 4
)

// deriveKey builds the object key for an upload:
// folder/hint-<digest>-<nonce>.<ext>. The digest covers the payload so
// related uploads are recognisable in the bucket; the nonce makes every
// upload a distinct object, so replacing an image with identical bytes never
// reuses the key of the blob a node still references, and two nodes never
// share one object.
func deriveKey(folder, nameHint string, payload []byte) string {
	base, ext := splitHint(nameHint)
	sum := blake2b.Sum256(payload)
	digest := hex.EncodeToString(sum[:keyDigestLength])
	name := base + "-" + digest + "-" + keyNonce()
	if ext != "" {
		name += "." + ext
	}
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		return name
	}
	return path.Join(folder, name)
}

func keyNonce() string {
	var buf [keyNonceLength]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(buf[:])
}

func splitHint(hint string) (base, ext string) {
	trimmed := strings.TrimSpace(hint)
	trimmed = strings.TrimLeft(path.Base(trimmed), ".")
	if trimmed == "" {
		return "image", "jpg"
	}
	if idx := strings.LastIndex(trimmed, "."); idx > 0 {
		base = sanitizeComponent(trimmed[:idx])
		ext = sanitizeComponent(trimmed[idx+1:])
	} else {
		base = sanitizeComponent(trimmed)
	}
	if base == "" {
		base = "image"
	}
	if ext == "" {
		ext = "jpg"
	}
	return base, ext
}

func sanitizeComponent(s string) string {
	var builder strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	return strings.Trim(builder.String(), "-")
}
