package rooms

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

// newRoomID returns a short URL-safe identifier suitable for sharing in a
// viewer link (11 characters for 8 bytes of entropy).
func newRoomID() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

// newViewerID returns an identifier for a viewer attachment. Viewer ids are
// never typed by humans, so a plain UUID is fine.
func newViewerID() string {
	return uuid.NewString()
}
