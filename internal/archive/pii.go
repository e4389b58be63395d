package archive

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// HashContact returns the hex SHA-256 of a normalized e-mail or phone number,
// so manifests can be joined on a customer without storing the address.
func HashContact(contact string) string {
	contact = strings.ToLower(strings.TrimSpace(contact))
	if contact == "" {
		return ""
	}
	h := sha256.Sum256([]byte(contact))
	return fmt.Sprintf("%x", h)
}
