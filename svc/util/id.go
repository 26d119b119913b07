package util

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// IDLength is the length of paste identifiers. 12 hex characters gives 48
// bits of randomness, plenty for a non-cryptographic identifier.
const IDLength = 12

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9]{12}$`)

// ValidID reports whether s is a well-formed paste id. Malformed ids are
// rejected before they ever reach the store.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

// GenID draws a fresh paste id and checks it against exists, retrying a few
// times on the (vanishingly unlikely) collision. The store's uniqueness
// constraint remains the backstop for the create race.
func GenID(exists func(string) (bool, error)) (string, error) {
	for retry := 0; retry < 5; retry++ {
		id := newID()
		exist, err := exists(id)
		if err != nil {
			return "", err
		}
		if !exist {
			return id, nil
		}
	}
	return "", errors.New("id collision after 5 retries")
}

func newID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:IDLength]
}
