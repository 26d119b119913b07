package envelope

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// sentinelKey is the wire placeholder for password-derived keys. It exists
// only in the fragment encoding; inside the package key material is typed.
const sentinelKey = "password-protected"

type fragmentJSON struct {
	Key  string `json:"key"`
	IV   string `json:"iv"`
	Salt string `json:"salt,omitempty"`
}

// FragmentData is the decoded content of a share-link fragment.
type FragmentData struct {
	Key KeyMaterial
	IV  string
}

// EncodeFragment serializes key material and IV into the base64 JSON blob
// carried after "#" in a share link. Password-derived keys are written as
// the sentinel plus their salt; the real key never appears.
func EncodeFragment(key KeyMaterial, iv string) string {
	f := fragmentJSON{IV: iv}
	if key.PasswordDerived() {
		f.Key = sentinelKey
		f.Salt = base64.StdEncoding.EncodeToString(key.Salt())
	} else {
		f.Key = key.Export()
	}
	raw, _ := json.Marshal(f)
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeFragment reverses EncodeFragment. A missing, empty or malformed
// fragment yields (nil, false): callers probe the fragment opportunistically
// on every view and absence must not be fatal.
func DecodeFragment(fragment string) (*FragmentData, bool) {
	fragment = strings.TrimPrefix(fragment, "#")
	if fragment == "" {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(fragment)
	if err != nil {
		return nil, false
	}
	var f fragmentJSON
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false
	}
	if f.Key == "" || f.IV == "" {
		return nil, false
	}
	if f.Key == sentinelKey {
		salt, err := base64.StdEncoding.DecodeString(f.Salt)
		if err != nil {
			return nil, false
		}
		return &FragmentData{Key: PasswordDerivedKey(salt), IV: f.IV}, true
	}
	rawKey, err := base64.StdEncoding.DecodeString(f.Key)
	if err != nil {
		return nil, false
	}
	key, err := DirectKey(rawKey)
	if err != nil {
		return nil, false
	}
	return &FragmentData{Key: key, IV: f.IV}, true
}

// ShareLink assembles the full shareable URL. The fragment after "#" is
// never transmitted to the server; that is the privacy boundary of the
// whole design.
func ShareLink(origin, id string, key KeyMaterial, iv string) string {
	return strings.TrimSuffix(origin, "/") + "/paste/" + id + "#" + EncodeFragment(key, iv)
}
