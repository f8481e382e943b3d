package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// HashToolArgs canonicalizes tool arguments (sorted keys, compact JSON)
// and returns the hex digest the credential is bound to.
func HashToolArgs(args map[string]any) string {
	if args == nil {
		args = map[string]any{}
	}
	// encoding/json emits map keys in sorted order, which makes the
	// serialization stable across callers.
	payload, err := json.Marshal(args)
	if err != nil {
		payload = []byte("{}")
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
