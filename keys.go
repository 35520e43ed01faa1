package gomatrixstateres

import (
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/crypto/ed25519"

	"github.com/matrix-org/gomatrixstateres/spec"
)

// VerifyThirdPartyInviteSigned checks the "signed" object of a third party
// invite. It passes if any of its signatures verifies against any of the
// public keys, which are unpadded base64 as published in the
// m.room.third_party_invite event.
func VerifyThirdPartyInviteSigned(signed []byte, publicKeys []string) error {
	if !gjson.ValidBytes(signed) {
		return badJSONf("third party invite signed object is not valid JSON")
	}
	signatures := gjson.GetBytes(signed, "signatures")
	if !signatures.IsObject() {
		return fmt.Errorf("third party invite has no signatures")
	}

	unsigned, err := sjson.DeleteBytes(signed, "signatures")
	if err != nil {
		return err
	}
	if unsigned, err = sjson.DeleteBytes(unsigned, "unsigned"); err != nil {
		return err
	}
	message, err := CanonicalJSON(unsigned)
	if err != nil {
		return err
	}

	keys := make([]ed25519.PublicKey, 0, len(publicKeys))
	for _, publicKey := range publicKeys {
		var decoded spec.Base64Bytes
		if err = decoded.Decode(publicKey); err != nil || len(decoded) != ed25519.PublicKeySize {
			continue
		}
		keys = append(keys, ed25519.PublicKey(decoded))
	}
	if len(keys) == 0 {
		return fmt.Errorf("third party invite has no usable public keys")
	}

	for _, signature := range collectSignatures(signatures) {
		var decoded spec.Base64Bytes
		if err = decoded.Decode(signature); err != nil {
			continue
		}
		for _, key := range keys {
			if ed25519.Verify(key, message, decoded) {
				return nil
			}
		}
	}
	return fmt.Errorf("no signature matches any public key")
}

// collectSignatures flattens a {"server": {"key_id": "signature"}} object
// into its signatures, ordered by server name then key ID.
func collectSignatures(signatures gjson.Result) []string {
	type signature struct {
		server, keyID, value string
	}
	var all []signature
	signatures.ForEach(func(server, keys gjson.Result) bool {
		keys.ForEach(func(keyID, value gjson.Result) bool {
			if value.Type == gjson.String {
				all = append(all, signature{server.Str, keyID.Str, value.Str})
			}
			return true
		})
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].server != all[j].server {
			return all[i].server < all[j].server
		}
		return all[i].keyID < all[j].keyID
	})
	values := make([]string, len(all))
	for i := range all {
		values[i] = all[i].value
	}
	return values
}
