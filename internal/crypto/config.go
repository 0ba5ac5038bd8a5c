package crypto

import "fmt"

// EncryptCredentials encrypts every value of a credential map (api keys,
// tokens, passwords, header values for a SecureConnection) into a new
// map, which it returns; the input map is not modified. Empty values are
// copied unencrypted. If key is nil, the map is returned
// unchanged (no-op), matching the teacher's EncryptLLMConfig no-key
// passthrough.
func EncryptCredentials(creds map[string]string, key []byte) (map[string]string, error) {
	if key == nil || len(creds) == 0 {
		return creds, nil
	}

	encrypted := make(map[string]string, len(creds))
	for k, v := range creds {
		if v == "" {
			encrypted[k] = v
			continue
		}
		enc, err := Encrypt(v, key)
		if err != nil {
			return creds, fmt.Errorf("encrypt credential %q: %w", k, err)
		}
		encrypted[k] = enc
	}

	return encrypted, nil
}

// DecryptCredentials decrypts every string value of a credential map.
// Values without the "enc:" prefix are passed through unchanged, so a
// mixed plaintext/encrypted map (e.g. during a migration) decrypts
// safely.
func DecryptCredentials(creds map[string]string, key []byte) (map[string]string, error) {
	if key == nil || len(creds) == 0 {
		return creds, nil
	}

	decrypted := make(map[string]string, len(creds))
	for k, v := range creds {
		dec, err := Decrypt(v, key)
		if err != nil {
			return creds, fmt.Errorf("decrypt credential %q: %w", k, err)
		}
		decrypted[k] = dec
	}

	return decrypted, nil
}
