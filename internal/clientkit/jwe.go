package clientkit

import (
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// drkJWEAlg/drkJWEEnc are the key-management and content-encryption
// algorithms used to seal a DRK to an authorize request's zk_pub:
// ECDH-ES+A256KW so the ciphertext carries no ephemeral key material
// the server would need to relay, A256GCM for the content itself.
const (
	drkJWEAlg = jose.ECDH_ES_A256KW
	drkJWEEnc = jose.A256GCM
)

// EncryptDRKToJWE builds the compact JWE the browser client appends to
// the redirect as the #drk_jwe fragment: the DRK encrypted to the
// ephemeral ECDH P-256 public key the server echoed back in the
// /authorize response's zk_pub. zkPubJWK is the raw JSON of that JWK.
func EncryptDRKToJWE(zkPubJWK json.RawMessage, drk []byte) (string, error) {
	var pub jose.JSONWebKey
	if err := pub.UnmarshalJSON(zkPubJWK); err != nil {
		return "", fmt.Errorf("clientkit: unmarshaling zk_pub: %w", err)
	}
	if !pub.Valid() || !pub.IsPublic() {
		return "", fmt.Errorf("clientkit: zk_pub is not a valid public JWK")
	}

	encrypter, err := jose.NewEncrypter(drkJWEEnc, jose.Recipient{
		Algorithm: drkJWEAlg,
		Key:       pub.Key,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("clientkit: constructing encrypter: %w", err)
	}

	obj, err := encrypter.Encrypt(drk)
	if err != nil {
		return "", fmt.Errorf("clientkit: encrypting drk: %w", err)
	}
	serialized, err := obj.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("clientkit: serializing jwe: %w", err)
	}
	return serialized, nil
}

// DecryptDRKFromJWE reverses EncryptDRKToJWE using the ephemeral
// private key whose public half was sent as zk_pub. Only a test
// harness or a relying party holding that private key can call this —
// the server itself never does, since it never holds the private half.
func DecryptDRKFromJWE(zkPriv jose.JSONWebKey, compactJWE string) ([]byte, error) {
	obj, err := jose.ParseEncrypted(compactJWE,
		[]jose.KeyAlgorithm{drkJWEAlg},
		[]jose.ContentEncryption{drkJWEEnc},
	)
	if err != nil {
		return nil, fmt.Errorf("clientkit: parsing jwe: %w", err)
	}
	drk, err := obj.Decrypt(zkPriv.Key)
	if err != nil {
		return nil, fmt.Errorf("clientkit: decrypting jwe: %w", err)
	}
	return drk, nil
}
