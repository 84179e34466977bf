package keys

import (
	"testing"

	jwk "github.com/lestrrat-go/jwx/v2/jwk"
)

func TestInitIsIdempotent(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := Init(); err != nil {
		t.Fatalf("second init: %v", err)
	}
}

func TestSigningKeyMatchesPublishedJWKS(t *testing.T) {
	key, err := SigningKey()
	if err != nil {
		t.Fatalf("signing key: %v", err)
	}
	if key.KeyID() == "" {
		t.Fatal("signing key has no kid")
	}
	data, err := JWKSJSON()
	if err != nil {
		t.Fatalf("jwks: %v", err)
	}
	set, err := jwk.Parse(data)
	if err != nil {
		t.Fatalf("parse jwks: %v", err)
	}
	if _, found := set.LookupKeyID(key.KeyID()); !found {
		t.Fatalf("kid %s not published in JWKS", key.KeyID())
	}
}
