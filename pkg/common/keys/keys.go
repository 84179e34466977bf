package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	jwk "github.com/lestrrat-go/jwx/v2/jwk"
)

// manager lazily loads or generates the tool's RSA key pair. The public half
// is published at /.well-known/jwks.json; the private half signs deep linking
// response JWTs and client-credential assertions.
var (
	once     sync.Once
	initErr  error
	toolJWKS jwk.Set
	toolKid  string
	toolKey  *rsa.PrivateKey
)

// Init ensures the tool key pair and JWKS are available. A failed first call
// keeps failing on every later call; it never half-initializes.
func Init() error {
	once.Do(func() {
		kid := os.Getenv("TOOL_KID")
		if kid == "" {
			kid = uuid.NewString()
		}
		toolKid = kid

		// Prefer loading the private key from environment (CI/CD-provided)
		key := keyFromEnv()

		// Fallback: generate a 2048-bit RSA key for dev.
		if key == nil {
			gen, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				initErr = err
				return
			}
			key = gen
			// Print helpers so the operator can capture and persist the key.
			block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(gen)}
			pemBytes := pem.EncodeToMemory(block)
			fmt.Println("[keys] Generated ephemeral RSA key (dev mode). To persist, set one of:")
			fmt.Printf("export TOOL_PRIVATE_KEY_PEM='%s'\n", string(pemBytes))
			fmt.Printf("export TOOL_PRIVATE_KEY_B64='%s'\n", base64.StdEncoding.EncodeToString(pemBytes))
			fmt.Printf("export TOOL_KID='%s'\n", kid)
		}
		toolKey = key

		jwkKey, err := jwk.FromRaw(&key.PublicKey)
		if err != nil {
			initErr = err
			return
		}
		_ = jwkKey.Set("kid", kid)
		_ = jwkKey.Set("alg", "RS256")
		_ = jwkKey.Set("use", "sig")
		_ = jwkKey.Set("kty", "RSA")

		set := jwk.NewSet()
		_ = set.AddKey(jwkKey)
		toolJWKS = set
	})
	return initErr
}

func keyFromEnv() *rsa.PrivateKey {
	if b64 := os.Getenv("TOOL_PRIVATE_KEY_B64"); b64 != "" {
		if der, err := base64.StdEncoding.DecodeString(b64); err == nil {
			if k := parsePEM(der); k != nil {
				return k
			}
		}
	}
	if pemStr := os.Getenv("TOOL_PRIVATE_KEY_PEM"); pemStr != "" {
		if k := parsePEM([]byte(pemStr)); k != nil {
			return k
		}
	}
	return nil
}

func parsePEM(data []byte) *rsa.PrivateKey {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k
	}
	if pkcs8, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rk, ok := pkcs8.(*rsa.PrivateKey); ok {
			return rk
		}
	}
	return nil
}

// JWKSJSON returns the tool's public JWKS as JSON bytes.
func JWKSJSON() ([]byte, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	return json.Marshal(toolJWKS)
}

// SigningKey returns the private key as a jwk.Key with kid and alg set,
// ready to be passed to jwt.Sign.
func SigningKey() (jwk.Key, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	key, err := jwk.FromRaw(toolKey)
	if err != nil {
		return nil, err
	}
	_ = key.Set(jwk.KeyIDKey, toolKid)
	_ = key.Set(jwk.AlgorithmKey, "RS256")
	return key, nil
}
