package platform

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWSVerifier decodes Apple signed payloads. With a root certificate the x5c
// chain in the header is verified and the ES256 signature is checked against
// the leaf key; without one the claims are read unverified.
type JWSVerifier struct {
	roots  *x509.CertPool
	parser *jwt.Parser
	now    func() time.Time

	// 证书缓存，Apple 的中间证书很少变化
	mutex     sync.RWMutex
	certCache map[string]*x509.Certificate
}

// NewJWSVerifier creates a verifier; root may be nil.
func NewJWSVerifier(root *x509.Certificate) *JWSVerifier {
	v := &JWSVerifier{
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
		now:       time.Now,
		certCache: make(map[string]*x509.Certificate),
	}
	if root != nil {
		v.roots = x509.NewCertPool()
		v.roots.AddCert(root)
	}
	return v
}

// LoadRootCertificate reads a PEM or DER encoded certificate from disk.
func LoadRootCertificate(path string) (*x509.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read root certificate: %w", err)
	}
	if block, _ := pem.Decode(raw); block != nil {
		raw = block.Bytes
	}
	cert, err := x509.ParseCertificate(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse root certificate: %w", err)
	}
	return cert, nil
}

// Verifies reports whether signatures are checked.
func (v *JWSVerifier) Verifies() bool {
	return v.roots != nil
}

// Decode parses token into claims.
func (v *JWSVerifier) Decode(token string, claims jwt.Claims) error {
	if token == "" {
		return fmt.Errorf("%w: empty JWS", ErrDecode)
	}
	if v.roots == nil {
		if _, _, err := v.parser.ParseUnverified(token, claims); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return nil
	}

	if _, err := v.parser.ParseWithClaims(token, claims, v.keyFunc); err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	return nil
}

func (v *JWSVerifier) keyFunc(token *jwt.Token) (interface{}, error) {
	rawChain, ok := token.Header["x5c"].([]interface{})
	if !ok || len(rawChain) == 0 {
		return nil, errors.New("missing x5c header")
	}

	chain := make([]*x509.Certificate, 0, len(rawChain))
	for _, entry := range rawChain {
		encoded, ok := entry.(string)
		if !ok {
			return nil, errors.New("x5c entry is not a string")
		}
		cert, err := v.certificate(encoded)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cert)
	}

	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}
	leaf := chain[0]
	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   v.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return nil, fmt.Errorf("certificate chain rejected: %w", err)
	}

	key, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("leaf certificate does not carry an ECDSA key")
	}
	return key, nil
}

func (v *JWSVerifier) certificate(encoded string) (*x509.Certificate, error) {
	v.mutex.RLock()
	cert, exists := v.certCache[encoded]
	v.mutex.RUnlock()
	if exists {
		return cert, nil
	}

	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode certificate: %w", err)
	}
	cert, err = x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	v.mutex.Lock()
	v.certCache[encoded] = cert
	v.mutex.Unlock()
	return cert, nil
}
