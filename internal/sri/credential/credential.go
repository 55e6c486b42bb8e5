// Package credential loads the signing private key and titular X.509
// certificate from a PKCS#12 container, generalizing the teacher's
// signer.LoadFromP12 (golang.org/x/crypto/pkcs12, single-leaf) to iterate
// every cert bag via pkcs12.DecodeChain so the titular-vs-CA heuristic in
// §9 of the design notes can run over the whole chain, not just the leaf.
package credential

import (
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/sriemisor/core/internal/sri/srierr"
)

// Credential is held by the Signer for the duration of one signing call.
type Credential struct {
	PrivateKey *rsa.PrivateKey
	Cert       *x509.Certificate
	CertPEM    string // PEM-encoded titular certificate
	CertDER    []byte // raw DER, as embedded (base64, whitespace-stripped) in ds:X509Certificate
	ValidFrom  time.Time
	ValidTo    time.Time
	Subject    pkix.Name
	RUC        string
	EsFirmaDigital bool
}

// rucPattern matches the first run of 10-13 digits in a candidate string,
// per the extraction fallback chain in §4.3.
var rucPattern = regexp.MustCompile(`\d{10,13}`)

// Load reads a PKCS#12 container either from a filesystem path (isBase64=false)
// or from a base64-encoded blob (isBase64=true, materialized to a process-
// private temp file for parity with downstream tooling that requires a path,
// removed before Load returns). Fails with InvalidCredential if bags are
// missing, the passphrase is wrong, or the selected cert's validity window
// excludes now.
func Load(source, passphrase string, isBase64 bool) (*Credential, error) {
	var data []byte
	if isBase64 {
		raw, err := base64.StdEncoding.DecodeString(source)
		if err != nil {
			return nil, srierr.New(srierr.InvalidCredential, "source", fmt.Errorf("blob base64 inválido: %w", err))
		}
		data = raw

		tmpDir, err := os.MkdirTemp("", "sri-cred-*")
		if err == nil {
			tmpPath := filepath.Join(tmpDir, uuid.NewString()+".p12")
			if werr := os.WriteFile(tmpPath, raw, 0o600); werr == nil {
				defer os.Remove(tmpPath)
				defer os.Remove(tmpDir)
			}
		}
	} else {
		raw, err := os.ReadFile(source)
		if err != nil {
			return nil, srierr.New(srierr.InvalidCredential, "source", fmt.Errorf("leer p12: %w", err))
		}
		data = raw
	}

	key, leaf, chain, err := pkcs12.DecodeChain(data, passphrase)
	if err != nil {
		return nil, srierr.New(srierr.InvalidCredential, "passphrase", fmt.Errorf("decodificar p12: %w", err))
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, srierr.New(srierr.InvalidCredential, "privateKey", fmt.Errorf("la llave privada no es RSA"))
	}

	certs := append([]*x509.Certificate{leaf}, chain...)
	titular := selectTitular(certs, rsaKey)

	now := time.Now()
	if now.Before(titular.NotBefore) || now.After(titular.NotAfter) {
		return nil, srierr.New(srierr.InvalidCredential, "validity", fmt.Errorf("certificado fuera de vigencia: %s .. %s", titular.NotBefore, titular.NotAfter))
	}

	ruc, rucFound := extractRUC(titular)
	esFirmaDigital := hasKeyUsage(titular, x509.KeyUsageDigitalSignature) && hasKeyUsage(titular, x509.KeyUsageContentCommitment)
	if !esFirmaDigital {
		esFirmaDigital = rucFound && titular.Subject.CommonName != ""
	}

	certPEM := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: titular.Raw}))

	return &Credential{
		PrivateKey:     rsaKey,
		Cert:           titular,
		CertPEM:        certPEM,
		CertDER:        titular.Raw,
		ValidFrom:      titular.NotBefore,
		ValidTo:        titular.NotAfter,
		Subject:        titular.Subject,
		RUC:            ruc,
		EsFirmaDigital: esFirmaDigital,
	}, nil
}

// selectTitular prefers a certificate whose keyUsage asserts
// digitalSignature && nonRepudiation AND whose public modulus matches the
// private key, falling back to the first certificate when no such match
// exists. This replaces the hardcoded name-match the source carried.
func selectTitular(certs []*x509.Certificate, key *rsa.PrivateKey) *x509.Certificate {
	for _, c := range certs {
		if c == nil {
			continue
		}
		if !hasKeyUsage(c, x509.KeyUsageDigitalSignature) || !hasKeyUsage(c, x509.KeyUsageContentCommitment) {
			continue
		}
		pub, ok := c.PublicKey.(*rsa.PublicKey)
		if !ok {
			continue
		}
		if pub.N.Cmp(key.N) == 0 {
			return c
		}
	}
	return certs[0]
}

func hasKeyUsage(c *x509.Certificate, u x509.KeyUsage) bool {
	return c.KeyUsage&u != 0
}

// RDN 2.5.4.5 (serialNumber) is surfaced directly as c.Subject.SerialNumber
// by crypto/x509, so it needs no explicit OID lookup below. oidUID is RDN
// 0.9.2342.19200300.100.1.1 (userid), which some Ecuadorian CAs embed the
// RUC/cédula under instead of serialNumber. oidCedulaEcuador is the
// SRI-specific OID 2.5.4.45 some CAs use for the cédula. oidSriExtension is
// the vendor extension 1.3.6.1.4.1.37746.3.11 some Ecuadorian CAs embed the
// RUC under.
var (
	oidUID           = []int{0, 9, 2342, 19200300, 100, 1, 1}
	oidCedulaEcuador = []int{2, 5, 4, 45}
	oidSriExtension  = []int{1, 3, 6, 1, 4, 1, 37746, 3, 11}
)

// extractRUC runs the fallback chain from §4.3: subject serialNumber, subject
// UID and OID 2.5.4.45 (in the order they appear in the subject), the
// subjectAltName e-mail addresses (other SAN entry types are not scanned),
// the SRI vendor extension, and finally the certificate's own serial number
// in decimal. The first match of \d{10,13} wins; a lone 10-digit cédula is
// right-padded with "001".
func extractRUC(c *x509.Certificate) (string, bool) {
	candidates := []string{c.Subject.SerialNumber}
	for _, atv := range c.Subject.Names {
		if atv.Type.Equal(oidUID) || atv.Type.Equal(oidCedulaEcuador) {
			if s, ok := atv.Value.(string); ok {
				candidates = append(candidates, s)
			}
		}
	}
	candidates = append(candidates, c.EmailAddresses...)
	for _, ext := range c.Extensions {
		if ext.Id.Equal(oidSriExtension) {
			candidates = append(candidates, string(ext.Value))
		}
	}
	candidates = append(candidates, c.SerialNumber.Text(10))

	for _, cand := range candidates {
		m := rucPattern.FindString(cand)
		if m == "" {
			continue
		}
		if len(m) == 10 {
			return m + "001", true
		}
		return m, true
	}
	return "", false
}
