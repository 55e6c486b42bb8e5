package credential

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"
)

func selfSignedTitular(t *testing.T, ruc string) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "EMISOR DE PRUEBA",
			SerialNumber: ruc,
		},
		NotBefore:             time.Now().Add(-24 * time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

func buildP12(t *testing.T, key *rsa.PrivateKey, cert *x509.Certificate, ca *x509.Certificate, password string) []byte {
	t.Helper()
	var chain []*x509.Certificate
	if ca != nil {
		chain = append(chain, ca)
	}
	data, err := pkcs12.Modern.Encode(key, cert, chain, password)
	require.NoError(t, err)
	return data
}

func TestLoad_ExtractsTitularAndRUC(t *testing.T) {
	key, cert := selfSignedTitular(t, "0918097783001")
	data := buildP12(t, key, cert, nil, "s3cret")

	tmpFile := t.TempDir() + "/cert.p12"
	require.NoError(t, os.WriteFile(tmpFile, data, 0o600))

	cred, err := Load(tmpFile, "s3cret", false)
	require.NoError(t, err)
	require.NotNil(t, cred)
	require.Equal(t, "0918097783001", cred.RUC)
	require.True(t, cred.EsFirmaDigital)
	require.Equal(t, key.N, cred.PrivateKey.N)
}

func TestLoad_Base64Source(t *testing.T) {
	key, cert := selfSignedTitular(t, "1712345678001")
	data := buildP12(t, key, cert, nil, "clave")
	b64 := base64.StdEncoding.EncodeToString(data)

	cred, err := Load(b64, "clave", true)
	require.NoError(t, err)
	require.Equal(t, "1712345678001", cred.RUC)
}

func TestLoad_WrongPassphraseFails(t *testing.T) {
	key, cert := selfSignedTitular(t, "0918097783001")
	data := buildP12(t, key, cert, nil, "correcta")
	b64 := base64.StdEncoding.EncodeToString(data)

	_, err := Load(b64, "incorrecta", true)
	require.Error(t, err)
}

func TestLoad_CedulaRightPaddedWith001(t *testing.T) {
	key, cert := selfSignedTitular(t, "0912345678")
	data := buildP12(t, key, cert, nil, "clave")
	b64 := base64.StdEncoding.EncodeToString(data)

	cred, err := Load(b64, "clave", true)
	require.NoError(t, err)
	require.Equal(t, "0912345678001", cred.RUC)
}

func TestExtractRUC_FallsBackToSubjectUID(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject: pkix.Name{
			CommonName: "EMISOR SIN SERIALNUMBER",
			ExtraNames: []pkix.AttributeTypeAndValue{
				{Type: oidUID, Value: "0918097783001"},
			},
		},
		NotBefore: time.Now().Add(-24 * time.Hour),
		NotAfter:  time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:  x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	ruc, ok := extractRUC(cert)
	require.True(t, ok)
	require.Equal(t, "0918097783001", ruc)
}

func TestLoad_ExpiredCertificateFails(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "VENCIDO", SerialNumber: "0918097783001"},
		NotBefore:    time.Now().Add(-48 * time.Hour),
		NotAfter:     time.Now().Add(-24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	data := buildP12(t, key, cert, nil, "clave")
	b64 := base64.StdEncoding.EncodeToString(data)

	_, err = Load(b64, "clave", true)
	require.Error(t, err)
}
