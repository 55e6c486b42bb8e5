// Package signer produces the XML-DSIG enveloped signature the SRI requires
// on a factura document. Canonicalization and the digest/signature build are
// grounded on the teacher's signer/service.go (ucarion/c14n over an
// encoding/xml decoder, RSA-SHA256 over a hand-built ds:SignedInfo string);
// DOM placement is grounded on its injectSignature (beevik/etree), but
// simplified for SRI: there is no XAdES QualifyingProperties object, the
// reference target is the bare root id="comprobante" (not a UBLExtensions
// placeholder), and the signature is appended as the root's last child
// rather than injected into a pre-built extension slot.
package signer

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/sriemisor/core/internal/sri/credential"
	"github.com/sriemisor/core/internal/sri/srierr"
)

// Algorithmic parameters are fixed and non-configurable per §4.4.
const (
	NamespaceDS        = "http://www.w3.org/2000/09/xmldsig#"
	AlgC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA256       = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgSHA256          = "http://www.w3.org/2001/04/xmlenc#sha256"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"

	referenceURI = "#comprobante"
)

// SignedDocument is immutable after production.
type SignedDocument struct {
	XML         []byte
	RootElement string
	ClaveAcceso string
}

// Sign produces the XML-DSIG enveloped signature over documentBytes using
// cred, returning the signed document with ds:Signature appended as the
// last child of the root. Fails with SchemaViolation if the root has no
// usable id="comprobante" after stray Id/ID attributes are stripped, and
// rejects already-signed input (the operation is idempotent only in the
// sense that re-signing is refused, not silently reapplied).
func Sign(documentBytes []byte, cred *credential.Credential) (*SignedDocument, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(documentBytes); err != nil {
		return nil, srierr.New(srierr.SchemaViolation, "xml", fmt.Errorf("parsear documento: %w", err))
	}
	root := doc.Root()
	if root == nil {
		return nil, srierr.New(srierr.SchemaViolation, "xml", fmt.Errorf("documento sin elemento raíz"))
	}

	for _, child := range root.ChildElements() {
		if localName(child.Tag) == "Signature" {
			return nil, srierr.New(srierr.SigningError, "xml", fmt.Errorf("el documento ya está firmado"))
		}
	}

	stripIDDuplicates(root)

	idAttr := root.SelectAttr("id")
	if idAttr == nil || idAttr.Value != "comprobante" {
		return nil, srierr.New(srierr.SchemaViolation, "id", fmt.Errorf(`la raíz debe declarar id="comprobante"`))
	}
	claveAcceso := ""
	if el := root.FindElement("//claveAcceso"); el != nil {
		claveAcceso = el.Text()
	}

	var cleanBuf bytes.Buffer
	cleanBuf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	if _, err := doc.WriteTo(&cleanBuf); err != nil {
		return nil, srierr.New(srierr.SigningError, "xml", fmt.Errorf("serializar documento: %w", err))
	}
	cleanBytes := cleanBuf.Bytes()

	docDigestB64, err := digestB64(cleanBytes)
	if err != nil {
		return nil, srierr.New(srierr.SigningError, "digest", err)
	}

	signedInfoXML := buildSignedInfo(docDigestB64)
	canonicalSignedInfo, err := canonicalize([]byte(signedInfoXML))
	if err != nil {
		return nil, srierr.New(srierr.SigningError, "signedInfo", err)
	}
	signHash := sha256.Sum256(canonicalSignedInfo)

	rsaKey := cred.PrivateKey
	if rsaKey == nil {
		return nil, srierr.New(srierr.InvalidCredential, "privateKey", fmt.Errorf("credencial sin llave privada"))
	}
	signatureValue, err := rsa.SignPKCS1v15(nil, rsaKey, crypto.SHA256, signHash[:])
	if err != nil {
		return nil, srierr.New(srierr.SigningError, "rsa", err)
	}
	signatureValueB64 := base64.StdEncoding.EncodeToString(signatureValue)

	certB64 := base64.StdEncoding.EncodeToString(cred.CertDER)
	signatureXML := buildFullSignature(signedInfoXML, signatureValueB64, certB64)

	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signatureXML); err != nil {
		return nil, srierr.New(srierr.SigningError, "signature", fmt.Errorf("parsear ds:Signature: %w", err))
	}
	sigRoot := sigDoc.Root()
	if sigRoot == nil {
		return nil, srierr.New(srierr.SigningError, "signature", fmt.Errorf("ds:Signature vacío"))
	}
	root.AddChild(sigRoot)

	var out bytes.Buffer
	out.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, srierr.New(srierr.SigningError, "xml", fmt.Errorf("serializar documento firmado: %w", err))
	}

	return &SignedDocument{
		XML:         out.Bytes(),
		RootElement: root.Tag,
		ClaveAcceso: claveAcceso,
	}, nil
}

// Verify recomputes the reference digest and checks the RSA signature
// against the embedded X509Certificate, per property 3.
func Verify(signedXML []byte) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signedXML); err != nil {
		return fmt.Errorf("signer: parsear documento firmado: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return fmt.Errorf("signer: documento sin raíz")
	}
	var sigEl *etree.Element
	for _, c := range root.ChildElements() {
		if localName(c.Tag) == "Signature" {
			sigEl = c
		}
	}
	if sigEl == nil {
		return fmt.Errorf("signer: no se encontró ds:Signature")
	}
	if root.ChildElements()[len(root.ChildElements())-1] != sigEl {
		return fmt.Errorf("signer: ds:Signature no es el último hijo de la raíz")
	}

	digestEl := findDescendant(sigEl, "DigestValue")
	sigValEl := findDescendant(sigEl, "SignatureValue")
	certEl := findDescendant(sigEl, "X509Certificate")
	if digestEl == nil || sigValEl == nil || certEl == nil {
		return fmt.Errorf("signer: ds:Signature incompleta")
	}

	withoutSig := root.Copy()
	for _, c := range withoutSig.ChildElements() {
		if localName(c.Tag) == "Signature" {
			withoutSig.RemoveChild(c)
		}
	}
	refDoc := etree.NewDocument()
	refDoc.SetRoot(withoutSig)
	var refBuf bytes.Buffer
	refBuf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	if _, err := refDoc.WriteTo(&refBuf); err != nil {
		return fmt.Errorf("signer: reserializar sin firma: %w", err)
	}
	wantDigestB64, err := digestB64(refBuf.Bytes())
	if err != nil {
		return err
	}
	if wantDigestB64 != digestEl.Text() {
		return fmt.Errorf("signer: digest de referencia no coincide")
	}

	signedInfoEl := findDescendant(sigEl, "SignedInfo")
	if signedInfoEl == nil {
		return fmt.Errorf("signer: ds:SignedInfo ausente")
	}
	siDoc := etree.NewDocument()
	siDoc.SetRoot(signedInfoEl.Copy())
	var siBuf bytes.Buffer
	if _, err := siDoc.WriteTo(&siBuf); err != nil {
		return fmt.Errorf("signer: reserializar SignedInfo: %w", err)
	}
	canonicalSignedInfo, err := canonicalize(siBuf.Bytes())
	if err != nil {
		return err
	}
	signHash := sha256.Sum256(canonicalSignedInfo)

	sigValue, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sigValEl.Text()))
	if err != nil {
		return fmt.Errorf("signer: SignatureValue inválido: %w", err)
	}
	certDER, err := base64.StdEncoding.DecodeString(strings.TrimSpace(certEl.Text()))
	if err != nil {
		return fmt.Errorf("signer: X509Certificate inválido: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("signer: parsear certificado embebido: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("signer: certificado no es RSA")
	}
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, signHash[:], sigValue); err != nil {
		return fmt.Errorf("signer: firma no verifica: %w", err)
	}
	return nil
}

func digestB64(xmlBytes []byte) (string, error) {
	canonical, err := canonicalize(xmlBytes)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

func canonicalize(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

func buildSignedInfo(docDigestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:SignedInfo xmlns:ds="` + NamespaceDS + `">`)
	sb.WriteString(`<ds:CanonicalizationMethod Algorithm="` + AlgC14N + `"/>`)
	sb.WriteString(`<ds:SignatureMethod Algorithm="` + AlgRSASHA256 + `"/>`)
	sb.WriteString(`<ds:Reference URI="` + referenceURI + `">`)
	sb.WriteString(`<ds:Transforms><ds:Transform Algorithm="` + TransformEnveloped + `"/>`)
	sb.WriteString(`<ds:Transform Algorithm="` + AlgC14N + `"/></ds:Transforms>`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + docDigestB64 + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
	sb.WriteString(`</ds:SignedInfo>`)
	return sb.String()
}

func buildFullSignature(signedInfoXML, signatureValueB64, certB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:Signature xmlns:ds="` + NamespaceDS + `">`)
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<ds:SignatureValue>` + signatureValueB64 + `</ds:SignatureValue>`)
	sb.WriteString(`<ds:KeyInfo><ds:X509Data><ds:X509Certificate>` + certB64 + `</ds:X509Certificate></ds:X509Data></ds:KeyInfo>`)
	sb.WriteString(`</ds:Signature>`)
	return sb.String()
}

// stripIDDuplicates removes any Id/ID-cased attribute on el other than the
// lowercase id SRI requires; the SRI XSD is strict about case and a
// duplicate causes digest mismatch when a library normalizes attribute
// order differently than expected.
func stripIDDuplicates(el *etree.Element) {
	for _, attr := range append([]etree.Attr{}, el.Attr...) {
		if attr.Key != "id" && strings.EqualFold(attr.Key, "id") {
			el.RemoveAttr(attr.Key)
		}
	}
}

func localName(tag string) string {
	if i := strings.IndexByte(tag, ':'); i >= 0 {
		return tag[i+1:]
	}
	return tag
}

func findDescendant(el *etree.Element, localTag string) *etree.Element {
	for _, c := range el.ChildElements() {
		if localName(c.Tag) == localTag {
			return c
		}
		if found := findDescendant(c, localTag); found != nil {
			return found
		}
	}
	return nil
}
