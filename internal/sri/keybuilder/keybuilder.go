// Package keybuilder calcula y valida la clave de acceso de 49 dígitos que
// identifica unívocamente un comprobante electrónico SRI. El algoritmo de
// dígito verificador sigue el esquema módulo 11 específico del SRI (no el
// genérico): remainder 11 → 0, remainder 10 → 1.
//
// El patrón de validación ponderada (base fija de dígitos, coeficientes
// cíclicos, mapeo de residuos especiales) está tomado del verificador de NIT
// de pkg/dian/nit.go del proyecto hermano DIAN, adaptado a los 48 dígitos y
// coeficientes [2..7] que exige el Anexo de Comprobantes Electrónicos SRI en
// vez de los 9 pesos fijos de un NIT colombiano.
package keybuilder

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/sriemisor/core/internal/sri/srierr"
)

// AccessKey es la clave de acceso de 49 dígitos decimales.
type AccessKey string

// String devuelve la representación de 49 dígitos.
func (k AccessKey) String() string { return string(k) }

// coefficients son los pesos cíclicos [2,3,4,5,6,7] aplicados posición a posición (0..47).
var coefficients = [6]int{2, 3, 4, 5, 6, 7}

// Params son los campos de entrada para generar una clave de acceso.
type Params struct {
	Date         time.Time // fecha calendario; solo se usa día/mes/año
	DocType      string    // 2 dígitos, ej. "01" factura, "04" nota de crédito
	RUC          string    // 13 dígitos
	Ambiente     string    // 1 dígito: "1" pruebas, "2" producción
	Establecimiento string // 3 dígitos
	PuntoEmision string    // 3 dígitos
	Sequential   string    // hasta 9 dígitos; se rellena con ceros a la izquierda
	EmissionType string    // 1 dígito, "1" = normal
	NumericCode  string    // 8 dígitos; inyectable para pruebas deterministas
}

// Generate construye y valida una clave de acceso de 49 dígitos a partir de Params.
// Falla con InvalidInput si algún campo no tiene el ancho esperado o si la base
// ensamblada no resulta en exactamente 48 dígitos.
func Generate(p Params) (AccessKey, error) {
	if len(p.DocType) != 2 || !isDigits(p.DocType) {
		return "", srierr.New(srierr.InvalidInput, "docType", fmt.Errorf("debe ser 2 dígitos, recibido %q", p.DocType))
	}
	if len(p.RUC) != 13 || !isDigits(p.RUC) {
		return "", srierr.New(srierr.InvalidInput, "ruc", fmt.Errorf("debe ser 13 dígitos, recibido %q", p.RUC))
	}
	if len(p.Ambiente) != 1 || !isDigits(p.Ambiente) {
		return "", srierr.New(srierr.InvalidInput, "ambiente", fmt.Errorf("debe ser 1 dígito, recibido %q", p.Ambiente))
	}
	if len(p.Establecimiento) != 3 || !isDigits(p.Establecimiento) {
		return "", srierr.New(srierr.InvalidInput, "establecimiento", fmt.Errorf("debe ser 3 dígitos, recibido %q", p.Establecimiento))
	}
	if len(p.PuntoEmision) != 3 || !isDigits(p.PuntoEmision) {
		return "", srierr.New(srierr.InvalidInput, "puntoEmision", fmt.Errorf("debe ser 3 dígitos, recibido %q", p.PuntoEmision))
	}
	if len(p.EmissionType) != 1 || !isDigits(p.EmissionType) {
		return "", srierr.New(srierr.InvalidInput, "emissionType", fmt.Errorf("debe ser 1 dígito, recibido %q", p.EmissionType))
	}
	numericCode := p.NumericCode
	if numericCode == "" {
		var err error
		numericCode, err = RandomNumericCode()
		if err != nil {
			return "", srierr.New(srierr.InvalidInput, "numericCode", err)
		}
	}
	if len(numericCode) != 8 || !isDigits(numericCode) {
		return "", srierr.New(srierr.InvalidInput, "numericCode", fmt.Errorf("debe ser 8 dígitos, recibido %q", numericCode))
	}

	sequential := padLeft(p.Sequential, 9)
	if len(sequential) != 9 || !isDigits(sequential) {
		return "", srierr.New(srierr.InvalidInput, "sequential", fmt.Errorf("debe ser 9 dígitos tras el padding, recibido %q", p.Sequential))
	}

	dateStr := p.Date.Format("02012006") // DDMMYYYY

	serie := p.Establecimiento + p.PuntoEmision

	base := dateStr + p.DocType + p.RUC + p.Ambiente + serie + sequential + numericCode + p.EmissionType
	if len(base) != 48 {
		return "", srierr.New(srierr.InvalidInput, "base", fmt.Errorf("base ensamblada tiene %d dígitos, se esperaban 48", len(base)))
	}

	digit, err := CheckDigit(base)
	if err != nil {
		return "", err
	}
	return AccessKey(base + strconv.Itoa(digit)), nil
}

// CheckDigit calcula el dígito verificador SRI (módulo 11 con mapeo {11→0, 10→1})
// sobre una base de 48 dígitos decimales. Es una función pura.
func CheckDigit(base48 string) (int, error) {
	if len(base48) != 48 || !isDigits(base48) {
		return 0, srierr.New(srierr.InvalidInput, "base", fmt.Errorf("se requieren 48 dígitos decimales, recibido %q", base48))
	}
	sum := 0
	for i := 0; i < 48; i++ {
		d := int(base48[i] - '0')
		sum += d * coefficients[i%6]
	}
	m := sum % 11
	r := 11 - m
	switch r {
	case 11:
		return 0, nil
	case 10:
		return 1, nil
	default:
		return r, nil
	}
}

// Validate confirma que key tiene 49 dígitos y que su dígito verificador coincide
// con el recalculado sobre sus primeros 48 dígitos.
func Validate(key AccessKey) bool {
	s := string(key)
	if len(s) != 49 || !isDigits(s) {
		return false
	}
	want, err := CheckDigit(s[:48])
	if err != nil {
		return false
	}
	got := int(s[48] - '0')
	return want == got
}

// RandomNumericCode genera 8 dígitos decimales criptográficamente aleatorios
// para el campo "código numérico" de la clave de acceso.
func RandomNumericCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(100000000))
	if err != nil {
		return "", fmt.Errorf("keybuilder: generar código numérico: %w", err)
	}
	return fmt.Sprintf("%08d", n.Int64()), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
