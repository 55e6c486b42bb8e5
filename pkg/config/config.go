// Package config loads the runtime configuration surface for the SRI
// issuance engine via Viper, generalizing the teacher's env/flat-file loader
// (APP_ENV, DB_*, JWT_*, DIAN_*) to the EMPRESA_*/CERTIFICADO_*/SRI_AMBIENTE
// keys the engine actually reads.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/sriemisor/core/internal/sri/client"
	"github.com/sriemisor/core/internal/sri/model"
	"github.com/sriemisor/core/internal/sri/srierr"
)

// Config agrupa la configuración de la aplicación, leída vía Viper desde
// variables de entorno y, opcionalmente, un archivo .env/config.env.
type Config struct {
	App      AppConfig
	Empresa  EmpresaConfig
	Cert     CertConfig
	HTTP     HTTPConfig
	JWT      JWTConfig
}

// AppConfig configuración general de la aplicación.
type AppConfig struct {
	Env       string // development, staging, production
	Name      string
	Ambiente  model.Ambiente // 1 = pruebas, 2 = producción; deriva de SRI_AMBIENTE
}

// EmpresaConfig es la identidad tributaria que se embebe en cada comprobante.
type EmpresaConfig struct {
	RUC                       string
	RazonSocial               string
	NombreComercial           string
	DireccionMatriz           string
	DireccionEstablecimiento  string
	CodigoEstablecimiento     string
	PuntoEmision              string
	ObligadoContabilidad      bool
}

// ToEmitter proyecta EmpresaConfig al model.Emitter que consume el pipeline.
func (e EmpresaConfig) ToEmitter() model.Emitter {
	return model.Emitter{
		RUC:                   e.RUC,
		RazonSocial:           e.RazonSocial,
		NombreComercial:       e.NombreComercial,
		DirMatriz:             e.DireccionMatriz,
		DirEstablecimiento:    e.DireccionEstablecimiento,
		CodigoEstablecimiento: e.CodigoEstablecimiento,
		PuntoEmision:          e.PuntoEmision,
		ObligadoContabilidad:  e.ObligadoContabilidad,
	}
}

// CertConfig localiza el PKCS#12 de firma: CertP12Base64 tiene precedencia
// sobre CertPath cuando ambos están presentes, per §6.
type CertConfig struct {
	CertPath       string
	CertP12Base64  string
	CertPassword   string
}

// Source devuelve el origen a pasar a credential.Load junto con isBase64.
func (c CertConfig) Source() (source string, isBase64 bool) {
	if c.CertP12Base64 != "" {
		return c.CertP12Base64, true
	}
	return c.CertPath, false
}

// HTTPConfig configuración del servidor HTTP (cmd/sriserver).
type HTTPConfig struct {
	Host string
	Port int
}

// Addr devuelve la dirección de escucha (host:port).
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// JWTConfig configuración del bearer-auth del servidor HTTP.
type JWTConfig struct {
	Secret     string
	Expiration int // minutos
	Issuer     string
}

// Load lee la configuración desde variables de entorno (y opcionalmente desde
// archivo). Las env vars tienen prioridad. Falla con InvalidInput si
// SRI_AMBIENTE no es "1" ni "2", o si EMPRESA_RUC no tiene 13 dígitos.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig()

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	ambienteCode := getString(v, "SRI_AMBIENTE", "1")
	var ambiente model.Ambiente
	switch ambienteCode {
	case "1":
		ambiente = model.AmbientePruebas
	case "2":
		ambiente = model.AmbienteProduccion
	default:
		return nil, srierr.New(srierr.InvalidInput, "SRI_AMBIENTE", fmt.Errorf("debe ser \"1\" o \"2\", recibido %q", ambienteCode))
	}

	ruc := getString(v, "EMPRESA_RUC", "")
	if len(ruc) != 13 || strings.Trim(ruc, "0123456789") != "" {
		return nil, srierr.New(srierr.InvalidInput, "EMPRESA_RUC", fmt.Errorf("debe ser 13 dígitos, recibido %q", ruc))
	}

	cfg := &Config{
		App: AppConfig{
			Env:      getString(v, "APP_ENV", "development"),
			Name:     getString(v, "APP_NAME", "sriemisor"),
			Ambiente: ambiente,
		},
		Empresa: EmpresaConfig{
			RUC:                      ruc,
			RazonSocial:              getString(v, "EMPRESA_RAZON_SOCIAL", ""),
			NombreComercial:          getString(v, "EMPRESA_NOMBRE_COMERCIAL", ""),
			DireccionMatriz:          getString(v, "EMPRESA_DIRECCION_MATRIZ", ""),
			DireccionEstablecimiento: getString(v, "EMPRESA_DIRECCION_ESTABLECIMIENTO", ""),
			CodigoEstablecimiento:    getString(v, "EMPRESA_CODIGO_ESTABLECIMIENTO", "001"),
			PuntoEmision:             getString(v, "EMPRESA_PUNTO_EMISION", "001"),
			ObligadoContabilidad:     strings.EqualFold(getString(v, "EMPRESA_OBLIGADO_CONTABILIDAD", "NO"), "SI"),
		},
		Cert: CertConfig{
			CertPath:      getString(v, "CERTIFICADO_PATH", ""),
			CertP12Base64: getString(v, "CERT_P12_BASE64", ""),
			CertPassword:  getString(v, "CERTIFICADO_CLAVE", ""),
		},
		HTTP: HTTPConfig{
			Host: getString(v, "HTTP_HOST", "0.0.0.0"),
			Port: getInt(v, "HTTP_PORT", 8080),
		},
		JWT: JWTConfig{
			Secret:     getString(v, "JWT_SECRET", ""),
			Expiration: getInt(v, "JWT_EXPIRATION_MINUTES", 60),
			Issuer:     getString(v, "JWT_ISSUER", "sriemisor"),
		},
	}

	return cfg, nil
}

// Environment projects App.Ambiente to the client package's Environment type.
func (c *Config) Environment() client.Environment {
	if c.App.Ambiente == model.AmbienteProduccion {
		return client.AmbienteProduccion
	}
	return client.AmbientePruebas
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if v.IsSet(key) {
		switch v.Get(key).(type) {
		case int:
			return v.GetInt(key)
		case string:
			n, _ := strconv.Atoi(v.GetString(key))
			return n
		default:
			return v.GetInt(key)
		}
	}
	return def
}
