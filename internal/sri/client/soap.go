package client

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sriemisor/core/internal/sri/srierr"
)

// Transport is the outbound port to the SRI SOAP services. The concrete
// implementation is SOAPTransport; tests inject a fake.
type Transport interface {
	Validar(ctx context.Context, env Environment, signedXML []byte) (*ReceptionResult, error)
	Autorizacion(ctx context.Context, env Environment, accessKey string) (*AuthorizationRecord, error)
}

// SOAPTransport implements Transport using net/http and encoding/xml, the
// same dependency-free approach as the teacher's SOAPDIANClient.
type SOAPTransport struct {
	httpClient *http.Client
}

// NewSOAPTransport builds a transport with a per-call timeout budget applied
// per request by the caller's context, not the client itself (so retry
// policy timeouts compose cleanly with an outer deadline).
func NewSOAPTransport() *SOAPTransport {
	return &SOAPTransport{httpClient: &http.Client{}}
}

type soapEnvelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	XmlnsS  string   `xml:"xmlns:soap,attr"`
	Body    soapBody `xml:"soap:Body"`
}

type soapBody struct {
	Content interface{}
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "soap:Body"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

type validarComprobanteBody struct {
	XMLName xml.Name `xml:"validarComprobante"`
	XML     string   `xml:"xml"`
}

type autorizacionComprobanteBody struct {
	XMLName                xml.Name `xml:"autorizacionComprobante"`
	ClaveAccesoComprobante string   `xml:"claveAccesoComprobante"`
}

type soapResponseEnvelope struct {
	Body soapResponseBody `xml:"Body"`
}

type soapResponseBody struct {
	ValidarResponse      *validarComprobanteResponse      `xml:"RespuestaRecepcionComprobante"`
	AutorizacionResponse *autorizacionComprobanteResponse `xml:"RespuestaAutorizacionComprobante"`
	Fault                *soapFault                       `xml:"Fault"`
}

type validarComprobanteResponse struct {
	Estado       string `xml:"estado"`
	Comprobantes struct {
		Comprobante []struct {
			Mensajes struct {
				Mensaje []soapMessage `xml:"mensaje"`
			} `xml:"mensajes"`
		} `xml:"comprobante"`
	} `xml:"comprobantes"`
}

type autorizacionComprobanteResponse struct {
	Autorizaciones struct {
		Autorizacion []struct {
			Estado             string `xml:"estado"`
			NumeroAutorizacion string `xml:"numeroAutorizacion"`
			FechaAutorizacion  string `xml:"fechaAutorizacion"`
			Comprobante        string `xml:"comprobante"`
			Mensajes           struct {
				Mensaje []soapMessage `xml:"mensaje"`
			} `xml:"mensajes"`
		} `xml:"autorizacion"`
	} `xml:"autorizaciones"`
}

type soapMessage struct {
	Identificador        string `xml:"identificador"`
	Mensaje              string `xml:"mensaje"`
	InformacionAdicional string `xml:"informacionAdicional"`
	Tipo                 string `xml:"tipo"`
}

type soapFault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
}

func (t *SOAPTransport) Validar(ctx context.Context, env Environment, signedXML []byte) (*ReceptionResult, error) {
	body := validarComprobanteBody{XML: string(signedXML)}
	raw, err := t.call(ctx, env.recepcionURL(), body)
	if err != nil {
		return nil, err
	}

	var envResp soapResponseEnvelope
	if err := xml.Unmarshal(raw, &envResp); err != nil {
		return nil, srierr.New(srierr.SriProtocolError, "validarComprobante", fmt.Errorf("respuesta SOAP ilegible: %w", err))
	}
	if envResp.Body.Fault != nil {
		return nil, srierr.New(srierr.TransportError, "validarComprobante", fmt.Errorf("SOAP fault [%s]: %s", envResp.Body.Fault.FaultCode, envResp.Body.Fault.FaultString))
	}
	if envResp.Body.ValidarResponse == nil {
		return nil, srierr.New(srierr.SriProtocolError, "validarComprobante", fmt.Errorf("respuesta SOAP sin RespuestaRecepcionComprobante"))
	}
	r := envResp.Body.ValidarResponse
	var messages []Message
	for _, c := range r.Comprobantes.Comprobante {
		for _, m := range c.Mensajes.Mensaje {
			messages = append(messages, Message(m))
		}
	}
	return &ReceptionResult{Estado: r.Estado, Messages: messages}, nil
}

func (t *SOAPTransport) Autorizacion(ctx context.Context, env Environment, accessKey string) (*AuthorizationRecord, error) {
	body := autorizacionComprobanteBody{ClaveAccesoComprobante: accessKey}
	raw, err := t.call(ctx, env.autorizacionURL(), body)
	if err != nil {
		return nil, err
	}

	var envResp soapResponseEnvelope
	if err := xml.Unmarshal(raw, &envResp); err != nil {
		return nil, srierr.New(srierr.SriProtocolError, "autorizacionComprobante", fmt.Errorf("respuesta SOAP ilegible: %w", err))
	}
	if envResp.Body.Fault != nil {
		return nil, srierr.New(srierr.TransportError, "autorizacionComprobante", fmt.Errorf("SOAP fault [%s]: %s", envResp.Body.Fault.FaultCode, envResp.Body.Fault.FaultString))
	}
	if envResp.Body.AutorizacionResponse == nil || len(envResp.Body.AutorizacionResponse.Autorizaciones.Autorizacion) == 0 {
		return nil, srierr.New(srierr.SriProtocolError, "autorizacionComprobante", fmt.Errorf("respuesta SOAP sin autorizaciones"))
	}
	a := envResp.Body.AutorizacionResponse.Autorizaciones.Autorizacion[0]
	var messages []Message
	for _, m := range a.Mensajes.Mensaje {
		messages = append(messages, Message(m))
	}
	rec := &AuthorizationRecord{
		Estado:              a.Estado,
		AuthorizationNumber: a.NumeroAutorizacion,
		Messages:            messages,
	}
	if a.FechaAutorizacion != "" {
		if ts, err := time.Parse(time.RFC3339, a.FechaAutorizacion); err == nil {
			rec.AuthorizationTimestamp = ts
		}
	}
	if a.Comprobante != "" {
		rec.AuthorizedXML = []byte(a.Comprobante)
	}
	return rec, nil
}

func (t *SOAPTransport) call(ctx context.Context, url string, body interface{}) ([]byte, error) {
	envelope := soapEnvelope{XmlnsS: "http://schemas.xmlsoap.org/soap/envelope/", Body: soapBody{Content: body}}
	payload, err := xml.Marshal(envelope)
	if err != nil {
		return nil, srierr.New(srierr.TransportError, "marshal", fmt.Errorf("serializar envelope SOAP: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, srierr.New(srierr.TransportError, "request", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, srierr.New(srierr.TransportError, "timeout", ctx.Err())
		}
		return nil, srierr.New(srierr.TransportError, "http", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, srierr.New(srierr.TransportError, "body", err)
	}
	return raw, nil
}
