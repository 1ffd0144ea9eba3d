package soapdriver

import (
	"encoding/xml"
	"fmt"
	"time"
)

const soapNS = "http://schemas.xmlsoap.org/soap/envelope/"

type soapHeader struct {
	Security wssSecurity
}

type soapBody struct {
	Inner []byte `xml:",innerxml"`
}

type soapEnvelope struct {
	XMLName xml.Name   `xml:"soapenv:Envelope"`
	SoapNS  string     `xml:"xmlns:soapenv,attr"`
	Header  soapHeader `xml:"soapenv:Header"`
	Body    soapBody   `xml:"soapenv:Body"`
}

// envelope wraps content into a SOAP envelope carrying a fresh WS-Security
// header. A new nonce and timestamp are generated per call.
func (d *Driver) envelope(content any, now time.Time) ([]byte, error) {
	inner, err := xml.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("soapdriver: marshal body: %w", err)
	}
	security, err := newSecurity(d.cfg.Login, d.cfg.Password, now)
	if err != nil {
		return nil, err
	}

	env := soapEnvelope{
		SoapNS: soapNS,
		Header: soapHeader{Security: security},
		Body:   soapBody{Inner: inner},
	}
	out, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("soapdriver: marshal envelope: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
