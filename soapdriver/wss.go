package soapdriver

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"time"
)

const (
	wsseNS         = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	wsuNS          = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	passwordDigest = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest"
	createdLayout  = "2006-01-02T15:04:05Z"
)

type wssPassword struct {
	Type  string `xml:"Type,attr"`
	Value string `xml:",chardata"`
}

type wssUsernameToken struct {
	WsuNS    string      `xml:"xmlns:wsu,attr"`
	Username string      `xml:"wsse:Username"`
	Password wssPassword `xml:"wsse:Password"`
	Nonce    string      `xml:"wsse:Nonce"`
	Created  string      `xml:"wsu:Created"`
}

type wssSecurity struct {
	XMLName       xml.Name         `xml:"wsse:Security"`
	WsseNS        string           `xml:"xmlns:wsse,attr"`
	UsernameToken wssUsernameToken `xml:"wsse:UsernameToken"`
}

// newSecurity builds a WS-Security UsernameToken header per the WSS
// PasswordDigest profile: digest = base64(SHA1(nonce + created + password))
// over the raw nonce bytes.
func newSecurity(username, password string, created time.Time) (wssSecurity, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return wssSecurity{}, fmt.Errorf("soapdriver: generate nonce: %w", err)
	}
	return securityWithNonce(username, password, created, nonce), nil
}

func securityWithNonce(username, password string, created time.Time, nonce []byte) wssSecurity {
	createdStr := created.UTC().Format(createdLayout)
	return wssSecurity{
		WsseNS: wsseNS,
		UsernameToken: wssUsernameToken{
			WsuNS:    wsuNS,
			Username: username,
			Password: wssPassword{
				Type:  passwordDigest,
				Value: digest(nonce, createdStr, password),
			},
			Nonce:   base64.StdEncoding.EncodeToString(nonce),
			Created: createdStr,
		},
	}
}

func digest(nonce []byte, created, password string) string {
	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
