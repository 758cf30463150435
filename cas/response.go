package cas

import (
	"encoding/xml"
	"strings"

	"github.com/pkg/errors"
)

// ValidationOutcome captures the identity information returned by a
// successful CAS 2.0 ticket validation
type ValidationOutcome struct {
	Username   string
	Attributes map[string]interface{}
	PGTIOU     string
	Proxies    []string
}

type serviceResponse struct {
	XMLName xml.Name               `xml:"serviceResponse"`
	Success *authenticationSuccess `xml:"authenticationSuccess"`
	Failure *authenticationFailure `xml:"authenticationFailure"`
}

type authenticationSuccess struct {
	User                string              `xml:"user"`
	ProxyGrantingTicket string              `xml:"proxyGrantingTicket"`
	Proxies             *proxyList          `xml:"proxies"`
	Attributes          *responseAttributes `xml:"attributes"`
}

type authenticationFailure struct {
	Code    string `xml:"code,attr"`
	Message string `xml:",chardata"`
}

type proxyList struct {
	Proxies []string `xml:"proxy"`
}

type responseAttributes struct {
	XMLName    xml.Name
	Attributes []responseAttribute `xml:",any"`
}

type responseAttribute struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// ParseServiceResponse extracts the validation outcome from the XML body of
// a serviceValidate or proxyValidate response, or a ValidationError when the
// server rejected the ticket
func ParseServiceResponse(body []byte) (*ValidationOutcome, error) {
	var response serviceResponse
	if err := xml.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrap(err, "could not parse the CAS service response")
	}

	if response.Failure != nil {
		return nil, NewValidationError(response.Failure.Code,
			strings.TrimSpace(response.Failure.Message))
	}

	if response.Success == nil {
		return nil, NewValidationError("",
			"response contains neither a success nor a failure element")
	}

	outcome := &ValidationOutcome{
		Username:   response.Success.User,
		Attributes: map[string]interface{}{},
		PGTIOU:     response.Success.ProxyGrantingTicket,
	}

	if response.Success.Proxies != nil {
		outcome.Proxies = response.Success.Proxies.Proxies
	}

	if response.Success.Attributes != nil {
		for _, attribute := range response.Success.Attributes.Attributes {
			addAttribute(outcome.Attributes, attribute.XMLName.Local,
				strings.TrimSpace(attribute.Value))
		}
	}

	return outcome, nil
}

// addAttribute accumulates repeated attribute elements into an ordered
// sequence, leaving single occurrences as scalars
func addAttribute(attributes map[string]interface{}, name string, value string) {
	existing, ok := attributes[name]
	if !ok {
		attributes[name] = value
		return
	}

	switch v := existing.(type) {
	case string:
		attributes[name] = []string{v, value}
	case []string:
		attributes[name] = append(v, value)
	}
}

type proxyResponse struct {
	XMLName xml.Name      `xml:"serviceResponse"`
	Success *proxySuccess `xml:"proxySuccess"`
	Failure *proxyFailure `xml:"proxyFailure"`
}

type proxySuccess struct {
	ProxyTicket string `xml:"proxyTicket"`
}

type proxyFailure struct {
	Code    string `xml:"code,attr"`
	Message string `xml:",chardata"`
}

// ParseProxyResponse extracts the proxy ticket from the XML body of a CAS
// /proxy response
func ParseProxyResponse(body []byte) (string, error) {
	var response proxyResponse
	if err := xml.Unmarshal(body, &response); err != nil {
		return "", errors.Wrap(err, "could not parse the CAS proxy response")
	}

	if response.Failure != nil {
		return "", NewValidationError(response.Failure.Code,
			strings.TrimSpace(response.Failure.Message))
	}

	if response.Success == nil || response.Success.ProxyTicket == "" {
		return "", NewValidationError("", "proxy response contains no ticket")
	}

	return response.Success.ProxyTicket, nil
}
