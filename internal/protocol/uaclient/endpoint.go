package uaclient

import (
	"errors"
	"sort"
	"strings"

	"github.com/gopcua/opcua/ua"
)

// policyName returns the short name of a security policy URI.
func policyName(uri string) string {
	if i := strings.LastIndexByte(uri, '#'); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

func modeName(m ua.MessageSecurityMode) string {
	switch m {
	case ua.MessageSecurityModeNone:
		return "None"
	case ua.MessageSecurityModeSign:
		return "Sign"
	case ua.MessageSecurityModeSignAndEncrypt:
		return "SignAndEncrypt"
	default:
		return "Invalid"
	}
}

// selectEndpoint picks one endpoint. Without a client certificate only
// unsecured endpoints qualify. An explicit policy or mode filters the
// candidates; among the rest the highest SecurityLevel wins.
func selectEndpoint(eps []*ua.EndpointDescription, haveCert bool, policy, mode string) (*ua.EndpointDescription, error) {
	var cands []*ua.EndpointDescription
	for _, ep := range eps {
		if ep == nil {
			continue
		}
		p := policyName(ep.SecurityPolicyURI)
		m := modeName(ep.SecurityMode)

		if !haveCert && (p != "None" || m != "None") {
			continue
		}
		if policy != "" && !strings.EqualFold(p, policy) {
			continue
		}
		if mode != "" && !strings.EqualFold(m, mode) {
			continue
		}
		cands = append(cands, ep)
	}

	if len(cands) == 0 {
		return nil, errors.New("uaclient: no endpoint matches the security settings")
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].SecurityLevel > cands[j].SecurityLevel
	})
	return cands[0], nil
}
