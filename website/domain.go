package website

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxDomainLength = 253

var labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

var validate *validator.Validate = validator.New()

// NormalizeDomain lower-cases a domain name and checks that it is a
// fully qualified host name made of valid DNS labels.
func NormalizeDomain(domain string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimSuffix(d, ".")

	if d == "" || len(d) > maxDomainLength {
		return "", ErrInvalidDomain
	}
	if err := validate.Var(d, "fqdn"); err != nil {
		return "", ErrInvalidDomain
	}

	labels := strings.Split(d, ".")
	if len(labels) < 2 {
		return "", ErrInvalidDomain
	}
	for _, label := range labels {
		if !labelPattern.MatchString(label) {
			return "", ErrInvalidDomain
		}
	}

	// all-numeric TLDs would be ambiguous with IPv4 addresses
	tld := labels[len(labels)-1]
	if strings.Trim(tld, "0123456789") == "" {
		return "", ErrInvalidDomain
	}

	return d, nil
}
