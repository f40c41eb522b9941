package blocklist

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"

	"firestige.xyz/hostguard/internal/core"
)

// Normalize converts a domain to its canonical blocklist form: trimmed, without the
// trailing root dot, lower-cased, and IDNA-encoded when it contains non-ASCII runes.
// Anything that is not a host name, such as a URL or a wildcard, is rejected with
// core.ErrInvalidDomain.
func Normalize(domain string) (string, error) {
	d := strings.TrimSpace(domain)
	d = strings.TrimSuffix(d, ".")
	if d == "" {
		return "", core.ErrEmptyDomain
	}

	if !isASCII(d) {
		ascii, err := idna.Lookup.ToASCII(d)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", core.ErrInvalidDomain, domain, err)
		}
		d = ascii
	}
	d = asciiLower(d)
	if err := checkName(d); err != nil {
		return "", fmt.Errorf("%w: %q: %v", core.ErrInvalidDomain, domain, err)
	}
	return d, nil
}

const (
	maxNameLen  = 253
	maxLabelLen = 63
)

// checkName accepts letters, digits, hyphens and underscores in labels of 1..63 bytes.
// Hyphens may not start or end a label. Underscores occur in real hosts lists.
func checkName(d string) error {
	if len(d) > maxNameLen {
		return fmt.Errorf("name longer than %d bytes", maxNameLen)
	}
	for _, label := range strings.Split(d, ".") {
		if label == "" {
			return errors.New("empty label")
		}
		if len(label) > maxLabelLen {
			return fmt.Errorf("label longer than %d bytes", maxLabelLen)
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return errors.New("label starts or ends with a hyphen")
		}
		for i := 0; i < len(label); i++ {
			if !isNameByte(label[i]) {
				return fmt.Errorf("invalid character %q", label[i])
			}
		}
	}
	return nil
}

func isNameByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '_':
		return true
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// asciiLower lower-cases without allocating when s is already lower case.
func asciiLower(s string) string {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 'A' && c <= 'Z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				if b[j] >= 'A' && b[j] <= 'Z' {
					b[j] += 'a' - 'A'
				}
			}
			return string(b)
		}
	}
	return s
}
