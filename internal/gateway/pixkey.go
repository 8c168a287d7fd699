package gateway

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// PixKeyType is the kind of a PIX addressing key.
type PixKeyType string

const (
	PixKeyCPF   PixKeyType = "cpf"
	PixKeyCNPJ  PixKeyType = "cnpj"
	PixKeyEmail PixKeyType = "email"
	PixKeyPhone PixKeyType = "phone"
	PixKeyEVP   PixKeyType = "evp"
)

var (
	emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	phoneRe = regexp.MustCompile(`^\+55[1-9][0-9]{9,10}$`)
)

// ParsePixKey classifies and normalizes a PIX key. Documents lose their punctuation,
// e-mails are lower-cased and EVP keys are canonical UUID strings.
func ParsePixKey(raw string) (string, PixKeyType, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return "", "", &InvalidPayeeKeyError{Key: raw, Reason: "empty"}
	}

	switch {
	case strings.HasPrefix(key, "+"):
		if !phoneRe.MatchString(key) {
			return "", "", &InvalidPayeeKeyError{Key: raw, Reason: "phone must be +55 followed by area code and number"}
		}
		return key, PixKeyPhone, nil

	case strings.Contains(key, "@"):
		if len(key) > 77 || !emailRe.MatchString(key) {
			return "", "", &InvalidPayeeKeyError{Key: raw, Reason: "malformed e-mail"}
		}
		return strings.ToLower(key), PixKeyEmail, nil

	case len(key) == 36 && strings.Count(key, "-") == 4:
		id, err := uuid.Parse(key)
		if err != nil {
			return "", "", &InvalidPayeeKeyError{Key: raw, Reason: "malformed random key"}
		}
		return id.String(), PixKeyEVP, nil
	}

	digits := onlyDigits(key)
	if !isDocumentText(key) {
		return "", "", &InvalidPayeeKeyError{Key: raw, Reason: "unrecognized key format"}
	}
	switch len(digits) {
	case 11:
		if !validCPF(digits) {
			return "", "", &InvalidPayeeKeyError{Key: raw, Reason: "invalid CPF check digits"}
		}
		return digits, PixKeyCPF, nil
	case 14:
		if !validCNPJ(digits) {
			return "", "", &InvalidPayeeKeyError{Key: raw, Reason: "invalid CNPJ check digits"}
		}
		return digits, PixKeyCNPJ, nil
	}
	return "", "", &InvalidPayeeKeyError{Key: raw, Reason: "unrecognized key format"}
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// digits plus the usual document punctuation
func isDocumentText(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != '-' && r != '/' && r != ' ' {
			return false
		}
	}
	return true
}

func allSame(s string) bool {
	return strings.Count(s, s[:1]) == len(s)
}

func validCPF(d string) bool {
	if len(d) != 11 || allSame(d) {
		return false
	}
	return checkDigit(d[:9], []int{10, 9, 8, 7, 6, 5, 4, 3, 2}) == int(d[9]-'0') &&
		checkDigit(d[:10], []int{11, 10, 9, 8, 7, 6, 5, 4, 3, 2}) == int(d[10]-'0')
}

func validCNPJ(d string) bool {
	if len(d) != 14 || allSame(d) {
		return false
	}
	return checkDigit(d[:12], []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}) == int(d[12]-'0') &&
		checkDigit(d[:13], []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}) == int(d[13]-'0')
}

// mod 11 check digit shared by CPF and CNPJ
func checkDigit(d string, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += int(d[i]-'0') * w
	}
	r := sum % 11
	if r < 2 {
		return 0
	}
	return 11 - r
}
