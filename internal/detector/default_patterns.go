package detector

import (
	"strings"

	"github.com/Veraticus/redactor/internal/model"
)

// Categories flagged by the default patterns.
const (
	CategoryEmail       = "email"
	CategoryPhone       = "phone"
	CategorySSN         = "ssn"
	CategoryCreditCard  = "credit_card"
	CategoryIBAN        = "iban"
	CategoryIPAddress   = "ip_address"
	CategoryPostcode    = "postcode"
	CategoryNHSNumber   = "nhs_number"
	CategoryDateOfBirth = "date_of_birth"

	CategoryAccountNumber = model.CategoryAccountNumber
	CategoryRoutingNumber = model.CategoryRoutingNumber
)

// DefaultPatterns returns the built-in personal data patterns.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:       "Email Address",
			Category:   CategoryEmail,
			Regex:      `[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`,
			Priority:   100,
			Confidence: 0.95,
		},
		{
			Name:       "Social Security Number",
			Category:   CategorySSN,
			Regex:      `\b\d{3}-\d{2}-\d{4}\b`,
			Priority:   95,
			Confidence: 0.9,
			Validate:   validSSN,
		},
		{
			Name:       "Credit Card Number",
			Category:   CategoryCreditCard,
			Regex:      `\b(?:\d[ -]?){12,18}\d\b`,
			Priority:   95,
			Confidence: 0.9,
			Validate:   luhnValid,
		},
		{
			Name:          "IBAN",
			Category:      CategoryIBAN,
			Regex:         `\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){2,7}(?: ?[A-Z0-9]{1,4})?\b`,
			Priority:      90,
			Confidence:    0.85,
			CaseSensitive: true,
		},
		{
			Name:       "Bank Account Number",
			Category:   CategoryAccountNumber,
			Regex:      `\b(?:account|acct|a/c)(?:\s*(?:no\.?|number|#))?[\s:#.]*(\d{6,17})\b`,
			Priority:   88,
			Confidence: 0.85,
			Group:      1,
		},
		{
			Name:       "Routing Number or Sort Code",
			Category:   CategoryRoutingNumber,
			Regex:      `\b(?:routing|aba|sort[ -]code)(?:\s*(?:no\.?|number|#))?[\s:#.]*(\d{2}-\d{2}-\d{2}|\d{9})\b`,
			Priority:   87,
			Confidence: 0.85,
			Group:      1,
		},
		{
			Name:       "NHS Number",
			Category:   CategoryNHSNumber,
			Regex:      `\b\d{3} ?\d{3} ?\d{4}\b`,
			Priority:   85,
			Confidence: 0.75,
			Validate:   validNHSNumber,
		},
		{
			Name:       "Phone Number",
			Category:   CategoryPhone,
			Regex:      `(?:\+\d{1,3}[\s.-]?)?(?:\(\d{3}\)\s?|\b\d{3}[\s.-])?\b\d{3}[\s.-]\d{4}\b`,
			Priority:   80,
			Confidence: 0.8,
		},
		{
			Name:       "Date of Birth",
			Category:   CategoryDateOfBirth,
			Regex:      `\b(?:dob|d\.o\.b\.|date of birth|born)[:\s]+(\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4})\b`,
			Priority:   75,
			Confidence: 0.85,
			Group:      1,
		},
		{
			Name:       "IPv4 Address",
			Category:   CategoryIPAddress,
			Regex:      `\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`,
			Priority:   70,
			Confidence: 0.7,
		},
		{
			Name:          "UK Postcode",
			Category:      CategoryPostcode,
			Regex:         `\b[A-Z]{1,2}\d[A-Z\d]? ?\d[A-Z]{2}\b`,
			Priority:      60,
			Confidence:    0.7,
			CaseSensitive: true,
		},
	}
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// luhnValid checks the card number checksum.
func luhnValid(s string) bool {
	digits := digitsOnly(s)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		n := int(digits[i] - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return sum%10 == 0
}

// validSSN rejects area, group and serial numbers that are never issued.
func validSSN(s string) bool {
	digits := digitsOnly(s)
	if len(digits) != 9 {
		return false
	}
	area, group, serial := digits[:3], digits[3:5], digits[5:]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	return group != "00" && serial != "0000"
}

// validNHSNumber applies the modulus 11 check digit.
func validNHSNumber(s string) bool {
	digits := digitsOnly(s)
	if len(digits) != 10 {
		return false
	}
	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(digits[i]-'0') * (10 - i)
	}
	check := 11 - sum%11
	if check == 11 {
		check = 0
	}
	if check == 10 {
		return false
	}
	return check == int(digits[9]-'0')
}
