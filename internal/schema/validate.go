package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SlotType selects the validation rule applied to extracted slot values.
type SlotType string

const (
	// TypeAmount is a positive decimal amount.
	TypeAmount SlotType = "amount"
	// TypePhone is a Cameroonian mobile number (6XXXXXXXX).
	TypePhone SlotType = "phone"
	// TypeRecipient is either a valid phone number or a non-empty name.
	TypeRecipient SlotType = "recipient"
	// TypeAge is an adult age (18-120).
	TypeAge SlotType = "age"
	// TypeSex is M/F in its common French and English spellings.
	TypeSex SlotType = "sex"
	// TypeText is any non-empty free text.
	TypeText SlotType = "text"
	// TypeReference is a short alphanumeric reference code.
	TypeReference SlotType = "reference"
)

var (
	phonePattern     = regexp.MustCompile(`^6\d{8}$`)
	referencePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// ValidateSlot checks a raw extracted value against the slot type rule and
// returns the normalized value. A validation failure means the value is
// dropped from the extraction, never that the whole call fails.
func ValidateSlot(t SlotType, raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("empty value")
	}

	switch t {
	case TypeAmount:
		n, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64)
		if err != nil {
			return "", fmt.Errorf("amount %q is not a number", value)
		}
		if n <= 0 {
			return "", fmt.Errorf("amount must be positive, got %v", n)
		}
		return strconv.FormatFloat(n, 'f', -1, 64), nil

	case TypePhone:
		phone := normalizePhone(value)
		if !phonePattern.MatchString(phone) {
			return "", fmt.Errorf("phone %q does not match 6XXXXXXXX", value)
		}
		return phone, nil

	case TypeRecipient:
		if phone := normalizePhone(value); phonePattern.MatchString(phone) {
			return phone, nil
		}
		// Not a phone number; accept as a beneficiary name.
		return value, nil

	case TypeAge:
		age, err := strconv.Atoi(value)
		if err != nil {
			return "", fmt.Errorf("age %q is not an integer", value)
		}
		if age < 18 || age > 120 {
			return "", fmt.Errorf("age %d out of range", age)
		}
		return strconv.Itoa(age), nil

	case TypeSex:
		switch strings.ToUpper(value) {
		case "M", "MALE", "HOMME":
			return "M", nil
		case "F", "FEMALE", "FEMME":
			return "F", nil
		}
		return "", fmt.Errorf("sex %q not recognized", value)

	case TypeReference:
		if !referencePattern.MatchString(value) {
			return "", fmt.Errorf("reference %q is not a valid code", value)
		}
		return value, nil

	case TypeText:
		return value, nil

	default:
		return "", fmt.Errorf("unknown slot type %q", t)
	}
}

// normalizePhone strips the +237 country prefix and whitespace so local and
// international spellings validate identically.
func normalizePhone(value string) string {
	phone := strings.ReplaceAll(value, " ", "")
	phone = strings.TrimPrefix(phone, "+237")
	if len(phone) == 12 {
		phone = strings.TrimPrefix(phone, "237")
	}
	return phone
}
