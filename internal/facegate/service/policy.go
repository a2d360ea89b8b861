package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NamingPolicy decides which enrollment names are acceptable.
type NamingPolicy interface {
	ValidateName(name string) error
}

// ProfilePolicy decides which enrollment profiles are acceptable.
type ProfilePolicy interface {
	ValidateProfile(profile map[string]string) error
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("min_tokens", validateMinTokens)
	_ = v.RegisterValidation("digits", validateDigits)
	return v
}

// validateMinTokens requires at least N whitespace-separated tokens, N
// being the tag parameter.
func validateMinTokens(fl validator.FieldLevel) bool {
	n, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return len(strings.Fields(fl.Field().String())) >= n
}

func validateDigits(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// TokenNamingPolicy requires a minimum number of name tokens, e.g. first,
// middle and last name.
type TokenNamingPolicy struct {
	MinTokens int
}

func (p TokenNamingPolicy) ValidateName(name string) error {
	if p.MinTokens <= 1 {
		return nil
	}
	if err := validate.Var(name, fmt.Sprintf("min_tokens=%d", p.MinTokens)); err != nil {
		return fmt.Errorf("%w: need at least %d name parts", ErrInvalidName, p.MinTokens)
	}
	return nil
}

// AnyProfile accepts every profile.
type AnyProfile struct{}

func (AnyProfile) ValidateProfile(map[string]string) error { return nil }

// Profile keys understood by PaymentProfilePolicy.
const (
	ProfileCardNumber = "card_number"
	ProfileExpMonth   = "exp_month"
	ProfileExpYear    = "exp_year"
	ProfileCVV        = "cvv"
)

type paymentProfile struct {
	CardNumber string `validate:"required,len=16,digits"`
	ExpMonth   string `validate:"required,len=2,digits"`
	ExpYear    string `validate:"required,len=2,digits"`
	CVV        string `validate:"required,len=3,digits"`
}

// PaymentProfilePolicy requires card details in the sign-up format: a
// 16-digit card number, 2-digit expiry month and year and a 3-digit CVV.
// Other keys pass through untouched.
type PaymentProfilePolicy struct{}

func (PaymentProfilePolicy) ValidateProfile(p map[string]string) error {
	pp := paymentProfile{
		CardNumber: p[ProfileCardNumber],
		ExpMonth:   p[ProfileExpMonth],
		ExpYear:    p[ProfileExpYear],
		CVV:        p[ProfileCVV],
	}
	if err := validate.Struct(pp); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s", ErrInvalidProfile, profileKey(verrs[0].Field()))
		}
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	return nil
}

func profileKey(field string) string {
	switch field {
	case "CardNumber":
		return ProfileCardNumber
	case "ExpMonth":
		return ProfileExpMonth
	case "ExpYear":
		return ProfileExpYear
	case "CVV":
		return ProfileCVV
	default:
		return field
	}
}

// ProfilePolicyByName maps a config value to a policy.
func ProfilePolicyByName(name string) (ProfilePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "any":
		return AnyProfile{}, nil
	case "payment":
		return PaymentProfilePolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown profile policy %q", name)
	}
}
