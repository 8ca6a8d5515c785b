package route

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	MinNameLen = 3
	MaxNameLen = 50
)

var (
	// ErrInvalidName is the parent of every name validation failure.
	ErrInvalidName = errors.New("invalid route name")
	ErrNameLength  = fmt.Errorf("%w: must be between %d and %d characters", ErrInvalidName, MinNameLen, MaxNameLen)
	ErrNameCharset = fmt.Errorf("%w: only letters, numbers, spaces and - _ . , ( ) # are allowed", ErrInvalidName)
)

var nameChars = regexp.MustCompile(`^[a-zA-Z0-9\s\-_.,()#]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("routename", func(fl validator.FieldLevel) bool {
		return nameChars.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// nameRules is checked in order: length first, then characters.
var nameRules = fmt.Sprintf("min=%d,max=%d,routename", MinNameLen, MaxNameLen)

// NormalizeName trims the input and validates it. The returned name is what
// should be sent upstream.
func NormalizeName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if err := validate.Var(trimmed, nameRules); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].Tag() {
			case "min", "max":
				return "", ErrNameLength
			case "routename":
				return "", ErrNameCharset
			}
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	return trimmed, nil
}

// ValidateName reports whether name would be accepted by NormalizeName.
func ValidateName(name string) error {
	_, err := NormalizeName(name)
	return err
}
