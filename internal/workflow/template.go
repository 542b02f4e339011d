package workflow

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// ErrUnknownPlaceholder is returned when a template references a field that
// is not one of the lead fields.
var ErrUnknownPlaceholder = errors.New("unknown template placeholder")

// placeholderPattern matches every {{...}} span. Names outside
// templateFields, including malformed ones, fail the render.
var placeholderPattern = regexp.MustCompile(`\{\{(.*?)\}\}`)

// templateFields lists the placeholders an sms body may use.
var templateFields = map[string]func(models.Lead) string{
	"first_name": func(l models.Lead) string { return l.FirstName },
	"last_name":  func(l models.Lead) string { return l.LastName },
	"full_name":  func(l models.Lead) string { return l.FullName() },
	"phone":      func(l models.Lead) string { return l.PhoneNumber },
	"email":      func(l models.Lead) string { return l.Email },
	"company":    func(l models.Lead) string { return l.Company },
	"city":       func(l models.Lead) string { return l.City },
	"state":      func(l models.Lead) string { return l.State },
}

// RenderTemplate substitutes lead fields into tmpl. Placeholder names are
// matched case-insensitively. Any unknown placeholder fails the whole render.
func RenderTemplate(tmpl string, lead models.Lead) (string, error) {
	var unknown []string
	out := placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := strings.TrimSpace(placeholderPattern.FindStringSubmatch(m)[1])
		field, ok := templateFields[strings.ToLower(name)]
		if !ok {
			if name == "" {
				name = m
			}
			unknown = append(unknown, name)
			return m
		}
		return field(lead)
	})
	if len(unknown) > 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownPlaceholder, strings.Join(unknown, ", "))
	}
	return out, nil
}

// CheckTemplate reports unknown placeholders without rendering.
func CheckTemplate(tmpl string) error {
	_, err := RenderTemplate(tmpl, models.Lead{})
	return err
}
