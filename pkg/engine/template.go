package engine

import (
	"regexp"
	"strings"

	"github.com/nexusflow/funnel/pkg/models"
)

var (
	namePlaceholder  = regexp.MustCompile(`(?i)\{\{nome\}\}`)
	phonePlaceholder = regexp.MustCompile(`(?i)\{\{telefone\}\}`)
	nonDigits        = regexp.MustCompile(`\D`)
)

// renderTemplate substitutes the {{nome}} and {{telefone}} placeholders the
// funnel editor offers. Placeholders are matched case-insensitively.
func renderTemplate(text string, contact *models.Contact, phone string) string {
	if text == "" {
		return ""
	}

	name := strings.TrimSpace(contact.Name)
	if name == "" {
		name = "Cliente"
	}

	text = namePlaceholder.ReplaceAllString(text, name)
	text = phonePlaceholder.ReplaceAllString(text, phone)

	return text
}

// normalizePhone strips everything but digits from a phone number.
func normalizePhone(phone string) string {
	return nonDigits.ReplaceAllString(phone, "")
}
