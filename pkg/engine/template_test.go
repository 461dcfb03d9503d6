package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexusflow/funnel/pkg/models"
)

func TestRenderTemplate(t *testing.T) {
	contact := &models.Contact{Name: "Maria"}

	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{"name placeholder", "Oi {{nome}}!", "Oi Maria!"},
		{"uppercase placeholder", "Oi {{NOME}}!", "Oi Maria!"},
		{"phone placeholder", "Confirma o {{telefone}}?", "Confirma o 5511912345678?"},
		{"both placeholders", "{{nome}} ({{Telefone}})", "Maria (5511912345678)"},
		{"no placeholders", "Bom dia", "Bom dia"},
		{"empty text", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, renderTemplate(tt.text, contact, "5511912345678"))
		})
	}
}

func TestRenderTemplateDefaultsName(t *testing.T) {
	contact := &models.Contact{Name: "   "}

	assert.Equal(t, "Oi Cliente!", renderTemplate("Oi {{nome}}!", contact, ""))
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"+55 (11) 91234-5678", "5511912345678"},
		{"5511912345678", "5511912345678"},
		{"abc", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizePhone(tt.input))
	}
}
