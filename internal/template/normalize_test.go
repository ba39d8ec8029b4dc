package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePlaceholders(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bracket placeholders become engine placeholders",
			in:   "<p>Hello [user_name], welcome to [company_name]!</p>",
			want: "<p>Hello {{.user_name}}, welcome to {{.company_name}}!</p>",
		},
		{
			name: "engine placeholders pass through",
			in:   "<p>Hello {{.user_name}}</p>",
			want: "<p>Hello {{.user_name}}</p>",
		},
		{
			name: "plain text gets paragraph markup",
			in:   "Hello [user_name]",
			want: "<p>Hello {{.user_name}}</p>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizePlainTextParagraphs(t *testing.T) {
	in := "Dear [full_name],\nyour interview is scheduled.\n\nRegards,\nThe Team"
	want := "<p>Dear {{.full_name}},<br>your interview is scheduled.</p><p>Regards,<br>The Team</p>"
	assert.Equal(t, want, Normalize(in))
}

func TestNormalizeKeepsExistingMarkup(t *testing.T) {
	in := "<html><body>line one\n\nline two</body></html>"
	// markup bodies are left alone apart from placeholder rewriting
	assert.Equal(t, in, Normalize(in))
}
