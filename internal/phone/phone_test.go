package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"905551234567", "905551234567"},
		{"+905551234567", "905551234567"},
		{"+90 555 123 45 67", "905551234567"},
		{"(0555) 123-45-67", "05551234567"},
		{"905551234567@s.whatsapp.net", "905551234567"},
		{"905551234567@c.us", "905551234567"},
		{"123456789012345@lid", "123456789012345"},
		{"120363025246125486@g.us", "120363025246125486"},
		{"905551234567:12@s.whatsapp.net", "905551234567"},
		{"905551234567.0:3@s.whatsapp.net", "905551234567"},
		{"status@broadcast", ""},
		{"", ""},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"+90 555 123 45 67",
		"905551234567@s.whatsapp.net",
		"905551234567@c.us",
		"905551234567@lid",
		"905551234567@g.us",
		"905551234567:7@s.whatsapp.net",
		"905551234567",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), in)
		assert.Equal(t, "905551234567", once, in)
	}
}

func TestDirectJID(t *testing.T) {
	assert.Equal(t, "905551234567@s.whatsapp.net", DirectJID("+90 555 123 45 67"))
	assert.Equal(t, "905551234567@s.whatsapp.net", DirectJID("905551234567@c.us"))
	assert.Equal(t, "", DirectJID("not a number"))
}

func TestIsGroupID(t *testing.T) {
	assert.True(t, IsGroupID("120363025246125486@g.us"))
	assert.False(t, IsGroupID("905551234567@s.whatsapp.net"))
}
