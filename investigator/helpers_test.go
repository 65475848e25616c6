package investigator

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchLike(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		pattern string
		input   string
		want    bool
	}{
		{"exact", "monokuma", "monokuma", true},
		{"case insensitive", "MonoKuma", "mONOKUMA", true},
		{"percent matches any run", "%kuma%", "the monokuma file", true},
		{"percent matches empty run", "mono%", "mono", true},
		{"underscore matches one char", "m_no", "mono", true},
		{"underscore requires a char", "m_no", "mno", false},
		{"escaped percent is literal", `100\%`, "100%", true},
		{"escaped percent no match", `100\%`, "1000", false},
		{"escaped underscore is literal", `a\_b`, "a_b", true},
		{"escaped underscore no match", `a\_b`, "axb", false},
		{"trailing backslash matches itself", `abc\`, `abc\`, true},
		{"no match", "%kuma%", "the headmaster", false},
		{"empty pattern empty input", "", "", true},
		{"empty pattern non-empty input", "", "x", false},
		{"only percent", "%", "anything at all", true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(
				t,
				tt.want,
				matchLike(tt.pattern, tt.input),
				"pattern=%q input=%q", tt.pattern, tt.input,
			)
		})
	}
}

func TestEscapeLike(t *testing.T) {
	t.Parallel()
	assert.Equal(t, `100\%`, escapeLike("100%"))
	assert.Equal(t, `a\_b`, escapeLike("a_b"))
	assert.Equal(t, "plain", escapeLike("plain"))
	assert.Equal(t, `\%\_\%`, escapeLike("%_%"))
}

func TestContainsPhrase(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		phrase  string
		want    bool
	}{
		{"substring", "I saw the bloody knife on the floor", "bloody knife", true},
		{"case insensitive", "The BLOODY KNIFE was there", "bloody knife", true},
		{"not present", "nothing to see here", "bloody knife", false},
		{"phrase wildcards are literal", "50% of the time", "50%", true},
		{"percent does not wildcard", "50x of the time", "50%", false},
		{"underscore is literal", "file_name here", "file_name", true},
		{"underscore does not wildcard", "fileXname here", "file_name", false},
		{"whole message", "trigger", "trigger", true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, containsPhrase(tt.content, tt.phrase))
		})
	}
}

func TestValidateTemplate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validateTemplate("field", "{{bullet_name}} Finder", "bullet_name"))
	require.NoError(t, validateTemplate("field", "no placeholders", "bullet_name"))

	err := validateTemplate("field", "{{wrong}} Finder", "bullet_name")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// every placeholder is checked, not just the first
	err = validateTemplate(
		"field",
		"{{bullet_name}} and {{other}}",
		"bullet_name",
	)
	require.Error(t, err)
}

func TestRenderTemplate(t *testing.T) {
	t.Parallel()
	out := renderTemplate(
		"{{bullet_name}} Finder",
		map[string]string{"bullet_name": "Truth Bullet"},
	)
	assert.Equal(t, "Truth Bullet Finder", out)

	// unknown placeholders are left as-is
	out = renderTemplate("{{unknown}} Finder", map[string]string{})
	assert.Equal(t, "{{unknown}} Finder", out)
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abcde", 2))
	assert.Equal(t, "héll", truncate("héllo", 4))
}

func TestContextLogger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger, ok := ContextLogger(ctx)
	assert.False(t, ok)
	assert.Nil(t, logger)

	base := slog.Default().With("test_name", t.Name())
	ctx = WithLogger(ctx, base)
	logger, ok = ContextLogger(ctx)
	assert.True(t, ok)
	assert.Equal(t, base, logger)
}

func TestGenerateRandomHexString(t *testing.T) {
	t.Parallel()
	s, err := generateRandomHexString(16)
	require.NoError(t, err)
	assert.Len(t, s, 32)

	other, err := generateRandomHexString(16)
	require.NoError(t, err)
	assert.NotEqual(t, s, other)
}
