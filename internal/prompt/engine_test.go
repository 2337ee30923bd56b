package prompt

import (
	"strings"
	"testing"

	apperrors "github.com/aihub/usage-core/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greeting = "Hello {{name}}, your role is {{role}} at {{company}}."

func TestExtractVariables(t *testing.T) {
	assert.Equal(t, []string{"name", "role", "company"}, ExtractVariables(greeting))

	tests := []struct {
		name     string
		template string
		want     []string
	}{
		{"empty", "", []string{}},
		{"no placeholders", "plain text", []string{}},
		{"duplicates keep first position", "{{b}} {{a}} {{b}} {{c}} {{a}}", []string{"b", "a", "c"}},
		{"malformed braces ignored", "{{ name }} {name} {{}} {{ok}} {{bad-name}}", []string{"ok"}},
		{"unterminated", "Hi {{name", []string{}},
		{"underscores and digits", "{{user_1}}{{User_1}}", []string{"user_1", "User_1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractVariables(tt.template)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, ExtractVariables(tt.template))
		})
	}
}

func TestRenderComplete(t *testing.T) {
	data := map[string]interface{}{"name": "John", "role": "Developer", "company": "Tech Corp"}
	assert.Equal(t, "Hello John, your role is Developer at Tech Corp.", Render(greeting, data))
	assert.Equal(t, Render(greeting, data), Render(greeting, data))
}

func TestRenderPartialData(t *testing.T) {
	data := map[string]interface{}{"name": "John", "role": "Developer"}

	result := Validate(ExtractVariables(greeting), data)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"company"}, result.Missing)

	assert.Equal(t, "Hello John, your role is Developer at .", Render(greeting, data))
}

func TestValidateEmptyStringIsPresent(t *testing.T) {
	result := Validate([]string{"name"}, map[string]interface{}{"name": ""})
	assert.True(t, result.Valid)
	assert.Empty(t, result.Missing)
	assert.NotNil(t, result.Missing)
}

func TestRenderStringifiesValues(t *testing.T) {
	tpl := "{{n}}|{{f}}|{{b}}|{{nil}}|{{list}}|{{obj}}"
	data := map[string]interface{}{
		"n":    42,
		"f":    3.50,
		"b":    true,
		"nil":  nil,
		"list": []string{"a", "b"},
		"obj":  map[string]int{"x": 1},
	}
	assert.Equal(t, `42|3.5|true||["a","b"]|{"x":1}`, Render(tpl, data))
}

func TestNextRating(t *testing.T) {
	avg, count, err := NextRating(0, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, 5.0, avg)
	assert.Equal(t, 1, count)

	avg, count, err = NextRating(avg, count, 3)
	require.NoError(t, err)
	assert.Equal(t, 4.0, avg)
	assert.Equal(t, 2, count)

	for _, bad := range []int{0, 6, -1} {
		_, _, err := NextRating(avg, count, bad)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	}
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "customer-follow-up-email", Slugify("  Customer Follow-up: Email!! "))
	assert.Equal(t, "template", Slugify("!!!"))
	assert.Equal(t, "v2-summary", Slugify("V2 -- Summary"))
}

func TestUniqueSlug(t *testing.T) {
	taken := map[string]bool{"report": true, "report-1": true}
	slug, err := UniqueSlug("report", func(s string) (bool, error) { return taken[s], nil })
	require.NoError(t, err)
	assert.Equal(t, "report-2", slug)

	slug, err = UniqueSlug("fresh", func(s string) (bool, error) { return taken[s], nil })
	require.NoError(t, err)
	assert.Equal(t, "fresh", slug)
}

func TestSlugLengthLimits(t *testing.T) {
	long := strings.Repeat("a", 300)
	slug := Slugify(long)
	assert.Len(t, slug, MaxSlugLength)

	taken := map[string]bool{slug: true}
	next, err := UniqueSlug(slug, func(s string) (bool, error) { return taken[s], nil })
	require.NoError(t, err)
	assert.Len(t, next, MaxSlugLength)
	assert.True(t, strings.HasSuffix(next, "-1"))

	// 截断点落在连字符上时不留下 "--"
	dashed := strings.Repeat("b", 252) + "-ccc"
	next, err = UniqueSlug(dashed, func(s string) (bool, error) { return s == dashed, nil })
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("b", 252)+"-1", next)
}

func TestTruncateCountsCharacters(t *testing.T) {
	assert.Equal(t, "模板", Truncate("模板引擎", 2))
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "", Truncate("abc", 0))
	assert.Equal(t, "ab (Copy)", WithSuffix("abcdef", " (Copy)", 9))
	assert.Equal(t, 255, len([]rune(WithSuffix(strings.Repeat("名", 255), " (Copy)", MaxNameLength))))
}
