// browser/parser/css_test.go
package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decl(prop, val string, important bool) Declaration {
	return Declaration{Property: Property(prop), Value: Value(val), Important: important}
}

func TestParseSelectorText(t *testing.T) {
	sheet := Parse(`
#study_content ul > li a, .done + a ~ span { color: green; }
a[title="{x}"]  { color: red }
a:hover { color: blue }
{ color: black }
`)
	var got []string
	for _, r := range sheet.Rules {
		got = append(got, r.Selector)
	}
	assert.Equal(t, []string{
		"#study_content ul > li a, .done + a ~ span",
		`a[title="{x}"]`,
		"a:hover",
	}, got, "selectors are kept as written; rules without one are dropped")
}

func TestParseDeclarations(t *testing.T) {
	sheet := Parse(`
/* palette */
a.done {
  color: rgb(0, 128, 0) !important;
  background-color:#32CD32;
  font-family: "Noto Sans", sans-serif;
  bogus
}
@media print { a { color: black } }
.x { }
`)
	require.Len(t, sheet.Rules, 1, "at-rules and empty rules are dropped")
	assert.Equal(t, []Declaration{
		decl("color", "rgb(0, 128, 0)", true),
		decl("background-color", "#32CD32", false),
		decl("font-family", `"Noto Sans", sans-serif`, false),
	}, sheet.Rules[0].Declarations)
}

func TestParseInline(t *testing.T) {
	got := ParseInline(" Color: Green ; background-color : rgba(0,128,0,0.5) !important;;junk")
	assert.Equal(t, []Declaration{
		decl("color", "Green", false),
		decl("background-color", "rgba(0,128,0,0.5)", true),
	}, got)
	assert.Empty(t, ParseInline(""))
}
