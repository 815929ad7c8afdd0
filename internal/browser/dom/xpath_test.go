package dom_test

import (
	"strings"
	"testing"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/studypilot/internal/browser/dom"
)

const listingHTML = `
	<html>
	<body>
		<div id="study_content">
			<ul>
				<li><a href="p1.php">Linux常用命令</a></li>
				<li><a href="p2.php">Shell脚本编程基础</a></li>
			</ul>
		</div>
		<div class="plan"><p>P1</p><p>P2</p></div>
		<div class="plan"><p>P3</p></div>
	</body>
	</html>
	`

func TestGenerateUniqueXPath(t *testing.T) {
	doc, err := htmlquery.Parse(strings.NewReader(listingHTML))
	require.NoError(t, err)

	tests := []struct {
		name          string
		targetXPath   string
		expectedXPath string
	}{
		{"Body", "//body", "/html[1]/body[1]"},
		{"Element with ID", "//div[@id='study_content']", `//*[@id='study_content']`},
		{"Anchored below ID", "(//li)[2]/a", `//*[@id='study_content']/ul[1]/li[2]/a[1]`},
		{"Sibling index", "(//p)[2]", "/html[1]/body[1]/div[2]/p[2]"},
		{"Same class twice", "(//div[@class='plan'])[2]/p", "/html[1]/body[1]/div[3]/p[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := htmlquery.FindOne(doc, tt.targetXPath)
			require.NotNil(t, target, "target node not found with %s", tt.targetXPath)

			got := dom.GenerateUniqueXPath(target)
			assert.Equal(t, tt.expectedXPath, got)
			assert.Equal(t, target, htmlquery.FindOne(doc, got), "generated XPath must select the original node")
		})
	}
}
