package style_test

import (
	"context"
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/studypilot/internal/browser"
	"github.com/xkilldash9x/studypilot/internal/browser/dom"
	"github.com/xkilldash9x/studypilot/internal/browser/style"
)

const listing = `<html><head><style>
.green-text { color: #008000; }
.green-bg { background-color: rgba(0, 128, 0, 0.2); }
</style></head><body>
<div id="study_content"><ul>
  <li><a href="1_1_a.php" style="color:green">Inline named</a></li>
  <li><a href="1_2_b.php" class="green-text">Class text</a></li>
  <li><a href="1_3_c.php" class="green-bg">Class background</a></li>
  <li><a href="1_4_d.php" style="color:#32cd32">Inline hex</a></li>
  <li><a href="1_5_e.php" style="color:rgb(0,128,0)">Inline rgb</a></li>
  <li><a href="1_6_f.php" class="normal-link">Plain</a></li>
</ul></div></body></html>`

func loadListing(t *testing.T) (*dom.Page, []browser.ElementRef) {
	t.Helper()
	p := dom.NewPage(dom.NewSite())
	require.NoError(t, p.SetContent("http://lms.test/study/list.php", listing))
	refs, err := p.Locate(context.Background(), browser.CSS("#study_content ul li a"))
	require.NoError(t, err)
	require.Len(t, refs, 6)
	return p, refs
}

func TestClassifier_ListingWithMixedMarkers(t *testing.T) {
	ctx := context.Background()
	p, refs := loadListing(t)
	c := style.NewClassifier(style.DefaultVocabulary())

	var marked []bool
	for _, ref := range refs {
		res, err := c.Classify(ctx, p, ref)
		require.NoError(t, err)
		marked = append(marked, res.Marked)
	}
	assert.Equal(t, []bool{true, true, true, true, true, false}, marked)

	plain, err := c.Classify(ctx, p, refs[5])
	require.NoError(t, err)
	assert.Equal(t, "rgb(0, 0, 238)", plain.Signal.Color)
	assert.Empty(t, plain.Matched)
}

func TestClassifier_OrderIndependent(t *testing.T) {
	ctx := context.Background()
	p, refs := loadListing(t)
	c := style.NewClassifier(style.DefaultVocabulary())

	forward := make(map[string]style.Classification)
	for _, ref := range refs {
		res, err := c.Classify(ctx, p, ref)
		require.NoError(t, err)
		forward[ref.ID] = res
	}
	for i := len(refs) - 1; i >= 0; i-- {
		res, err := c.Classify(ctx, p, refs[i])
		require.NoError(t, err)
		assert.Equal(t, forward[refs[i].ID], res)
	}
}

func TestClassifier_ClassKeywordShortCircuits(t *testing.T) {
	c := style.NewClassifier(style.DefaultVocabulary())
	res := c.ClassifySignal(style.Signal{Classes: "item SUCCESS", Color: "rgb(0, 128, 0)"})
	assert.True(t, res.Marked)
	assert.True(t, res.ByClass)
	assert.Equal(t, "success", res.Matched)

	res = c.ClassifySignal(style.Signal{Color: "rgb(0, 128, 0)"})
	assert.True(t, res.Marked)
	assert.False(t, res.ByClass)
	assert.Equal(t, "rgb(0,128,0)", res.Matched)
}

func TestClassifier_VocabularyOverrides(t *testing.T) {
	vocab := style.DefaultVocabulary().WithOverrides([]string{"rgb(0, 0, 255)"}, nil)
	c := style.NewClassifier(vocab)

	assert.True(t, c.ClassifySignal(style.Signal{Color: "RGB(0,0,255)"}).Marked)
	assert.False(t, c.ClassifySignal(style.Signal{Color: "rgb(0, 128, 0)"}).Marked)
	assert.True(t, c.ClassifySignal(style.Signal{Classes: "green"}).Marked, "class keywords are kept when not overridden")
}

func TestClassifier_StaleRefPropagates(t *testing.T) {
	ctx := context.Background()
	p, refs := loadListing(t)
	require.NoError(t, p.SetContent("http://lms.test/study/other.php", `<p/>`))

	_, err := style.NewClassifier(style.DefaultVocabulary()).Classify(ctx, p, refs[0])
	assert.ErrorIs(t, err, browser.ErrStaleElement)
}

func TestSignal_String(t *testing.T) {
	tests := []struct {
		name string
		sig  style.Signal
		want string
	}{
		{"empty", style.Signal{}, ""},
		{"spaces inside parens", style.Signal{Color: "rgb(0, 128, 0)"}, "rgb(0,128,0)"},
		{"collapsed and lowered", style.Signal{Inline: "  Color:  GREEN ;", Classes: "a\tb"}, "color: green ; a b"},
		{"all parts", style.Signal{Inline: "x", Color: "rgb(1, 2, 3)", Background: "rgba(0, 0, 0, 0)", Classes: "c"}, "x rgb(1,2,3) rgba(0,0,0,0) c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sig.String())
		})
	}
}

func widenSpaces(s string) string {
	return strings.ReplaceAll(s, " ", " \t  ")
}

// FuzzClassifySignal checks that classification is deterministic and ignores
// how much whitespace separates tokens.
func FuzzClassifySignal(f *testing.F) {
	f.Add([]byte("color: rgb(0, 128, 0)"))
	f.Add([]byte("green-text normal"))
	c := style.NewClassifier(style.DefaultVocabulary())

	f.Fuzz(func(t *testing.T, data []byte) {
		var sig style.Signal
		if err := fuzz.NewConsumer(data).GenerateStruct(&sig); err != nil {
			return
		}
		first := c.ClassifySignal(sig)
		assert.Equal(t, first, c.ClassifySignal(sig))

		wide := style.Signal{
			Inline:     widenSpaces(sig.Inline),
			Color:      widenSpaces(sig.Color),
			Background: widenSpaces(sig.Background),
			Classes:    widenSpaces(sig.Classes),
		}
		assert.Equal(t, sig.String(), wide.String())
		assert.Equal(t, first.Marked, c.ClassifySignal(wide).Marked)
	})
}
