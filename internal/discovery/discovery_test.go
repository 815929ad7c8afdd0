// internal/discovery/discovery_test.go
package discovery

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/studypilot/api/schemas"
	"github.com/xkilldash9x/studypilot/internal/browser/dom"
	"github.com/xkilldash9x/studypilot/internal/browser/style"
	"github.com/xkilldash9x/studypilot/internal/config"
	"github.com/xkilldash9x/studypilot/internal/resolver"
)

const (
	baseURL     = "http://course.test/"
	practiceURL = "http://course.test/practice.php?chapter=shell"
	planURL     = "http://course.test/user/my_plan.php"
)

const practiceListing = `<html><head><style>
  .green-text { color: green; }
  .green-bg { background-color: #00ff00; }
</style></head><body>
<div id="study_content"><ul>
  <li><a href="practice_process.php?id=1">Ls 命令</a> <font color="blue">✓</font></li>
  <li><a href="../practice_process.php?id=2" style="color: green">Cd</a></li>
  <li><a href="practice_process.php?id=3">   </a></li>
  <li>no link in this entry</li>
  <li><a href="http://ads.other.test/x">advert</a></li>
  <li><a href="javascript:void(0)">script link</a></li>
  <li><a href="practice_process.php?id=1">Ls 命令</a></li>
</ul></div>
</body></html>`

const planListing = `<html><body>
  <a href="../user/study/content/3_2_FilePerms.php"><img src="/img/content1.png"></a>
  <a href="study/content/4_1_%E8%BF%9B%E7%A8%8B.php"><img src="content1.png"></a>
  <a href="other.php"><img src="content2.png"></a>
  <a href="plain.php"><img src="content1.png">Plain  text</a>
</body></html>`

type fixture struct {
	site *dom.Site
	page *dom.Page
	disc *Discoverer
}

func newFixture(t *testing.T, routes map[string]string) fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	site := dom.NewSite()
	for u, body := range routes {
		site.Handle(u, body)
	}
	page := dom.NewPage(site, dom.WithLogger(logger))
	res := resolver.New(logger, resolver.WithStrategyTimeout(time.Second))
	disc, err := New(logger, res, resolver.DefaultCatalog(), style.NewClassifier(style.DefaultVocabulary()), baseURL,
		WithReadyTimeout(10*time.Millisecond))
	require.NoError(t, err)
	return fixture{site: site, page: page, disc: disc}
}

func TestDiscover_Practice(t *testing.T) {
	f := newFixture(t, map[string]string{practiceURL: practiceListing})

	items, err := f.disc.Discover(context.Background(), f.page, Source{Kind: SourcePractice, URL: practiceURL})
	require.NoError(t, err)

	want := []schemas.WorkItem{
		{Index: 1, TargetURL: "http://course.test/practice_process.php?id=1", Label: "Ls 命令", Marked: true},
		{Index: 2, TargetURL: "http://course.test/practice_process.php?id=2", Label: "Cd", Marked: true},
		{Index: 3, TargetURL: "http://course.test/practice_process.php?id=3", Label: schemas.UntitledLabel},
		{Index: 4, TargetURL: "http://course.test/practice_process.php?id=1", Label: "Ls 命令"},
	}
	for i := range want {
		want[i].PageKind = schemas.PageKindPractice
		want[i].Source = practiceURL
	}
	if diff := cmp.Diff(want, items, cmpopts.IgnoreFields(schemas.WorkItem{}, "DiscoveredAt")); diff != "" {
		t.Errorf("practice items mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscover_Plan(t *testing.T) {
	f := newFixture(t, map[string]string{planURL: planListing})

	items, err := f.disc.Discover(context.Background(), f.page, Source{Kind: SourcePlan, URL: planURL})
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "http://course.test/study/content/3_2_FilePerms.php", items[0].TargetURL)
	assert.Equal(t, "FilePerms", items[0].Label)
	assert.Equal(t, "http://course.test/study/content/4_1_%E8%BF%9B%E7%A8%8B.php", items[1].TargetURL)
	assert.Equal(t, "进程", items[1].Label)
	assert.Equal(t, "Plain text", items[2].Label)
	for i, it := range items {
		assert.Equal(t, i+1, it.Index)
		assert.False(t, it.Marked, "plan entries are never pre-marked")
		assert.Equal(t, schemas.PageKindStudy, it.PageKind)
	}
}

// Five anchors marked through different signal forms and one plain link.
func TestDiscover_MarkedSignalForms(t *testing.T) {
	listing := `<html><head><style>
	  .green-text { color: green; }
	  .green-bg { background-color: green; }
	</style></head><body><div id="study_content"><ul>
	  <li><a href="p.php?id=1" style="color:green">one</a></li>
	  <li><a href="p.php?id=2" class="green-text">two</a></li>
	  <li><a href="p.php?id=3" class="green-bg">three</a></li>
	  <li><a href="p.php?id=4" style="color:#32cd32">four</a></li>
	  <li><a href="p.php?id=5" style="color:rgb(0,128,0)">five</a></li>
	  <li><a href="p.php?id=6" class="normal-link">six</a></li>
	</ul></div></body></html>`
	f := newFixture(t, map[string]string{practiceURL: listing})

	items, err := f.disc.Discover(context.Background(), f.page, Source{Kind: SourcePractice, URL: practiceURL})
	require.NoError(t, err)
	require.Len(t, items, 6)
	var marks []bool
	for _, it := range items {
		marks = append(marks, it.Marked)
	}
	assert.Equal(t, []bool{true, true, true, true, true, false}, marks)
}

func TestDiscover_Idempotent(t *testing.T) {
	f := newFixture(t, map[string]string{practiceURL: practiceListing})
	src := Source{Kind: SourcePractice, URL: practiceURL}

	first, err := f.disc.Discover(context.Background(), f.page, src)
	require.NoError(t, err)
	f.disc.now = func() time.Time { return time.Now().Add(time.Hour) }
	second, err := f.disc.Discover(context.Background(), f.page, src)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, first[i].Equal(second[i]), "item %d differs", i+1)
		assert.NotEqual(t, first[i].DiscoveredAt, second[i].DiscoveredAt)
	}
}

func TestDiscover_EmptyListing(t *testing.T) {
	f := newFixture(t, map[string]string{practiceURL: `<html><body><p>nothing yet</p></body></html>`})
	items, err := f.disc.Discover(context.Background(), f.page, Source{Kind: SourcePractice, URL: practiceURL})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDiscover_UnsettledListingIsStillRead(t *testing.T) {
	f := newFixture(t, nil)
	f.site.Handle(practiceURL, practiceListing).NeverSettles()
	items, err := f.disc.Discover(context.Background(), f.page, Source{Kind: SourcePractice, URL: practiceURL})
	require.NoError(t, err)
	assert.Len(t, items, 4)
}

func TestDiscoverAll(t *testing.T) {
	const brokenURL = "http://course.test/practice.php?chapter=missing"
	f := newFixture(t, map[string]string{practiceURL: practiceListing, planURL: planListing})

	items, err := f.disc.DiscoverAll(context.Background(), f.page, []Source{
		{Kind: SourcePractice, URL: practiceURL},
		{Kind: SourcePractice, URL: brokenURL},
		{Kind: SourcePlan, URL: planURL},
	})
	require.NoError(t, err)
	require.Len(t, items, 7)
	for i, it := range items {
		assert.Equal(t, i+1, it.Index)
	}
	assert.Equal(t, planURL, items[4].Source)

	pending, marked := Split(items)
	assert.Len(t, pending, 5)
	assert.Len(t, marked, 2)
}

func TestDiscoverAll_SessionLostStops(t *testing.T) {
	f := newFixture(t, map[string]string{practiceURL: practiceListing})
	f.site.Handle(planURL, planListing).ClosesSession()

	items, err := f.disc.DiscoverAll(context.Background(), f.page, []Source{
		{Kind: SourcePractice, URL: practiceURL},
		{Kind: SourcePlan, URL: planURL},
		{Kind: SourcePractice, URL: practiceURL},
	})
	assert.ErrorIs(t, err, schemas.ErrSessionLost)
	assert.Len(t, items, 4)
}

func TestSourcesFromConfig(t *testing.T) {
	srcs := SourcesFromConfig(config.TargetsConfig{
		PlanURL:      planURL,
		PracticeURLs: []string{practiceURL, "  "},
	})
	assert.Equal(t, []Source{{Kind: SourcePractice, URL: practiceURL}, {Kind: SourcePlan, URL: planURL}}, srcs)
}

func TestResolveHref(t *testing.T) {
	base, _ := url.Parse(baseURL)
	tests := []struct {
		href    string
		want    string
		wantErr bool
	}{
		{href: "practice.php?id=1", want: "http://course.test/practice.php?id=1"},
		{href: "../../study.php#top", want: "http://course.test/study.php"},
		{href: "../user/study/content/1_1_x.php", want: "http://course.test/study/content/1_1_x.php"},
		{href: "http://other.test/a", want: "http://other.test/a"},
		{href: "#", wantErr: true},
		{href: "JavaScript:go()", wantErr: true},
		{href: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			got, err := ResolveHref(base, tt.href)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestPlanLabelAndKind(t *testing.T) {
	assert.Equal(t, "Shell脚本", PlanLabel("study/content/2_10_Shell脚本.php"))
	assert.Equal(t, "", PlanLabel("index.php"))
	assert.Equal(t, schemas.UntitledLabel, CleanLabel(" \n\t "))
	assert.Equal(t, "a b", CleanLabel(" a \n b "))

	u, _ := url.Parse("http://course.test/practice_process.php?id=1")
	assert.Equal(t, schemas.PageKindPractice, KindFromURL(u))
	u, _ = url.Parse("http://course.test/study/content/1_1_x.php")
	assert.Equal(t, schemas.PageKindStudy, KindFromURL(u))
}
