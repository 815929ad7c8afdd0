// internal/workflow/survey.go
package workflow

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/studypilot/api/schemas"
	"github.com/xkilldash9x/studypilot/internal/browser"
	"github.com/xkilldash9x/studypilot/internal/resolver"
)

var (
	hrefAssign     = regexp.MustCompile(`window\.location\.href\s*=\s*["']([^"']+)["']`)
	contentIDParam = regexp.MustCompile(`content_id=(\d+)`)
	chapterParam   = regexp.MustCompile(`chapter=([^&'"]+)`)
)

// surveyMarkers identify a survey page by its content.
var surveyMarkers = []string{"survey", "问卷"}

// DeepLink derives the page a finish control's onclick handler would open.
// A literal location assignment wins; otherwise the survey URL is rebuilt
// from the content_id and chapter parameters.
func DeepLink(onclick string, base *url.URL) (string, bool) {
	onclick = strings.ReplaceAll(onclick, "&amp;", "&")
	var target string
	if m := hrefAssign.FindStringSubmatch(onclick); m != nil {
		target = m[1]
	} else {
		id := contentIDParam.FindStringSubmatch(onclick)
		chapter := chapterParam.FindStringSubmatch(onclick)
		if id == nil || chapter == nil {
			return "", false
		}
		target = fmt.Sprintf("survey.php?content_id=%s&chapter=%s", id[1], chapter[1])
	}
	ref, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}

func parseAbsolute(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("URL %q is not absolute", raw)
	}
	return u, nil
}

// onSurvey applies the survey heuristic to the current page.
func (r *itemRun) onSurvey(ctx context.Context) (bool, error) {
	current, err := r.page.URL(ctx)
	if err != nil {
		return false, err
	}
	if strings.Contains(current, "survey.php") {
		return true, nil
	}
	content, err := r.page.Content(ctx)
	if err != nil {
		return false, err
	}
	lower := strings.ToLower(content)
	for _, marker := range surveyMarkers {
		if strings.Contains(lower, marker) {
			return true, nil
		}
	}
	return false, nil
}

// survey sets both answers and submits. A missing answer is a soft failure;
// the item only counts as completed when a submit click landed.
func (r *itemRun) survey(ctx context.Context) (string, bool, error) {
	var answers schemas.SurveyAnswers
	var err error
	if answers.Difficulty, err = r.answer(ctx, resolver.RoleSurveyDifficulty, r.m.cfg.DifficultyValue); err != nil {
		return "", false, err
	}
	if answers.Usefulness, err = r.answer(ctx, resolver.RoleSurveyUsefulness, r.m.cfg.UsefulnessValue); err != nil {
		return "", false, err
	}
	r.res.SurveyAnswers = &answers
	if !answers.Complete() {
		r.logger.Warn("Survey answers incomplete, submitting anyway.",
			zap.Bool("difficulty_set", answers.Difficulty.Set),
			zap.Bool("usefulness_set", answers.Usefulness.Set))
	}

	submit, err := r.m.resolver.Resolve(ctx, r.page, resolver.RoleSurveySubmit, r.m.catalog.Chain(resolver.RoleSurveySubmit))
	if err != nil {
		if fatal(ctx, err) {
			return "", false, err
		}
		r.final, r.reason = schemas.StatusSubmissionFailed, schemas.ReasonActionNotFound
		return "survey submit not found", false, nil
	}
	if err := submit.Click(ctx, r.page, browser.ClickOptions{Force: true}); err != nil {
		if fatal(ctx, err) {
			return "", false, err
		}
		r.logger.Warn("Survey submit click failed.", zap.String("strategy", submit.Strategy.Name), zap.Error(err))
		r.final, r.reason = schemas.StatusSubmissionFailed, schemas.ReasonNone
		return "survey submit click failed", submit.Degraded, nil
	}
	r.logger.Info("Survey submitted.", zap.String("strategy", submit.Strategy.Name), zap.Bool("degraded", submit.Degraded))

	if err := r.waitIdle(ctx, "survey submit"); err != nil {
		return "", false, err
	}
	return "survey submitted via " + submit.Strategy.Name, submit.Degraded, nil
}

// answer walks the role's chain until one strategy's element accepts value.
// When the chain runs dry, every select on the page is tried.
func (r *itemRun) answer(ctx context.Context, role, value string) (schemas.AnswerField, error) {
	field := schemas.AnswerField{Value: value}
	chain := resolver.Bind(r.m.catalog.Chain(role), value)

	for len(chain) > 0 {
		res, err := r.m.resolver.Resolve(ctx, r.page, role, chain)
		if err != nil {
			if fatal(ctx, err) {
				return field, err
			}
			break
		}
		if res.Point == nil {
			err = r.apply(ctx, res.Ref, value)
			if err == nil {
				field.Set, field.Strategy = true, res.Strategy.Name
				r.logger.Info("Survey answer set.", zap.String("role", role), zap.String("strategy", res.Strategy.Name), zap.String("value", value))
				return field, nil
			}
			if fatal(ctx, err) {
				return field, err
			}
			r.logger.Warn("Survey answer strategy failed.", zap.String("role", role), zap.String("strategy", res.Strategy.Name), zap.Error(err))
		}
		chain = chain[res.Index+1:]
	}

	selects, err := r.m.resolver.ResolveAll(ctx, r.page, resolver.RoleSurveyAnySelect, r.m.catalog.Chain(resolver.RoleSurveyAnySelect))
	if err != nil {
		if fatal(ctx, err) {
			return field, err
		}
		r.logger.Warn("Could not set survey answer.", zap.String("role", role))
		return field, nil
	}
	for _, sel := range selects {
		err := r.page.SelectOption(ctx, sel.Ref, value)
		if err == nil {
			field.Set, field.Strategy = true, sel.Strategy.Name
			r.logger.Warn("Survey answer set by the page-wide select fallback.", zap.String("role", role), zap.String("value", value))
			return field, nil
		}
		if fatal(ctx, err) {
			return field, err
		}
	}
	r.logger.Warn("Could not set survey answer.", zap.String("role", role))
	return field, nil
}

// apply checks radios and checkboxes and selects the option on anything else.
func (r *itemRun) apply(ctx context.Context, ref browser.ElementRef, value string) error {
	typ, _, err := r.page.Attribute(ctx, ref, "type")
	if err != nil {
		return err
	}
	switch strings.ToLower(typ) {
	case "radio", "checkbox":
		return r.page.Click(ctx, ref, browser.ClickOptions{Force: true})
	}
	return r.page.SelectOption(ctx, ref, value)
}
