// File: internal/config/flatfile.go
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// DefaultCredentialsFile is the flat KEY=VALUE file read when no path is given.
const DefaultCredentialsFile = "config.txt"

type flatKind int

const (
	flatString flatKind = iota
	flatList
	flatDuration
	flatInt
	flatBool
)

type flatKey struct {
	target string
	kind   flatKind
}

// flatKeys maps the recognised flat keys onto their structured counterparts.
var flatKeys = map[string]flatKey{
	"USER_NAME":        {"auth.username", flatString},
	"PASSWORD":         {"auth.password", flatString},
	"BASE_URL":         {"targets.base_url", flatString},
	"LOGIN_URL":        {"auth.login_url", flatString},
	"PLAN_URL":         {"targets.plan_url", flatString},
	"PRACTICE_URLS":    {"targets.practice_urls", flatList},
	"NAV_RETRIES":      {"workflow.navigation_retries", flatInt},
	"NAV_TIMEOUT":      {"workflow.navigation_timeout", flatDuration},
	"READY_TIMEOUT":    {"workflow.ready_timeout", flatDuration},
	"SETTLE_TIMEOUT":   {"workflow.settle_timeout", flatDuration},
	"STRATEGY_TIMEOUT": {"resolver.strategy_timeout", flatDuration},
	"STUDY_DWELL":      {"workflow.study_dwell", flatDuration},
	"PACING_MIN":       {"pipeline.pacing_min", flatDuration},
	"PACING_MAX":       {"pipeline.pacing_max", flatDuration},
	"FLUSH_EVERY":      {"pipeline.flush_every", flatInt},
	"HEADLESS":         {"browser.headless", flatBool},
}

// LoadFlatFile reads a KEY=VALUE file (with # comments, optional quotes and
// booleans) and applies every recognised key on top of v. A missing file at the
// default location is not an error; a missing explicit path is.
func LoadFlatFile(v *viper.Viper, path string, explicit bool) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("could not expand credentials path %q: %w", path, err)
	}
	f, err := os.Open(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("could not read credentials file %q: %w", expanded, err)
	}
	defer f.Close()

	values, err := parseFlat(f)
	if err != nil {
		return fmt.Errorf("could not parse credentials file %q: %w", expanded, err)
	}
	return ApplyFlat(v, values)
}

// parseFlat splits each line on its first '='. Only lines starting with '#'
// are comments and values are not expanded, so '#' and '$' inside a password
// survive. ApplyFlat strips the surrounding quotes.
func parseFlat(r io.Reader) (map[string]string, error) {
	values := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.ToUpper(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return values, sc.Err()
}

// ApplyFlat maps flat keys onto the structured configuration. Unknown keys are ignored.
// Durations accept Go syntax ("20s") or a bare number of seconds. Values are merged
// into the config-file layer, so environment variables and flags still win.
func ApplyFlat(v *viper.Viper, values map[string]string) error {
	merged := make(map[string]any)
	set := func(target string, val any) {
		section, leaf, _ := strings.Cut(target, ".")
		sub, ok := merged[section].(map[string]any)
		if !ok {
			sub = make(map[string]any)
			merged[section] = sub
		}
		sub[leaf] = val
	}

	for name, raw := range values {
		key, ok := flatKeys[strings.ToUpper(strings.TrimSpace(name))]
		if !ok {
			continue
		}
		raw = unquote(strings.TrimSpace(raw))

		switch key.kind {
		case flatString:
			set(key.target, raw)
		case flatList:
			var items []string
			for _, part := range strings.Split(raw, ",") {
				if p := strings.TrimSpace(part); p != "" {
					items = append(items, p)
				}
			}
			set(key.target, items)
		case flatInt:
			n, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("%s: expected an integer, got %q", name, raw)
			}
			set(key.target, n)
		case flatDuration:
			if secs, err := strconv.ParseFloat(raw, 64); err == nil {
				set(key.target, fmt.Sprintf("%gs", secs))
				continue
			}
			if _, err := time.ParseDuration(raw); err != nil {
				return fmt.Errorf("%s: expected a duration, got %q", name, raw)
			}
			set(key.target, raw)
		case flatBool:
			b, err := strconv.ParseBool(strings.ToLower(raw))
			if err != nil {
				return fmt.Errorf("%s: expected a boolean, got %q", name, raw)
			}
			set(key.target, b)
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return v.MergeConfigMap(merged)
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
