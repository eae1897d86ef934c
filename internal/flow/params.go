package flow

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Quackstro/opencore-sub001/internal/models"
)

var (
	placeholderPattern = regexp.MustCompile(`\{\{\s*(input|vars\.[^{}\s]+)\s*\}\}`)
	listSeparator      = regexp.MustCompile(`[,;]+`)
)

// resolveParams substitutes placeholders in a tool call's parameter map. A value that is
// exactly one placeholder keeps the variable's type (a multi-choice selection resolves to
// a []string); anything else is interpolated as text.
func resolveParams(paramMap map[string]string, input string, st *models.WorkflowInstanceState) map[string]any {
	out := make(map[string]any, len(paramMap))
	for name, ref := range paramMap {
		switch key, isVar := models.IsVarRef(ref); {
		case ref == models.InputRef:
			out[name] = input
		case isVar && !strings.ContainsAny(key, "{}"):
			if sel, ok := st.Selections[key]; ok {
				out[name] = slices.Clone(sel)
			} else {
				out[name] = st.Variables[key]
			}
		default:
			out[name] = interpolate(ref, input, st, true)
		}
	}
	return out
}

// interpolate replaces {{vars.x}} references with captured values, and {{input}} with
// input when withInput is set. Unknown variables become empty strings.
func interpolate(s, input string, st *models.WorkflowInstanceState, withInput bool) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		ref := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(m, "{{"), "}}"))
		if ref == "input" {
			if withInput {
				return input
			}
			return m
		}
		return st.Variables[strings.TrimPrefix(ref, "vars.")]
	})
}

// checkText applies a text-input rule. It returns the message to show when text fails.
func checkText(rule *models.ValidationRule, text string) (string, bool) {
	if rule == nil {
		return "", true
	}
	fail := func(def string) (string, bool) {
		if rule.ErrorMessage != "" {
			return rule.ErrorMessage, false
		}
		return def, false
	}
	n := utf8.RuneCountInString(text)
	if rule.MinLength > 0 && n < rule.MinLength {
		return fail(fmt.Sprintf("Please enter at least %d characters.", rule.MinLength))
	}
	if rule.MaxLength > 0 && n > rule.MaxLength {
		return fail(fmt.Sprintf("Please enter at most %d characters.", rule.MaxLength))
	}
	if rule.Pattern != "" {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil || !re.MatchString(text) {
			return fail("That doesn't look right. Please try again.")
		}
	}
	return "", true
}

// matchOption finds the option a text reply refers to: by id, by 1-based number or by
// label, ignoring case.
func matchOption(options []models.Option, reply string) (models.Option, bool) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return models.Option{}, false
	}
	if n, err := strconv.Atoi(reply); err == nil {
		if n >= 1 && n <= len(options) {
			return options[n-1], true
		}
		return models.Option{}, false
	}
	for _, o := range options {
		if strings.EqualFold(o.ID, reply) || strings.EqualFold(o.Label, reply) {
			return o, true
		}
	}
	return models.Option{}, false
}

// matchConfirm maps a confirm answer to "yes" or "no".
func matchConfirm(step *models.StepDefinition, reply string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(reply)) {
	case "yes", "y", "1":
		return models.ActionIDYes, true
	case "no", "n", "2":
		return models.ActionIDNo, true
	}
	for _, o := range step.Options {
		if (o.ID == models.ActionIDYes || o.ID == models.ActionIDNo) && strings.EqualFold(o.Label, strings.TrimSpace(reply)) {
			return o.ID, true
		}
	}
	return "", false
}

// matchOptionList parses a multi-choice text reply such as "1, 3" or "1 3" into option ids.
func matchOptionList(options []models.Option, reply string) ([]string, bool) {
	var ids []string
	add := func(o models.Option) {
		if !slices.Contains(ids, o.ID) {
			ids = append(ids, o.ID)
		}
	}
	for _, part := range listSeparator.Split(reply, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if o, ok := matchOption(options, part); ok {
			add(o)
			continue
		}
		for _, word := range strings.Fields(part) {
			o, ok := matchOption(options, word)
			if !ok {
				return nil, false
			}
			add(o)
		}
	}
	return ids, len(ids) > 0
}

// resolveTarget finds the step an answer leads to: the matching transition, then the
// default transition, then next.
func resolveTarget(step *models.StepDefinition, key string) (string, bool) {
	if step.Transitions != nil {
		if t, ok := step.Transitions[key]; ok {
			return t, true
		}
		if t, ok := step.Transitions[models.DefaultTransition]; ok {
			return t, true
		}
		return "", false
	}
	if step.Next != "" {
		return step.Next, true
	}
	return "", false
}

// isAutoStep reports whether a step runs its tool on entry instead of waiting for input.
func isAutoStep(step *models.StepDefinition) bool {
	return step.Type == models.KindInfo && step.ToolCall != nil && !step.Terminal
}
