package governance

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the statement about to be sent to the query engine.
type Request struct {
	Statement string
	Table     string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates statements against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine allows statements that start with an allowed keyword
// and match none of the denied patterns. String literals and comments are
// removed before matching so that values like 'deleted' do not trip a rule.
type DefaultPolicyEngine struct {
	AllowedLeads []string
	DeniedRegex  []*regexp.Regexp
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		AllowedLeads: make([]string, 0),
		DeniedRegex:  make([]*regexp.Regexp, 0),
	}
}

// NewReadOnlyPolicy allows single SELECT/WITH statements and nothing that writes.
func NewReadOnlyPolicy() *DefaultPolicyEngine {
	e := NewDefaultPolicyEngine()
	e.AllowLead("select")
	e.AllowLead("with")
	_ = e.DenyPattern(`(?i)\b(insert|update|delete|drop|alter|create|replace|truncate|attach|detach|pragma|vacuum|reindex)\b`)
	_ = e.DenyPattern(`;\s*\S`)
	return e
}

func (e *DefaultPolicyEngine) AllowLead(keyword string) {
	e.AllowedLeads = append(e.AllowedLeads, strings.ToLower(keyword))
}

func (e *DefaultPolicyEngine) DenyPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	stmt := strings.TrimSpace(stripLiterals(req.Statement))
	if stmt == "" {
		return Result{Effect: EffectDeny, Reason: "empty statement"}, nil
	}

	if len(e.AllowedLeads) > 0 {
		lead := strings.ToLower(strings.TrimLeft(stmt, "( \t\r\n"))
		allowed := false
		for _, kw := range e.AllowedLeads {
			if strings.HasPrefix(lead, kw) {
				allowed = true
				break
			}
		}
		if !allowed {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("only %s statements are allowed", strings.ToUpper(strings.Join(e.AllowedLeads, "/"))),
			}, nil
		}
	}

	for _, re := range e.DeniedRegex {
		if m := re.FindString(stmt); m != "" {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("statement matches restricted pattern %q", strings.TrimSpace(m)),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}

var (
	// quoted matches string literals and quoted identifiers in one pass so
	// a quote character inside one never opens the other.
	quoted       = regexp.MustCompile(`'(?:[^']|'')*'|"(?:[^"]|"")*"|` + "`(?:[^`]|``)*`" + `|\[[^\]]*\]`)
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// stripLiterals blanks comments, string literals and quoted identifiers
// so that only SQL keywords are left for the deny patterns.
func stripLiterals(s string) string {
	s = blockComment.ReplaceAllString(s, " ")
	s = lineComment.ReplaceAllString(s, " ")
	s = quoted.ReplaceAllStringFunc(s, func(m string) string {
		switch m[0] {
		case '\'':
			return "''"
		default:
			return `""`
		}
	})
	s = strings.TrimSpace(s)
	return strings.TrimSuffix(s, ";")
}
