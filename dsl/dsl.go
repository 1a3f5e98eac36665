package dsl

import (
	"strconv"
	"strings"
	"time"

	"covm/vm"
)

// LifecycleConfig is the governance policy extracted from `governance { ... }`
// / `template "x" { ... }` / `governance use "x"` blocks in DSL source,
// mirroring the original compiler's LifecycleConfig.
type LifecycleConfig struct {
	Quorum            *float64
	Threshold         *float64
	MinDeliberation   *time.Duration
	ExpiresIn         *time.Duration
	RequiredRoles     []string
}

// mergeFrom fills only the fields that are currently unset, matching the
// original's "template options apply first, inline block overrides" rule:
// direct governance-block assignments always overwrite, while merging in a
// template only fills blanks.
func (c *LifecycleConfig) mergeFrom(other LifecycleConfig) {
	if c.Quorum == nil {
		c.Quorum = other.Quorum
	}
	if c.Threshold == nil {
		c.Threshold = other.Threshold
	}
	if c.MinDeliberation == nil {
		c.MinDeliberation = other.MinDeliberation
	}
	if c.ExpiresIn == nil {
		c.ExpiresIn = other.ExpiresIn
	}
	if len(c.RequiredRoles) == 0 {
		c.RequiredRoles = append([]string(nil), other.RequiredRoles...)
	}
}

type rawLine struct {
	indent int
	text   string
	lineNo int
}

type parser struct {
	lines     []rawLine
	templates map[string]LifecycleConfig
}

// Parse turns DSL source text into an operation tree and the lifecycle
// configuration accumulated from any governance/template directives.
func Parse(source string) ([]vm.Op, LifecycleConfig, error) {
	p := &parser{templates: make(map[string]LifecycleConfig)}
	for i, raw := range strings.Split(source, "\n") {
		trimmed := strings.TrimRight(raw, " \t\r")
		stripped := strings.TrimSpace(trimmed)
		if stripped == "" || strings.HasPrefix(stripped, "#") {
			continue
		}
		p.lines = append(p.lines, rawLine{indent: indentOf(trimmed), text: stripped, lineNo: i + 1})
	}

	var cfg LifecycleConfig
	idx := 0
	ops, err := p.parseTop(&idx, &cfg)
	if err != nil {
		return nil, LifecycleConfig{}, err
	}
	return ops, cfg, nil
}

// parseTop parses the sequence of top-level (indent 0) statements:
// template defs, governance blocks/use directives, and ordinary ops.
func (p *parser) parseTop(idx *int, cfg *LifecycleConfig) ([]vm.Op, error) {
	var ops []vm.Op
	for *idx < len(p.lines) {
		ln := p.lines[*idx]
		if ln.indent != 0 {
			return nil, errUnexpectedIndent(ln.lineNo)
		}

		switch {
		case strings.HasPrefix(ln.text, "template ") && strings.HasSuffix(ln.text, "{"):
			name, err := p.templateName(ln)
			if err != nil {
				return nil, err
			}
			*idx++
			tcfg, err := p.parseGovernanceBody(idx)
			if err != nil {
				return nil, err
			}
			p.templates[name] = tcfg

		case ln.text == "governance {":
			*idx++
			gcfg, err := p.parseGovernanceBody(idx)
			if err != nil {
				return nil, err
			}
			cfg.overwriteFrom(gcfg)

		case strings.HasPrefix(ln.text, "governance use "):
			name, err := p.useTemplateName(ln)
			if err != nil {
				return nil, err
			}
			tcfg, ok := p.templates[name]
			if !ok {
				return nil, errUnknownTemplate(ln.lineNo, name)
			}
			cfg.mergeFrom(tcfg)
			*idx++

		default:
			op, consumed, err := p.parseStatement(idx, cfg)
			if err != nil {
				return nil, err
			}
			if consumed {
				ops = append(ops, op)
			}
		}
	}
	return ops, nil
}

// overwriteFrom applies an inline governance block's fields unconditionally,
// matching the original's direct-assignment semantics (as opposed to
// mergeFrom's fill-blanks-only semantics used for `governance use`).
func (c *LifecycleConfig) overwriteFrom(other LifecycleConfig) {
	if other.Quorum != nil {
		c.Quorum = other.Quorum
	}
	if other.Threshold != nil {
		c.Threshold = other.Threshold
	}
	if other.MinDeliberation != nil {
		c.MinDeliberation = other.MinDeliberation
	}
	if other.ExpiresIn != nil {
		c.ExpiresIn = other.ExpiresIn
	}
	if len(other.RequiredRoles) > 0 {
		c.RequiredRoles = append([]string(nil), other.RequiredRoles...)
	}
}

func (p *parser) templateName(ln rawLine) (string, error) {
	parts := splitFields(ln.text)
	if len(parts) < 3 {
		return "", errSyntax(ln.lineNo, "invalid template definition")
	}
	return unquote(parts[1]), nil
}

func (p *parser) useTemplateName(ln rawLine) (string, error) {
	parts := splitFields(ln.text)
	if len(parts) < 3 {
		return "", errSyntax(ln.lineNo, "invalid governance use directive")
	}
	return unquote(parts[2]), nil
}

// parseGovernanceBody consumes lines until one whose text is a bare "}"
// (at any indent), interpreting each as a governance/template option.
func (p *parser) parseGovernanceBody(idx *int) (LifecycleConfig, error) {
	var cfg LifecycleConfig
	for *idx < len(p.lines) {
		ln := p.lines[*idx]
		if ln.text == "}" {
			*idx++
			return cfg, nil
		}
		parts := splitFields(ln.text)
		if len(parts) == 0 {
			*idx++
			continue
		}
		switch parts[0] {
		case "quorumthreshold":
			if len(parts) < 2 {
				return cfg, errMissingParameter(ln.lineNo, "quorumthreshold")
			}
			f, err := strconv.ParseFloat(parts[1], 64)
			if err != nil {
				return cfg, errInvalidParameterValue(ln.lineNo, "quorumthreshold", parts[1])
			}
			cfg.Quorum = &f
		case "votethreshold":
			if len(parts) < 2 {
				return cfg, errMissingParameter(ln.lineNo, "votethreshold")
			}
			f, err := strconv.ParseFloat(parts[1], 64)
			if err != nil {
				return cfg, errInvalidParameterValue(ln.lineNo, "votethreshold", parts[1])
			}
			cfg.Threshold = &f
		case "mindeliberation":
			if len(parts) < 2 {
				return cfg, errMissingParameter(ln.lineNo, "mindeliberation")
			}
			d, err := parseDuration(parts[1])
			if err != nil {
				return cfg, errInvalidParameterValue(ln.lineNo, "mindeliberation", parts[1])
			}
			cfg.MinDeliberation = &d
		case "expiresin":
			if len(parts) < 2 {
				return cfg, errMissingParameter(ln.lineNo, "expiresin")
			}
			d, err := parseDuration(parts[1])
			if err != nil {
				return cfg, errInvalidParameterValue(ln.lineNo, "expiresin", parts[1])
			}
			cfg.ExpiresIn = &d
		case "require_role":
			if len(parts) < 2 {
				return cfg, errMissingParameter(ln.lineNo, "require_role")
			}
			cfg.RequiredRoles = append(cfg.RequiredRoles, unquote(parts[1]))
		default:
			return cfg, errUnknownCommand(ln.lineNo, parts[0])
		}
		*idx++
	}
	return cfg, errSyntax(0, "unterminated governance/template block")
}

// parseStatement parses one top-or-nested-level statement: a control-flow
// block header (consuming its nested body) or a simple one-line op.
// consumed is true for every statement parsed without error, including
// mindeliberation / expiresin / require_role, which update cfg and also
// produce a runtime Op; it is false only alongside a non-nil error.
func (p *parser) parseStatement(idx *int, cfg *LifecycleConfig) (vm.Op, bool, error) {
	ln := p.lines[*idx]
	baseIndent := ln.indent

	switch {
	case ln.text == "if:":
		*idx++
		op, err := p.parseIf(idx, baseIndent, ln.lineNo)
		return op, true, err
	case ln.text == "while:":
		*idx++
		op, err := p.parseWhile(idx, baseIndent, ln.lineNo)
		return op, true, err
	case ln.text == "match:":
		*idx++
		op, err := p.parseMatch(idx, baseIndent, ln.lineNo)
		return op, true, err
	case ln.text == "ifpassed:":
		*idx++
		body, err := p.parseBody(idx, baseIndent)
		if err != nil {
			return vm.Op{}, false, err
		}
		return vm.Op{Kind: vm.OpIfPassed, Then: body}, true, nil
	case ln.text == "else:" && baseIndent == 0:
		// Standalone top-level else with no matching if: a no-op marker,
		// per spec.md's note that a bare Else reaching the interpreter is
		// inert.
		*idx++
		return vm.Op{Kind: vm.OpElse}, true, nil
	case strings.HasPrefix(ln.text, "loop ") && strings.HasSuffix(ln.text, ":"):
		op, err := p.parseLoop(idx, baseIndent)
		return op, true, err
	case strings.HasPrefix(ln.text, "def ") && strings.HasSuffix(ln.text, ":"):
		op, err := p.parseDef(idx, baseIndent)
		return op, true, err
	case strings.HasSuffix(ln.text, ":"):
		return vm.Op{}, false, errUnknownBlockType(ln.lineNo, ln.text)
	default:
		*idx++
		op, err := parseSimpleLine(ln, cfg)
		return op, true, err
	}
}

// parseBody consumes a block's nested statements: every line indented more
// than parentIndent, at whatever indent the first such line establishes.
func (p *parser) parseBody(idx *int, parentIndent int) ([]vm.Op, error) {
	if *idx >= len(p.lines) || p.lines[*idx].indent <= parentIndent {
		return nil, nil
	}
	childIndent := p.lines[*idx].indent
	var ops []vm.Op
	for *idx < len(p.lines) {
		ln := p.lines[*idx]
		if ln.indent < childIndent {
			break
		}
		if ln.indent != childIndent {
			return nil, errUnexpectedIndent(ln.lineNo)
		}
		var cfg LifecycleConfig // nested blocks don't carry governance directives
		op, consumed, err := p.parseStatement(idx, &cfg)
		if err != nil {
			return nil, err
		}
		if consumed {
			ops = append(ops, op)
		}
	}
	return ops, nil
}

// expectLabel consumes a nested sub-header line (e.g. "cond:", "then:",
// "else:", "body:", "value:") at the given indent and returns its body.
func (p *parser) expectLabel(idx *int, indent int, label string) ([]vm.Op, bool, error) {
	if *idx >= len(p.lines) {
		return nil, false, nil
	}
	ln := p.lines[*idx]
	if ln.indent != indent || ln.text != label {
		return nil, false, nil
	}
	*idx++
	body, err := p.parseBody(idx, indent)
	return body, true, err
}

func (p *parser) parseIf(idx *int, ifIndent, lineNo int) (vm.Op, error) {
	if *idx >= len(p.lines) || p.lines[*idx].indent <= ifIndent {
		return vm.Op{}, errSyntax(lineNo, "if: requires a nested cond:/then: body")
	}
	subIndent := p.lines[*idx].indent
	cond, ok, err := p.expectLabel(idx, subIndent, "cond:")
	if err != nil {
		return vm.Op{}, err
	}
	if !ok {
		return vm.Op{}, errSyntax(lineNo, "if: missing cond: block")
	}
	then, ok, err := p.expectLabel(idx, subIndent, "then:")
	if err != nil {
		return vm.Op{}, err
	}
	if !ok {
		return vm.Op{}, errSyntax(lineNo, "if: missing then: block")
	}
	elseOps, ok, err := p.expectLabel(idx, subIndent, "else:")
	if err != nil {
		return vm.Op{}, err
	}
	op := vm.Op{Kind: vm.OpIf, Condition: cond, Then: then}
	if ok {
		op.ElseOps = elseOps
	}
	return op, nil
}

func (p *parser) parseWhile(idx *int, whileIndent, lineNo int) (vm.Op, error) {
	if *idx >= len(p.lines) || p.lines[*idx].indent <= whileIndent {
		return vm.Op{}, errSyntax(lineNo, "while: requires a nested cond:/body: body")
	}
	subIndent := p.lines[*idx].indent
	cond, ok, err := p.expectLabel(idx, subIndent, "cond:")
	if err != nil {
		return vm.Op{}, err
	}
	if !ok {
		return vm.Op{}, errSyntax(lineNo, "while: missing cond: block")
	}
	body, ok, err := p.expectLabel(idx, subIndent, "body:")
	if err != nil {
		return vm.Op{}, err
	}
	if !ok {
		return vm.Op{}, errSyntax(lineNo, "while: missing body: block")
	}
	return vm.Op{Kind: vm.OpWhile, Condition: cond, Body: body}, nil
}

func (p *parser) parseLoop(idx *int, loopIndent int) (vm.Op, error) {
	ln := p.lines[*idx]
	parts := splitFields(strings.TrimSuffix(ln.text, ":"))
	if len(parts) < 2 {
		return vm.Op{}, errMissingParameter(ln.lineNo, "loop")
	}
	count, err := strconv.Atoi(parts[1])
	if err != nil {
		return vm.Op{}, errInvalidParameterValue(ln.lineNo, "loop", parts[1])
	}
	*idx++
	body, err := p.parseBody(idx, loopIndent)
	if err != nil {
		return vm.Op{}, err
	}
	return vm.Op{Kind: vm.OpLoop, Count: count, Body: body}, nil
}

func (p *parser) parseDef(idx *int, defIndent int) (vm.Op, error) {
	ln := p.lines[*idx]
	header := strings.TrimSuffix(ln.text, ":")
	open := strings.Index(header, "(")
	closeParen := strings.LastIndex(header, ")")
	if open < 0 || closeParen < open {
		return vm.Op{}, errSyntax(ln.lineNo, "def: malformed parameter list")
	}
	name := strings.TrimSpace(strings.TrimPrefix(header[:open], "def"))
	var params []string
	for _, p := range strings.Split(header[open+1:closeParen], ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			params = append(params, p)
		}
	}
	*idx++
	body, err := p.parseBody(idx, defIndent)
	if err != nil {
		return vm.Op{}, err
	}
	return vm.Op{Kind: vm.OpDef, Name: name, Params: params, Body: body}, nil
}

func (p *parser) parseMatch(idx *int, matchIndent, lineNo int) (vm.Op, error) {
	if *idx >= len(p.lines) || p.lines[*idx].indent <= matchIndent {
		return vm.Op{}, errSyntax(lineNo, "match: requires a nested value:/case N: body")
	}
	subIndent := p.lines[*idx].indent
	value, ok, err := p.expectLabel(idx, subIndent, "value:")
	if err != nil {
		return vm.Op{}, err
	}
	if !ok {
		return vm.Op{}, errSyntax(lineNo, "match: missing value: block")
	}

	var cases []vm.MatchCase
	var defaultOps []vm.Op
	for *idx < len(p.lines) {
		ln := p.lines[*idx]
		if ln.indent != subIndent {
			break
		}
		if ln.text == "default:" {
			*idx++
			defaultOps, err = p.parseBody(idx, subIndent)
			if err != nil {
				return vm.Op{}, err
			}
			continue
		}
		if strings.HasPrefix(ln.text, "case ") && strings.HasSuffix(ln.text, ":") {
			parts := splitFields(strings.TrimSuffix(ln.text, ":"))
			if len(parts) < 2 {
				return vm.Op{}, errMissingParameter(ln.lineNo, "case")
			}
			literal, err := strconv.ParseFloat(parts[1], 64)
			if err != nil {
				return vm.Op{}, errInvalidParameterValue(ln.lineNo, "case", parts[1])
			}
			*idx++
			body, err := p.parseBody(idx, subIndent)
			if err != nil {
				return vm.Op{}, err
			}
			cases = append(cases, vm.MatchCase{Literal: literal, Ops: body})
			continue
		}
		break
	}
	return vm.Op{Kind: vm.OpMatch, ValueOps: value, Cases: cases, Default: defaultOps}, nil
}
