package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

// HaiConfigError reports a problem on one line of a .hai.config file.
type HaiConfigError struct {
	Line int
	Msg  string
}

func (e *HaiConfigError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// haiSetter assigns one leaf of the .hai.config schema.
type haiSetter func(cfg *models.HaiConfig, value string)

// haiSchema lists every accepted dotted key.
var haiSchema = map[string]haiSetter{
	"name": func(c *models.HaiConfig, v string) { c.Name = v },

	"langfuse.apiUrl":    func(c *models.HaiConfig, v string) { langfuse(c).APIURL = v },
	"langfuse.apiKey":    func(c *models.HaiConfig, v string) { langfuse(c).APIKey = v },
	"langfuse.publicKey": func(c *models.HaiConfig, v string) { langfuse(c).PublicKey = v },

	"posthog.url":    func(c *models.HaiConfig, v string) { posthog(c).URL = v },
	"posthog.apiKey": func(c *models.HaiConfig, v string) { posthog(c).APIKey = v },

	"cormatrix.baseURL":     func(c *models.HaiConfig, v string) { cormatrix(c).BaseURL = v },
	"cormatrix.token":       func(c *models.HaiConfig, v string) { cormatrix(c).Token = v },
	"cormatrix.workspaceId": func(c *models.HaiConfig, v string) { cormatrix(c).WorkspaceID = v },
}

var haiSections = map[string]bool{"langfuse": true, "posthog": true, "cormatrix": true}

func langfuse(c *models.HaiConfig) *models.LangfuseConfig {
	if c.Langfuse == nil {
		c.Langfuse = &models.LangfuseConfig{}
	}
	return c.Langfuse
}

func posthog(c *models.HaiConfig) *models.PostHogConfig {
	if c.PostHog == nil {
		c.PostHog = &models.PostHogConfig{}
	}
	return c.PostHog
}

func cormatrix(c *models.HaiConfig) *models.CorMatrixConfig {
	if c.CorMatrix == nil {
		c.CorMatrix = &models.CorMatrixConfig{}
	}
	return c.CorMatrix
}

// HaiConfigKeys returns the accepted dotted keys in sorted order.
func HaiConfigKeys() []string {
	keys := make([]string, 0, len(haiSchema))
	for k := range haiSchema {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseHaiConfig parses the key=value text of a .hai.config file.
//
//	file    = { line }
//	line    = [ comment | entry ] newline
//	entry   = key "=" value
//	key     = segment { "." segment }
//	segment = 1*( letter | digit | "_" | "-" )
//	value   = rest of line, trimmed; may contain "="
//
// A repeated key keeps the last value.
func ParseHaiConfig(content string) (*models.HaiConfig, error) {
	cfg := &models.HaiConfig{}
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	for i, raw := range lines {
		p := &haiLineParser{line: i + 1, src: raw}
		key, value, ok, err := p.parseLine()
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := assignHaiKey(cfg, key, value, i+1); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func assignHaiKey(cfg *models.HaiConfig, key []string, value string, line int) error {
	dotted := strings.Join(key, ".")
	if set, ok := haiSchema[dotted]; ok {
		set(cfg, value)
		return nil
	}
	if len(key) == 1 && haiSections[key[0]] {
		return &HaiConfigError{Line: line, Msg: fmt.Sprintf("%q is a section and cannot hold a value", dotted)}
	}
	if len(key) > 1 && key[0] == "name" {
		return &HaiConfigError{Line: line, Msg: fmt.Sprintf("%q: name is a value and cannot hold keys", dotted)}
	}
	return &HaiConfigError{Line: line, Msg: fmt.Sprintf("unknown key %q", dotted)}
}

// haiLineParser is a recursive-descent parser over a single line.
type haiLineParser struct {
	line int
	src  string
	pos  int
}

func (p *haiLineParser) errorf(format string, args ...any) error {
	return &HaiConfigError{Line: p.line, Msg: fmt.Sprintf(format, args...)}
}

func (p *haiLineParser) peek() (byte, bool) {
	if p.pos >= len(p.src) {
		return 0, false
	}
	return p.src[p.pos], true
}

func (p *haiLineParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

// parseLine returns ok=false for blank and comment lines.
func (p *haiLineParser) parseLine() (key []string, value string, ok bool, err error) {
	p.skipSpace()
	c, more := p.peek()
	if !more || c == '#' {
		return nil, "", false, nil
	}
	key, value, err = p.parseEntry()
	if err != nil {
		return nil, "", false, err
	}
	return key, value, true, nil
}

func (p *haiLineParser) parseEntry() ([]string, string, error) {
	key, err := p.parseKey()
	if err != nil {
		return nil, "", err
	}
	p.skipSpace()
	c, more := p.peek()
	if !more || c != '=' {
		return nil, "", p.errorf("expected '=' after key %q", strings.Join(key, "."))
	}
	p.pos++
	return key, p.parseValue(), nil
}

func (p *haiLineParser) parseKey() ([]string, error) {
	seg, err := p.parseSegment()
	if err != nil {
		return nil, err
	}
	key := []string{seg}
	for {
		c, more := p.peek()
		if !more || c != '.' {
			return key, nil
		}
		p.pos++
		seg, err := p.parseSegment()
		if err != nil {
			return nil, err
		}
		key = append(key, seg)
	}
}

func (p *haiLineParser) parseSegment() (string, error) {
	start := p.pos
	for p.pos < len(p.src) && isHaiKeyChar(p.src[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		if c, more := p.peek(); more && c != '=' && c != '.' {
			return "", p.errorf("unexpected character %q in key", c)
		}
		return "", p.errorf("empty key segment")
	}
	return p.src[start:p.pos], nil
}

func (p *haiLineParser) parseValue() string {
	v := strings.TrimSpace(p.src[p.pos:])
	p.pos = len(p.src)
	return v
}

func isHaiKeyChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}
