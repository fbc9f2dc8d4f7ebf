// Package pathmap converts a logical path (LFN), as presented by a client,
// into a (pool, object) physical name pair (PFN), using an ordered set of
// regex rules loaded from an xrootd-style storage.xml document, falling
// back to hard-coded splitting logic when no rule matches or no rule file
// was configured.
package pathmap

import (
	"encoding/xml"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/snafus/cephsum-server/internal/errs"
)

// Rule is a single compiled lfn-to-pfn mapping: a path-match regex and a
// result template containing $1, $2, ... placeholders for capture groups.
type Rule struct {
	Pattern *regexp.Regexp
	Result  string
}

// storageDoc and lfnToPFN mirror just enough of the xrootd storage.xml
// schema to extract <lfn-to-pfn protocol="direct" path-match="..."
// result="..."/> elements; unrelated elements and attributes are ignored.
type storageDoc struct {
	XMLName  xml.Name   `xml:"storage"`
	Mappings []lfnToPFN `xml:"lfn-to-pfn"`
}

type lfnToPFN struct {
	Protocol  string `xml:"protocol,attr"`
	PathMatch string `xml:"path-match,attr"`
	Result    string `xml:"result,attr"`
}

var nominalPattern = regexp.MustCompile(`^/*([A-Za-z0-9_-]+):(.*)`)
var cmsPattern = regexp.MustCompile(`^/*(store.*)`)
var placeholderPattern = regexp.MustCompile(`\$[1-9][0-9]*`)

// Parser maps LFNs to (pool, object) pairs using an ordered rule set, with
// a built-in fallback splitter when no rule applies.
type Parser struct {
	Rules []Rule
	// Source records where the rules were loaded from, for logging/String.
	Source string
	// StripOpaque, when true (the default), strips a trailing "?..."
	// opaque-info suffix (xrootd CGI info) from the mapped object name.
	StripOpaque bool
}

// New returns a Parser with no rules configured; Parse always falls back
// to the hard-coded splitter.
func New() *Parser {
	return &Parser{Source: "none", StripOpaque: true}
}

// FromFile loads lfn-to-pfn rules from an xrootd storage.xml file. Only
// elements with protocol="direct" contribute a rule, in document order.
func FromFile(path string) (*Parser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotFound, "read path-mapping xml", err)
	}
	p, err := FromBytes(data)
	if err != nil {
		return nil, err
	}
	p.Source = path
	return p, nil
}

// FromBytes loads lfn-to-pfn rules from an in-memory storage.xml document.
func FromBytes(data []byte) (*Parser, error) {
	var doc storageDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.KindBadPath, "parse path-mapping xml", err)
	}
	var rules []Rule
	for _, m := range doc.Mappings {
		if m.Protocol != "direct" {
			continue
		}
		re, err := regexp.Compile(m.PathMatch)
		if err != nil {
			return nil, errs.Wrap(errs.KindBadPath, "compile path-match regex: "+m.PathMatch, err)
		}
		rules = append(rules, Rule{Pattern: re, Result: m.Result})
	}
	return &Parser{Rules: rules, Source: "string", StripOpaque: true}, nil
}

// Binding is the physical name a path resolves to.
type Binding struct {
	Pool   string
	Object string
}

// Parse converts an LFN into a (pool, object) Binding.
//
// The first rule whose pattern matches wins; its result template is
// expanded by substituting $1, $2, ... with the corresponding capture
// groups (single pass, left to right). The expanded result is then split
// into pool and object by the nominal "pool:object" pattern, exactly as
// the original does even when a rule already matched — a rule's result is
// expected to still contain a "pool:object"-shaped string.
//
// If no rule matches (or none are configured), the path is split directly
// by the fallback splitter: a CMS-style "store..." path maps to pool
// "cms"; otherwise the nominal "pool:object" pattern applies.
func (p *Parser) Parse(pathname string) (Binding, error) {
	expanded, matched, err := p.applyRules(pathname)
	if err != nil {
		return Binding{}, err
	}

	var pool, object string
	if matched {
		m := nominalPattern.FindStringSubmatch(expanded)
		if m == nil {
			return Binding{}, errs.New(errs.KindBadPath, "mapped result is not pool:object shaped: "+expanded)
		}
		pool, object = m[1], m[2]
	} else {
		pool, object, err = fallbackSplit(expanded)
		if err != nil {
			return Binding{}, err
		}
	}

	if p.StripOpaque {
		object = stripOpaque(object)
	}
	return Binding{Pool: pool, Object: object}, nil
}

func (p *Parser) applyRules(pathname string) (result string, matched bool, err error) {
	for _, rule := range p.Rules {
		m := rule.Pattern.FindStringSubmatch(pathname)
		if m == nil {
			continue
		}
		expanded, err := expandTemplate(rule.Result, m)
		if err != nil {
			return "", false, err
		}
		return expanded, true, nil
	}
	return pathname, false, nil
}

// expandTemplate replaces $1, $2, ... in template with the corresponding
// entries of groups (groups[0] is the whole match, groups[1:] the capture
// groups) in a single left-to-right pass. Any placeholder that refers to a
// capture group the pattern does not have is a bad-path error.
func expandTemplate(template string, groups []string) (string, error) {
	var expandErr error
	out := placeholderPattern.ReplaceAllStringFunc(template, func(placeholder string) string {
		i, _ := strconv.Atoi(placeholder[1:])
		if i >= len(groups) {
			if expandErr == nil {
				expandErr = errs.New(errs.KindBadPath, fmt.Sprintf("only %d capture groups available, but rule references %s", len(groups)-1, placeholder))
			}
			return placeholder
		}
		return groups[i]
	})
	if expandErr != nil {
		return "", expandErr
	}
	return out, nil
}

// fallbackSplit implements the hard-coded pool/object split used when no
// XML rule applies: CMS-style "store..." paths map to pool "cms"; other
// paths are split on the first ":" into pool and object.
func fallbackSplit(pathname string) (pool, object string, err error) {
	if m := cmsPattern.FindStringSubmatch(pathname); m != nil {
		return "cms", m[1], nil
	}
	if m := nominalPattern.FindStringSubmatch(pathname); m != nil {
		return m[1], m[2], nil
	}
	return "", "", errs.New(errs.KindBadPath, "path not convertible to pool:object: "+pathname)
}

// stripOpaque removes a trailing "?..." opaque-info (xrootd CGI) suffix.
func stripOpaque(object string) string {
	if i := strings.IndexByte(object, '?'); i >= 0 {
		return object[:i]
	}
	return object
}

// String renders a short diagnostic summary, modeled on the original
// mapper's __str__ method.
func (p *Parser) String() string {
	patterns := make([]string, len(p.Rules))
	for i, r := range p.Rules {
		patterns[i] = r.Pattern.String()
	}
	return fmt.Sprintf("pathmap.Parser: from %s, rules: %v", p.Source, patterns)
}
