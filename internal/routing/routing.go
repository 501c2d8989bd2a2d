// Package routing resolves CC recipients and company labels from a
// vessel's email address.
//
// Rules are an ordered list evaluated in sequence: the first rule whose
// domain substring appears in the lower-cased address wins. Order is
// semantically significant, so rules are never held in a map.
package routing

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule maps a recipient-domain substring to additional CC recipients.
type Rule struct {
	Domain string   `yaml:"domain"`
	CC     []string `yaml:"cc"`
}

// Company maps a domain substring to a display label.
type Company struct {
	Domain string `yaml:"domain"`
	Name   string `yaml:"name"`
}

// Table holds the full recipient-routing configuration.
type Table struct {
	Rules              []Rule    `yaml:"rules"`
	InternalRecipients []string  `yaml:"internal_recipients"`
	Companies          []Company `yaml:"companies"`
	DefaultCompany     string    `yaml:"default_company"`
}

// LoadFile reads a routing table from a YAML file.
func LoadFile(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read routing file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a routing table from YAML bytes.
func Parse(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("parse routing file: %w", err)
	}
	for i, r := range t.Rules {
		if strings.TrimSpace(r.Domain) == "" {
			return Table{}, fmt.Errorf("parse routing file: rule %d has empty domain", i)
		}
	}
	return t, nil
}

// ResolveCC returns the CC list for an address: the first matching
// rule's recipients unioned with the internal recipients. The union is
// deduplicated and sorted; the internal set is included whether or not
// a rule matched.
func (t Table) ResolveCC(address string) []string {
	lower := strings.ToLower(address)

	// First match wins; vessels outside every configured domain get
	// internal recipients only.
	var ccList []string
	for _, rule := range t.Rules {
		if strings.Contains(lower, strings.ToLower(rule.Domain)) {
			ccList = rule.CC
			break
		}
	}

	seen := make(map[string]struct{}, len(ccList)+len(t.InternalRecipients))
	union := make([]string, 0, len(ccList)+len(t.InternalRecipients))
	for _, addr := range ccList {
		if _, ok := seen[addr]; !ok {
			seen[addr] = struct{}{}
			union = append(union, addr)
		}
	}
	for _, addr := range t.InternalRecipients {
		if _, ok := seen[addr]; !ok {
			seen[addr] = struct{}{}
			union = append(union, addr)
		}
	}
	sort.Strings(union)
	return union
}

// CompanyName returns the display label for an address's company.
// This is presentation only, never a routing decision.
func (t Table) CompanyName(address string) string {
	lower := strings.ToLower(address)
	for _, c := range t.Companies {
		if strings.Contains(lower, strings.ToLower(c.Domain)) {
			return c.Name
		}
	}
	return t.DefaultCompany
}
