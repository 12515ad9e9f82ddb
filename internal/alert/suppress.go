// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package alert

import (
	"fmt"

	"github.com/tomtom215/excubitor/internal/config"
	"github.com/tomtom215/excubitor/internal/detect"
)

// SuppressionRule is one predicate in the ordered suppression list. Empty
// fields match anything; all set fields must match; Condition, when set, must
// also return true. The first matching rule suppresses the request.
type SuppressionRule struct {
	Name     string
	Type     string
	Severity detect.Severity
	Source   string

	// Condition is an optional custom predicate for programmatic rules.
	Condition func(Request) bool
}

// Matches reports whether the rule suppresses the given request.
func (r SuppressionRule) Matches(req Request) bool {
	if r.Type != "" && r.Type != req.Type {
		return false
	}
	if r.Severity != "" && r.Severity != req.Severity {
		return false
	}
	if r.Source != "" && r.Source != req.Source {
		return false
	}
	if r.Condition != nil && !r.Condition(req) {
		return false
	}
	return true
}

// suppressionRulesFrom builds the ordered rule list from declarative config.
// Unnamed rules get a positional name for counters and logs.
func suppressionRulesFrom(cfgRules []config.SuppressionRuleConfig) []SuppressionRule {
	rules := make([]SuppressionRule, 0, len(cfgRules))
	for i, rc := range cfgRules {
		name := rc.Name
		if name == "" {
			name = fmt.Sprintf("rule_%d", i)
		}
		rules = append(rules, SuppressionRule{
			Name:     name,
			Type:     rc.Type,
			Severity: detect.Severity(rc.Severity),
			Source:   rc.Source,
		})
	}
	return rules
}
