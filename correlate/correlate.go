// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package correlate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/netip"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vvatta/mcp-automatic-review/decoy"
	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

// DefaultGrace extends each invocation's window past its response.
const DefaultGrace = time.Second

// findingNamespace scopes finding IDs.
var findingNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/vvatta/mcp-automatic-review/finding"))

// FindingID returns the deterministic ID of the finding at ordinal in a
// session's output.
func FindingID(sessionID string, ordinal int) string {
	return uuid.NewSHA1(findingNamespace, []byte(sessionID+"/"+strconv.Itoa(ordinal))).String()
}

// Correlator classifies findings from one session's invocations and
// telemetry.
type Correlator struct {
	SessionID string

	// Grace extends invocation windows. Zero means DefaultGrace.
	Grace time.Duration

	// NetworkAllowlist holds IP addresses, CIDR prefixes, or host
	// names (matched against DNS query names) that are not reported.
	// Loopback is always allowed.
	NetworkAllowlist []string

	// ServerLog is the tail of the server's stderr, scanned for error
	// patterns. Empty skips the scan.
	ServerLog string

	Logger *slog.Logger
}

// candidate is a finding under construction with its sort keys.
type candidate struct {
	finding schema.Finding
	at      time.Time
	hasTime bool
	order   int
}

// state is the per-call working set.
type state struct {
	grace       time.Duration
	invocations []schema.Invocation
	events      []schema.Event
	consumed    []bool
}

// Correlate returns the findings for a session. Inputs are not
// modified.
func (c *Correlator) Correlate(invocations []schema.Invocation, events []schema.Event, decoys *decoy.Registry) []schema.Finding {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := c.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	s := &state{
		grace:       grace,
		invocations: append([]schema.Invocation(nil), invocations...),
		events:      append([]schema.Event(nil), events...),
		consumed:    make([]bool, len(events)),
	}
	sort.SliceStable(s.invocations, func(i, j int) bool {
		return s.invocations[i].Sequence < s.invocations[j].Sequence
	})
	sort.SliceStable(s.events, func(i, j int) bool {
		a, b := s.events[i], s.events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Collector != b.Collector {
			return a.Collector < b.Collector
		}
		return a.Sequence < b.Sequence
	})

	allowlist := parseAllowlist(c.NetworkAllowlist, logger)

	rules := [][]candidate{
		s.honeypotAccess(decoys),
		s.commandExecution(),
		s.dataLeak(decoys),
		s.differentialResponses(),
		s.suspiciousNetwork(allowlist),
		s.filesystemActivity(),
		s.responseMarkers(decoys),
		serverErrors(c.ServerLog),
	}

	var findings []schema.Finding
	for _, rule := range rules {
		sort.SliceStable(rule, func(i, j int) bool {
			a, b := rule[i], rule[j]
			if a.hasTime != b.hasTime {
				return a.hasTime
			}
			if a.hasTime && !a.at.Equal(b.at) {
				return a.at.Before(b.at)
			}
			return a.order < b.order
		})
		for _, entry := range rule {
			finding := entry.finding
			finding.ID = FindingID(c.SessionID, len(findings))
			findings = append(findings, finding)
		}
	}
	logger.Debug("correlation complete",
		"invocations", len(invocations),
		"events", len(events),
		"findings", len(findings),
	)
	return findings
}

// attribute returns the index of the invocation an instant belongs to,
// or -1 when no window contains it. Invocations are sorted by
// sequence, so the first latest-RequestAt match has the lowest
// sequence among ties.
func (s *state) attribute(at time.Time) int {
	best := -1
	for index, invocation := range s.invocations {
		if !invocation.Contains(at, s.grace) {
			continue
		}
		if best < 0 || invocation.RequestAt.After(s.invocations[best].RequestAt) {
			best = index
		}
	}
	return best
}

// scope fills a finding's scope from an attribution result.
func (s *state) scope(finding *schema.Finding, index int) {
	if index < 0 {
		finding.Scope = schema.ScopeSession
		return
	}
	finding.Scope = schema.ScopeInvocation
	finding.Invocations = []int{s.invocations[index].Sequence}
}

// honeypotAccess implements rule 1.
func (s *state) honeypotAccess(decoys *decoy.Registry) []candidate {
	var candidates []candidate
	for order, artifact := range decoys.Touched() {
		finding := schema.Finding{
			Category: schema.CategoryHoneypotAccess,
			Severity: schema.SeverityCritical,
			Title:    "Planted credential accessed: " + artifact.SandboxPath,
			Evidence: []string{"decoy: " + artifact.SandboxPath},
		}

		var first *schema.Event
		var operations []string
		seenOperation := make(map[string]bool)
		for index := range s.events {
			event := &s.events[index]
			if s.consumed[index] || event.File == nil || !event.File.Decoy {
				continue
			}
			if event.File.Path != artifact.SandboxPath && event.File.HostPath != artifact.HostPath {
				continue
			}
			s.consumed[index] = true
			if first == nil {
				first = event
			}
			finding.Events = append(finding.Events, event.Ref())
			if !seenOperation[event.File.Op] {
				seenOperation[event.File.Op] = true
				operations = append(operations, event.File.Op)
			}
		}

		entry := candidate{order: order}
		if first == nil {
			finding.Scope = schema.ScopeSession
			finding.Evidence = append(finding.Evidence, "access recorded without a surviving filesystem event")
		} else {
			s.scope(&finding, s.attribute(first.Timestamp))
			finding.Evidence = append(finding.Evidence, "operations: "+strings.Join(operations, ", "))
			entry.at, entry.hasTime = first.Timestamp, true
		}
		entry.finding = finding
		candidates = append(candidates, entry)
	}
	return candidates
}

// commandExecution implements rule 2.
func (s *state) commandExecution() []candidate {
	byInvocation := make(map[int]*candidate)
	byBinary := make(map[string]*candidate)
	var candidates []*candidate

	for index := range s.events {
		event := s.events[index]
		if s.consumed[index] || event.Process == nil || !event.Process.Suspicious {
			continue
		}
		s.consumed[index] = true
		evidence := "spawned: " + strings.Join(event.Process.Argv, " ")
		if len(event.Process.Argv) == 0 {
			evidence = "spawned: " + event.Process.Exe
		}

		owner := s.attribute(event.Timestamp)
		var entry *candidate
		if owner >= 0 {
			entry = byInvocation[owner]
			if entry == nil {
				invocation := s.invocations[owner]
				entry = &candidate{
					finding: schema.Finding{
						Category: schema.CategoryCommandExecution,
						Severity: schema.SeverityCritical,
						Title:    fmt.Sprintf("%s spawned a shell or network tool", invocation.Capability),
					},
					at: event.Timestamp, hasTime: true, order: invocation.Sequence,
				}
				s.scope(&entry.finding, owner)
				byInvocation[owner] = entry
				candidates = append(candidates, entry)
			}
		} else {
			match := event.Process.Match
			entry = byBinary[match]
			if entry == nil {
				entry = &candidate{
					finding: schema.Finding{
						Category: schema.CategorySuspiciousProcess,
						Severity: schema.SeverityWarning,
						Title:    fmt.Sprintf("Server spawned %s outside any invocation", match),
						Scope:    schema.ScopeSession,
					},
					at: event.Timestamp, hasTime: true, order: len(s.invocations) + len(byBinary),
				}
				byBinary[match] = entry
				candidates = append(candidates, entry)
			}
		}
		entry.finding.Events = append(entry.finding.Events, event.Ref())
		entry.finding.Evidence = append(entry.finding.Evidence, evidence)
	}

	result := make([]candidate, 0, len(candidates))
	for _, entry := range candidates {
		result = append(result, *entry)
	}
	return result
}

// leakForms returns the forms in which content may appear in a
// response: verbatim and JSON-escaped.
func leakForms(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	forms := []string{content}
	if encoded, err := json.Marshal(content); err == nil {
		escaped := string(encoded[1 : len(encoded)-1])
		if escaped != content {
			forms = append(forms, escaped)
		}
	}
	return forms
}

// dataLeak implements rule 3.
func (s *state) dataLeak(decoys *decoy.Registry) []candidate {
	artifacts := decoys.Artifacts()
	if len(artifacts) == 0 {
		return nil
	}
	var candidates []candidate
	for _, invocation := range s.invocations {
		var leaked []string
		for _, artifact := range artifacts {
			for _, form := range leakForms(artifact.Content) {
				if strings.Contains(invocation.Text, form) || strings.Contains(string(invocation.Response), form) {
					leaked = append(leaked, artifact.SandboxPath)
					break
				}
			}
		}
		if len(leaked) == 0 {
			continue
		}
		finding := schema.Finding{
			Category: schema.CategoryDataLeak,
			Severity: schema.SeverityCritical,
			Title:    fmt.Sprintf("%s returned planted credential content", invocation.Capability),
			Scope:    schema.ScopeInvocation,
		}
		finding.Invocations = []int{invocation.Sequence}
		for _, path := range leaked {
			finding.Evidence = append(finding.Evidence, "leaked: "+path)
		}
		candidates = append(candidates, candidate{
			finding: finding,
			at:      invocation.RequestAt, hasTime: true,
			order: invocation.Sequence,
		})
	}
	return candidates
}

var whitespace = regexp.MustCompile(`\s+`)

// placeholder replaces the argument value in normalized responses.
const placeholder = "\x00"

// normalize collapses whitespace and replaces an echoed argument value
// with a placeholder, so a tool that echoes its input does not look
// like it behaved differently.
func normalize(text, echoed string) string {
	if echoed != "" {
		text = strings.ReplaceAll(text, echoed, placeholder)
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

// differentialResponses implements rule 4.
func (s *state) differentialResponses() []candidate {
	controls := make(map[string]schema.Invocation)
	for _, invocation := range s.invocations {
		if invocation.Payload.AttackType != schema.AttackControl || !invocation.Succeeded() {
			continue
		}
		if _, ok := controls[invocation.Capability]; !ok {
			controls[invocation.Capability] = invocation
		}
	}

	var candidates []candidate
	for _, invocation := range s.invocations {
		var category schema.Category
		switch invocation.Payload.AttackType {
		case schema.AttackPathTraversal:
			category = schema.CategoryPathTraversal
		case schema.AttackSQLInjection:
			category = schema.CategorySQLInjection
		default:
			continue
		}
		if !invocation.Succeeded() {
			continue
		}
		control, ok := controls[invocation.Capability]
		if !ok {
			continue
		}

		field := invocation.Payload.Field
		controlValue, _ := control.Payload.Arguments[field].(string)
		if normalize(invocation.Text, invocation.Payload.Value) == normalize(control.Text, controlValue) {
			continue
		}

		finding := schema.Finding{
			Category: category,
			Severity: schema.SeverityWarning,
			Title:    fmt.Sprintf("%s answered a %s payload differently from its baseline", invocation.Capability, invocation.Payload.AttackType),
			Scope:    schema.ScopeInvocation,
			Evidence: []string{
				"payload: " + truncate(invocation.Payload.Value, 120),
				"baseline response: " + truncate(control.Text, 120),
				"response: " + truncate(invocation.Text, 120),
			},
		}
		finding.Invocations = []int{invocation.Sequence}
		candidates = append(candidates, candidate{
			finding: finding,
			at:      invocation.RequestAt, hasTime: true,
			order: invocation.Sequence,
		})
	}
	return candidates
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}

// allowlist is a parsed network allow-list.
type allowlist struct {
	prefixes []netip.Prefix
	hosts    map[string]bool
}

func parseAllowlist(entries []string, logger *slog.Logger) allowlist {
	list := allowlist{hosts: make(map[string]bool)}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			list.prefixes = append(list.prefixes, prefix.Masked())
			continue
		}
		if address, err := netip.ParseAddr(entry); err == nil {
			list.prefixes = append(list.prefixes, netip.PrefixFrom(address, address.BitLen()))
			continue
		}
		list.hosts[strings.ToLower(strings.TrimSuffix(entry, "."))] = true
	}
	if len(list.hosts) > 0 {
		logger.Debug("network allow-list host names only match DNS events that carry a query name")
	}
	return list
}

func (a allowlist) allows(detail *schema.NetworkDetail) bool {
	if address, err := netip.ParseAddr(detail.Address); err == nil {
		address = address.Unmap()
		if address.IsLoopback() {
			return true
		}
		for _, prefix := range a.prefixes {
			if prefix.Contains(address) {
				return true
			}
		}
	}
	if detail.Query != "" && a.hosts[strings.ToLower(strings.TrimSuffix(detail.Query, "."))] {
		return true
	}
	return false
}

// suspiciousNetwork implements rule 5.
func (s *state) suspiciousNetwork(list allowlist) []candidate {
	type key struct {
		owner       int
		destination string
	}
	entries := make(map[key]*candidate)
	var ordered []*candidate

	for index := range s.events {
		event := s.events[index]
		if s.consumed[index] || event.Network == nil || list.allows(event.Network) {
			continue
		}
		destination := netip.AddrPortFrom(parseAddr(event.Network.Address), uint16(event.Network.Port)).String()
		if !parseAddr(event.Network.Address).IsValid() {
			destination = fmt.Sprintf("%s:%d", event.Network.Address, event.Network.Port)
		}
		owner := s.attribute(event.Timestamp)
		entryKey := key{owner: owner, destination: destination}

		entry := entries[entryKey]
		if entry == nil {
			title := fmt.Sprintf("Network %s to %s", event.Network.Kind, destination)
			order := len(s.invocations) + len(ordered)
			if owner >= 0 {
				title = fmt.Sprintf("%s made a network %s to %s", s.invocations[owner].Capability, event.Network.Kind, destination)
				order = s.invocations[owner].Sequence
			}
			entry = &candidate{
				finding: schema.Finding{
					Category: schema.CategorySuspiciousNetwork,
					Severity: schema.SeverityWarning,
					Title:    title,
					Evidence: []string{fmt.Sprintf("%s %s %s", event.Network.Protocol, event.Network.Kind, destination)},
				},
				at: event.Timestamp, hasTime: true, order: order,
			}
			s.scope(&entry.finding, owner)
			entries[entryKey] = entry
			ordered = append(ordered, entry)
		}
		entry.finding.Events = append(entry.finding.Events, event.Ref())
	}

	result := make([]candidate, 0, len(ordered))
	for _, entry := range ordered {
		result = append(result, *entry)
	}
	return result
}

func parseAddr(address string) netip.Addr {
	parsed, err := netip.ParseAddr(address)
	if err != nil {
		return netip.Addr{}
	}
	return parsed.Unmap()
}

// filesystemActivity implements rule 6: filesystem events that no
// earlier rule consumed become INFO findings, one per owner and path.
func (s *state) filesystemActivity() []candidate {
	type key struct {
		owner int
		path  string
	}
	entries := make(map[key]*candidate)
	operations := make(map[*candidate][]string)
	var ordered []*candidate

	for index := range s.events {
		event := s.events[index]
		if s.consumed[index] || event.File == nil {
			continue
		}
		owner := s.attribute(event.Timestamp)
		entryKey := key{owner: owner, path: event.File.Path}

		entry := entries[entryKey]
		if entry == nil {
			title := "Server touched " + event.File.Path + " outside any invocation"
			order := len(s.invocations) + len(ordered)
			if owner >= 0 {
				title = fmt.Sprintf("%s touched %s", s.invocations[owner].Capability, event.File.Path)
				order = s.invocations[owner].Sequence
			}
			entry = &candidate{
				finding: schema.Finding{
					Category: schema.CategoryFilesystemAccess,
					Severity: schema.SeverityInfo,
					Title:    title,
				},
				at: event.Timestamp, hasTime: true, order: order,
			}
			s.scope(&entry.finding, owner)
			entries[entryKey] = entry
			ordered = append(ordered, entry)
		}
		entry.finding.Events = append(entry.finding.Events, event.Ref())
		if !slices.Contains(operations[entry], event.File.Op) {
			operations[entry] = append(operations[entry], event.File.Op)
		}
	}

	result := make([]candidate, 0, len(ordered))
	for _, entry := range ordered {
		entry.finding.Evidence = []string{"operations: " + strings.Join(operations[entry], ", ")}
		result = append(result, *entry)
	}
	return result
}

// markerGroup is a set of response markers reported under one
// category.
type markerGroup struct {
	category schema.Category
	title    string
	markers  []string
}

// responseMarkerGroups hold lowercase strings whose presence in a
// response suggests the tool returned host files or command output.
var responseMarkerGroups = []markerGroup{
	{schema.CategorySensitiveOutput, "returned host file content", []string{"root:x:", "/etc/passwd", "/etc/shadow", "id_rsa"}},
	{schema.CategoryCommandOutput, "returned command output", []string{"uid=", "gid=", "drwx"}},
}

// responseMarkers implements rule 7. The payload's own argument values
// and every decoy's content are removed before matching, so an echoed
// payload or a leak already reported by rule 3 does not match again.
func (s *state) responseMarkers(decoys *decoy.Registry) []candidate {
	var known []string
	for _, content := range decoys.Contents() {
		known = append(known, leakForms(content)...)
	}

	var candidates []candidate
	for _, invocation := range s.invocations {
		if len(invocation.Text) == 0 && len(invocation.Response) == 0 {
			continue
		}
		text := invocation.Text + "\n" + string(invocation.Response)
		for _, form := range known {
			text = strings.ReplaceAll(text, form, "")
		}
		for _, value := range argumentValues(invocation.Payload) {
			for _, form := range leakForms(value) {
				text = strings.ReplaceAll(text, form, "")
			}
		}
		text = strings.ToLower(text)

		for _, group := range responseMarkerGroups {
			var matched []string
			for _, marker := range group.markers {
				if strings.Contains(text, marker) {
					matched = append(matched, marker)
				}
			}
			if len(matched) == 0 {
				continue
			}
			finding := schema.Finding{
				Category: group.category,
				Severity: schema.SeverityWarning,
				Title:    fmt.Sprintf("%s %s", invocation.Capability, group.title),
				Scope:    schema.ScopeInvocation,
				Evidence: []string{
					"markers: " + strings.Join(matched, ", "),
					"response: " + truncate(invocation.Text, 120),
				},
			}
			finding.Invocations = []int{invocation.Sequence}
			candidates = append(candidates, candidate{
				finding: finding,
				at:      invocation.RequestAt, hasTime: true,
				order: invocation.Sequence,
			})
		}
	}
	return candidates
}

// argumentValues returns the string values a payload sent.
func argumentValues(payload schema.Payload) []string {
	var values []string
	if payload.Value != "" {
		values = append(values, payload.Value)
	}
	for _, value := range payload.Arguments {
		if text, ok := value.(string); ok && text != "" {
			values = append(values, text)
		}
	}
	// Longest first, so a value containing another is removed whole.
	sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })
	return values
}

// serverLogPatterns are lowercase substrings that mark a stderr line
// as an error.
var serverLogPatterns = []string{"error", "exception", "failed", "denied", "traceback", "fatal"}

// maxServerLogLines bounds the log lines quoted as evidence.
const maxServerLogLines = 5

// serverErrors implements rule 8: error lines in the server's stderr
// become one session-scoped INFO finding.
func serverErrors(log string) []candidate {
	var patterns, lines []string
	for _, line := range strings.Split(log, "\n") {
		lower := strings.ToLower(line)
		hit := false
		for _, pattern := range serverLogPatterns {
			if strings.Contains(lower, pattern) {
				hit = true
				if !slices.Contains(patterns, pattern) {
					patterns = append(patterns, pattern)
				}
			}
		}
		if hit && len(lines) < maxServerLogLines {
			lines = append(lines, "stderr: "+truncate(strings.TrimSpace(line), 160))
		}
	}
	if len(patterns) == 0 {
		return nil
	}
	return []candidate{{finding: schema.Finding{
		Category: schema.CategoryServerError,
		Severity: schema.SeverityInfo,
		Title:    "Server logged errors: " + strings.Join(patterns, ", "),
		Scope:    schema.ScopeSession,
		Evidence: lines,
	}}}
}
