// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filippo.io/age"

	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleBundle() Bundle {
	invocations := make([]schema.Invocation, 0, 20)
	for sequence := 1; sequence <= 20; sequence++ {
		invocations = append(invocations, schema.Invocation{
			Sequence:   sequence,
			Capability: "search",
			Payload: schema.Payload{
				Capability: "search",
				AttackType: schema.AttackSQLInjection,
				Arguments:  map[string]any{"query": "' OR '1'='1"},
				Field:      "query",
				Provenance: schema.ProvenanceDeterministic,
			},
			RequestAt:  epoch.Add(time.Duration(sequence) * time.Second),
			ResponseAt: epoch.Add(time.Duration(sequence)*time.Second + 50*time.Millisecond),
			Text:       strings.Repeat("no rows matched the query. ", 8),
			Outcome:    schema.OutcomeOK,
		})
	}
	return Bundle{
		Session: schema.Session{ID: "session-1", StartedAt: epoch, EndedAt: epoch.Add(time.Minute), Status: schema.StatusCompleted},
		Capabilities: []CapabilityRecord{
			{Name: "search", InputSchema: []byte(`{"type":"object","properties":{"query":{"type":"string"}}}`)},
		},
		Invocations: invocations,
		Events: []schema.Event{{
			Kind: schema.EventNetwork, Collector: "network", Sequence: 1, Timestamp: epoch,
			Severity: schema.SeverityWarning,
			Network:  &schema.NetworkDetail{Kind: schema.NetworkConnect, Address: "203.0.113.9", Port: 443, Protocol: "tcp"},
		}},
		Report: schema.RiskReport{Status: schema.StatusCompleted, OverallRiskScore: 10, EvidenceDigest: "stale"},
	}
}

func TestArchiveRoundtrip(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			data, digest, err := Marshal(sampleBundle(), Options{Compression: compression})
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if compression != CompressionNone && Compression(data[len(magic)]) != compression {
				t.Errorf("header tag = %d, want %d", data[len(magic)], compression)
			}

			bundle, decodedDigest, err := Unmarshal(data, nil)
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if decodedDigest != digest {
				t.Errorf("digest changed across roundtrip: %s vs %s", decodedDigest, digest)
			}
			if len(bundle.Invocations) != 20 || bundle.Invocations[19].Sequence != 20 {
				t.Errorf("invocations not preserved: %d", len(bundle.Invocations))
			}
			if bundle.Events[0].Network == nil || bundle.Events[0].Network.Address != "203.0.113.9" {
				t.Errorf("network detail not preserved: %+v", bundle.Events[0])
			}
			if bundle.Report.EvidenceDigest != "" {
				t.Errorf("archived report digest = %q, want empty", bundle.Report.EvidenceDigest)
			}
		})
	}
}

func TestDigestIndependentOfCompressionAndEncryption(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}

	_, plain, err := Marshal(sampleBundle(), Options{Compression: CompressionNone})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	_, zstdDigest, err := Marshal(sampleBundle(), Options{Compression: CompressionZstd})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	_, sealedDigest, err := Marshal(sampleBundle(), Options{
		Compression: CompressionLZ4,
		Recipients:  []string{identity.Recipient().String()},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if plain != zstdDigest || plain != sealedDigest {
		t.Fatalf("digests differ: %s %s %s", plain, zstdDigest, sealedDigest)
	}
}

func TestEncryptedArchive(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}
	other, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}

	path := filepath.Join(t.TempDir(), "session.evidence")
	digest, err := WriteFile(path, sampleBundle(), Options{
		Compression: CompressionZstd,
		Recipients:  []string{identity.Recipient().String()},
	})
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, _, err := ReadFile(path, nil); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("ReadFile without identity error = %v, want ErrNoIdentity", err)
	}
	if _, _, err := ReadFile(path, []string{other.String()}); err == nil {
		t.Fatal("ReadFile with the wrong identity succeeded")
	}

	bundle, readDigest, err := ReadFile(path, []string{identity.String()})
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if readDigest != digest {
		t.Errorf("digest = %s, want %s", readDigest, digest)
	}
	if bundle.Session.ID != "session-1" {
		t.Errorf("session id = %q", bundle.Session.ID)
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, _, err := Unmarshal([]byte("definitely not an archive"), nil); err == nil {
		t.Fatal("expected error for garbage input")
	}
	data, _, err := Marshal(sampleBundle(), Options{Compression: CompressionZstd})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, _, err := Unmarshal(data[:len(data)-10], nil); err == nil {
		t.Fatal("expected error for truncated archive")
	}
}

func TestParseDigest(t *testing.T) {
	_, digest, err := Marshal(sampleBundle(), Options{})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	parsed, err := ParseDigest(digest.String())
	if err != nil {
		t.Fatalf("ParseDigest: %v", err)
	}
	if parsed != digest {
		t.Fatalf("ParseDigest(String()) = %s, want %s", parsed, digest)
	}
	if _, err := ParseDigest("abcd"); err == nil {
		t.Fatal("expected error for short digest")
	}
}

func TestParseCompression(t *testing.T) {
	tests := map[string]Compression{"": CompressionZstd, "zstd": CompressionZstd, "lz4": CompressionLZ4, "none": CompressionNone}
	for name, want := range tests {
		got, err := ParseCompression(name)
		if err != nil || got != want {
			t.Errorf("ParseCompression(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Error("expected error for gzip")
	}
}
