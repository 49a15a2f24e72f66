package learning

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/fusion"
)

func TestPolicyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := fusion.Policy{SemanticNudge: 0.05, LLMNudge: -0.1, RuleNudge: 0.025}

	if err := SavePolicy(dir, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadPolicy(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Fatalf("policy = %+v, want %+v", got, want)
	}
}

func TestLoadPolicyMissingFileIsNeutral(t *testing.T) {
	got, err := LoadPolicy(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("policy = %+v, want zero", got)
	}
}

func TestLoadPolicyMalformed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, PolicyFileName), []byte("nudges = oops ["), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := LoadPolicy(dir)
	if fault.KindOf(err) != fault.KindData {
		t.Fatalf("kind = %v, want data fault, err %v", fault.KindOf(err), err)
	}
}

func TestLoadPolicyUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	doc := "version = 99\n\n[nudges]\nsemantic = 0.1\nllm = 0.0\nrule = 0.0\n"
	if err := os.WriteFile(filepath.Join(dir, PolicyFileName), []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := LoadPolicy(dir)
	if fault.KindOf(err) != fault.KindData {
		t.Fatalf("kind = %v, want data fault, err %v", fault.KindOf(err), err)
	}
}
