package learning

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/fusion"
)

// PolicyFileName is the learned policy snapshot inside the index directory.
const PolicyFileName = "policy.toml"

const policyVersion = 1

type policyFile struct {
	Version   int          `toml:"version"`
	UpdatedAt time.Time    `toml:"updated_at"`
	Nudges    policyNudges `toml:"nudges"`
}

type policyNudges struct {
	Semantic float64 `toml:"semantic"`
	LLM      float64 `toml:"llm"`
	Rule     float64 `toml:"rule"`
}

// LoadPolicy reads the learned weight nudges from dir. A missing file is
// the zero policy; a malformed one is a data fault.
func LoadPolicy(dir string) (fusion.Policy, error) {
	path := filepath.Join(dir, PolicyFileName)
	var pf policyFile
	if _, err := toml.DecodeFile(path, &pf); err != nil {
		if os.IsNotExist(err) {
			return fusion.Policy{}, nil
		}
		return fusion.Policy{}, fault.Wrap(fault.KindData, err, "read learned policy").(*fault.Error).
			WithHint("delete " + path + " to reset the learned weights")
	}
	if pf.Version != policyVersion {
		return fusion.Policy{}, fault.Newf(fault.KindData, "policy version %d not supported", pf.Version).
			WithHint("delete " + path + " to reset the learned weights")
	}
	return fusion.Policy{
		SemanticNudge: pf.Nudges.Semantic,
		LLMNudge:      pf.Nudges.LLM,
		RuleNudge:     pf.Nudges.Rule,
	}, nil
}

// SavePolicy writes the weight nudges to dir, replacing any previous
// snapshot.
func SavePolicy(dir string, p fusion.Policy) error {
	pf := policyFile{
		Version:   policyVersion,
		UpdatedAt: time.Now().UTC(),
		Nudges: policyNudges{
			Semantic: p.SemanticNudge,
			LLM:      p.LLMNudge,
			Rule:     p.RuleNudge,
		},
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(pf); err != nil {
		return fault.Wrap(fault.KindData, err, "encode learned policy")
	}
	if err := os.WriteFile(filepath.Join(dir, PolicyFileName), buf.Bytes(), 0o600); err != nil {
		return fault.Wrap(fault.KindIntegrity, err, "write learned policy")
	}
	return nil
}
