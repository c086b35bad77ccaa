package capture

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/vincentbai/browsetrace/internal/selector"
)

// DefaultBinding is the page function the instrumentation reports through.
const DefaultBinding = "browsetraceRecord"

const configPlaceholder = "__BROWSETRACE_CONFIG__"

//go:embed instrument.js
var instrumentSource string

var bindingName = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// ScriptConfig is serialized into the injected instrumentation.
type ScriptConfig struct {
	Binding          string   `json:"binding"`
	Sentinel         string   `json:"sentinel"`
	SensitiveMarkers []string `json:"sensitiveMarkers"`
	SensitiveTypes   []string `json:"sensitiveTypes"`
	TestIDAttributes []string `json:"testIdAttributes"`
	ControlKeys      []string `json:"controlKeys"`
}

func DefaultScriptConfig() ScriptConfig {
	return NewScriptConfig(DefaultPolicy(), selector.Default())
}

func NewScriptConfig(policy Policy, synth *selector.Synthesizer) ScriptConfig {
	return ScriptConfig{
		Binding:          DefaultBinding,
		Sentinel:         policy.Sentinel,
		SensitiveMarkers: policy.Markers,
		SensitiveTypes:   policy.SensitiveTypes,
		TestIDAttributes: synth.TestIDAttributes,
		ControlKeys:      ControlKeys,
	}
}

// Script renders the instrumentation source for cfg.
func Script(cfg ScriptConfig) (string, error) {
	if !bindingName.MatchString(cfg.Binding) {
		return "", fmt.Errorf("invalid binding name %q", cfg.Binding)
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal script config: %w", err)
	}
	return strings.Replace(instrumentSource, configPlaceholder, string(data), 1), nil
}
