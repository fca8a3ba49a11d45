package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CompatibleProvider is a user-defined OpenAI-compatible provider, as read
// from OPENAI_COMPATIBLE_DATA.
type CompatibleProvider struct {
	Provider string            `json:"provider"`
	APIKey   string            `json:"apiKey"`
	BaseURL  string            `json:"baseUrl"`
	Models   []CompatibleModel `json:"models"`
}

type CompatibleModel struct {
	// APIName is the model ID sent upstream.
	APIName string `json:"apiName"`
	// UIName is the model key clients select.
	UIName string `json:"uiName"`
	// SupportsTools defaults to true when omitted.
	SupportsTools *bool `json:"supportsTools,omitempty"`
}

func (m CompatibleModel) toolsSupported() bool {
	return m.SupportsTools == nil || *m.SupportsTools
}

// ParseCompatible decodes and validates OPENAI_COMPATIBLE_DATA. An empty
// value yields no providers.
func ParseCompatible(raw string) ([]CompatibleProvider, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var list []CompatibleProvider
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("models: decode OPENAI_COMPATIBLE_DATA: %w", err)
	}

	var errs []error
	for i, p := range list {
		if strings.TrimSpace(p.Provider) == "" {
			errs = append(errs, fmt.Errorf("provider %d: missing provider name", i))
		}
		if strings.TrimSpace(p.BaseURL) == "" {
			errs = append(errs, fmt.Errorf("provider %d: missing baseUrl", i))
		}
		for j, m := range p.Models {
			if m.APIName == "" || m.UIName == "" {
				errs = append(errs, fmt.Errorf("provider %d model %d: apiName and uiName are required", i, j))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("models: invalid OPENAI_COMPATIBLE_DATA: %w", err)
	}
	return list, nil
}
