package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Message kinds that map to an approved messaging template.
const (
	TemplateWelcome       = "welcome"
	TemplateFollowup1     = "followup1"
	TemplateFollowup2     = "followup2"
	TemplateOwnerLead     = "owner_lead"
	TemplateOwnerMessage  = "owner_message"
	TemplateOwnerAlert    = "owner_alert"
	TemplateSessionReopen = "session_reopen"
)

// TemplateSpec names an approved template and its language code.
type TemplateSpec struct {
	Name     string `yaml:"name"`
	Language string `yaml:"language"`
}

// templateCatalog is the on-disk shape of TEMPLATES_FILE.
type templateCatalog struct {
	Language  string                  `yaml:"language"`
	Templates map[string]TemplateSpec `yaml:"templates"`
}

// Template returns the template configured for kind. Unknown kinds return a zero spec.
func (c *Config) Template(kind string) TemplateSpec {
	return c.Templates[kind]
}

func defaultTemplates(language string) map[string]TemplateSpec {
	return map[string]TemplateSpec{
		TemplateWelcome:       {Name: getEnv("TEMPLATE_LEAD", "lead_benvenuto"), Language: language},
		TemplateFollowup1:     {Name: getEnv("TEMPLATE_FOLLOWUP1", "lead_followup_1"), Language: language},
		TemplateFollowup2:     {Name: getEnv("TEMPLATE_FOLLOWUP2", "lead_followup_2"), Language: language},
		TemplateOwnerLead:     {Name: getEnv("TEMPLATE_OWNER_LEAD", "notifica_nuovo_lead"), Language: language},
		TemplateOwnerMessage:  {Name: getEnv("TEMPLATE_OWNER_MESSAGE", "notifica_messaggio"), Language: language},
		TemplateOwnerAlert:    {Name: getEnv("TEMPLATE_OWNER_ALERT", "notifica_errore"), Language: language},
		TemplateSessionReopen: {Name: getEnv("TEMPLATE_SESSION_REOPEN", "riapertura_conversazione"), Language: language},
	}
}

// LoadTemplateCatalog reads template overrides from a YAML file:
//
//	language: it
//	templates:
//	  welcome: {name: lead_benvenuto}
//	  owner_alert: {name: notifica_errore, language: en_US}
func LoadTemplateCatalog(path string) (map[string]TemplateSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates file: %w", err)
	}
	return parseTemplateCatalog(data)
}

func parseTemplateCatalog(data []byte) (map[string]TemplateSpec, error) {
	var catalog templateCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse templates file: %w", err)
	}

	result := make(map[string]TemplateSpec, len(catalog.Templates))
	for kind, spec := range catalog.Templates {
		kind = strings.TrimSpace(kind)
		if kind == "" {
			continue
		}
		if spec.Language == "" {
			spec.Language = catalog.Language
		}
		result[kind] = spec
	}
	return result, nil
}

func mergeTemplates(base, overrides map[string]TemplateSpec) map[string]TemplateSpec {
	merged := make(map[string]TemplateSpec, len(base))
	for kind, spec := range base {
		merged[kind] = spec
	}
	for kind, spec := range overrides {
		current := merged[kind]
		if spec.Name != "" {
			current.Name = spec.Name
		}
		if spec.Language != "" {
			current.Language = spec.Language
		}
		merged[kind] = current
	}
	return merged
}
