package warmup

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/outreach-engine/internal/model"
)

// Template is one subject/body pair from a category pool.
type Template struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// TemplateSet holds the pools for every category. Warmup content is
// deliberately mundane; what matters is that threads look like real
// correspondence, not what they say.
type TemplateSet struct {
	Opener       []Template `yaml:"opener"`
	Reply        []Template `yaml:"reply"`
	Continuation []Template `yaml:"continuation"`
	Closer       []Template `yaml:"closer"`
}

//go:embed templates.yaml
var defaultTemplatesYAML []byte

// DefaultTemplates returns the embedded template set.
func DefaultTemplates() (*TemplateSet, error) {
	return parseTemplates(defaultTemplatesYAML)
}

// LoadTemplates reads a template set from a YAML file, for operators who
// want their own pools.
func LoadTemplates(path string) (*TemplateSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "warmup: read templates %s", path)
	}
	return parseTemplates(data)
}

func parseTemplates(data []byte) (*TemplateSet, error) {
	var set TemplateSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, eris.Wrap(err, "warmup: parse templates")
	}
	for category, pool := range map[string][]Template{
		"opener": set.Opener, "reply": set.Reply,
		"continuation": set.Continuation, "closer": set.Closer,
	} {
		if len(pool) == 0 {
			return nil, eris.Errorf("warmup: template category %s is empty", category)
		}
	}
	return &set, nil
}

// Pool returns the templates for a category.
func (s *TemplateSet) Pool(category model.TemplateCategory) []Template {
	switch category {
	case model.TemplateReply:
		return s.Reply
	case model.TemplateContinuation:
		return s.Continuation
	case model.TemplateCloser:
		return s.Closer
	default:
		return s.Opener
	}
}
