// Package campaign announces a published design to the recipient list: it
// pulls eligible recipients out of the catalog, personalizes the mail,
// derives the per-recipient links, and walks the list strictly one send at
// a time.
package campaign

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/osteele/liquid"
)

// Renderer wraps the Liquid engine used for subjects and bodies. Parsed
// templates are cached; a campaign renders the same template once per
// recipient.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewRenderer builds the engine with the campaign filters registered.
func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	// Fallback value: {{ first_name | default: "Friend" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		strVal := fmt.Sprintf("%v", value)
		if strVal == "" || strVal == "<nil>" {
			return defaultVal
		}
		return value
	})

	// URL encode: {{ email | urlencode }}
	engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	return &Renderer{engine: engine}
}

// Render processes a template against the binding. cacheKey keys the parsed
// form; pass "" to skip caching.
func (r *Renderer) Render(cacheKey, templateStr string, binding map[string]interface{}) (string, error) {
	if cacheKey != "" {
		if cached, ok := r.cache.Load(cacheKey); ok {
			return cached.(*liquid.Template).RenderString(binding)
		}
	}

	tpl, err := r.engine.ParseString(templateStr)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}
	if cacheKey != "" {
		r.cache.Store(cacheKey, tpl)
	}

	out, err := tpl.RenderString(binding)
	if err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return out, nil
}
