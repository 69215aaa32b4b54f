package spark8s

import (
	"bytes"
	"embed"
	"text/template"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

//go:embed templates/*.yaml.tmpl
var templateFS embed.FS

var manifestTemplates = template.Must(
	template.New("manifests").Funcs(template.FuncMap{
		"first": func(params map[string][]string, key string) string {
			values := params[key]
			if len(values) == 0 {
				return ""
			}
			return values[0]
		},
	}).ParseFS(templateFS, "templates/*.yaml.tmpl"),
)

// manifestContext parameterizes a manifest template.
type manifestContext struct {
	Name      string
	Namespace string
	Params    map[string][]string
}

// renderManifest renders the named template and decodes the result into the
// given typed object.
func renderManifest(templateName string, tmplCtx manifestContext, into interface{}) error {
	var buf bytes.Buffer
	if err := manifestTemplates.ExecuteTemplate(&buf, templateName, tmplCtx); err != nil {
		return errors.Wrapf(err, "rendering manifest %s", templateName)
	}
	if err := yaml.Unmarshal(buf.Bytes(), into); err != nil {
		return &MalformedResponseError{Detail: "rendered manifest " + templateName, Err: err}
	}
	return nil
}
