package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands {{.VAR_NAME}} references in YAML content from the process
// environment. Shell-style $VAR and ${VAR} are left untouched so URLs,
// passwords and patterns containing '$' survive verbatim.
//
// Missing variables expand to the empty string; validation is expected to
// reject required fields left empty. Malformed templates return the input
// unchanged.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New(FileName).Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		if key, value, ok := strings.Cut(env, "="); ok && key != "" {
			envMap[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}

	return buf.Bytes()
}
