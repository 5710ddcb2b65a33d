package arbiter

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"reflect"
)

// This file contains functions that enable users to inspect an engine's
// contexts and rules.

// StructureToTmpFile is a convenience wrapper around StructureToHTML.
// It writes the HTML to a temporary file and returns the file name.
func StructureToTmpFile(e *Engine) (string, error) {
	html, err := StructureToHTML(e)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp("", "rules_*.html")
	if err != nil {
		return "", err
	}
	defer f.Close()
	_, err = f.WriteString(html)
	if err != nil {
		return "", err
	}
	return f.Name(), nil
}

type ruleView struct {
	ShortName string
	Name      string
	Status    Status
	Dialect   Dialect
	Algorithm string
	Params    []string
	Meta      any
}

type contextView struct {
	Name        string
	Description string
	Elements    []string
	Rules       []ruleView
}

type structureView struct {
	Contexts []contextView
	Unbound  []ruleView
	Tree     string
}

func viewOf(r *Rule) ruleView {
	s := r.state()
	v := ruleView{
		ShortName: r.ShortName,
		Name:      r.Name,
		Status:    s.status,
		Dialect:   s.dialect,
		Algorithm: s.algorithm,
		Meta:      r.Meta,
	}
	for _, p := range s.params {
		v.Params = append(v.Params, fmt.Sprintf("%s %v", p.Name, p.Type))
	}
	return v
}

// StructureToHTML lists the contexts of the engine, the elements each one
// allows and the rules bound to it, followed by the registry tree. It
// returns a standalone HTML page.
func StructureToHTML(e *Engine) (string, error) {
	var data structureView
	for _, c := range e.Contexts() {
		cv := contextView{Name: c.Name, Description: c.Description}
		for _, el := range c.Elements() {
			cv.Elements = append(cv.Elements, el.Key().String())
		}
		for _, r := range c.Rules() {
			cv.Rules = append(cv.Rules, viewOf(r))
		}
		data.Contexts = append(data.Contexts, cv)
	}
	for _, r := range e.Rules() {
		if r.Context() == nil {
			data.Unbound = append(data.Unbound, viewOf(r))
		}
	}
	data.Tree = e.Registry().Tree()

	page, err := template.New("page").Funcs(template.FuncMap{
		"typeName": func(o any) string {
			return reflect.TypeOf(o).String()
		},
		"structFieldWithName": func(name string, o any, defaultValue string) string {
			v := reflect.Indirect(reflect.ValueOf(o))
			if v.Kind() != reflect.Struct {
				return defaultValue
			}
			f := v.FieldByName(name)
			if !f.IsValid() {
				return defaultValue
			}
			return fmt.Sprint(f.Interface())
		},
	}).Parse(`<html>
<head>
<style>
body { padding: 50px 30px 100px 50px; max-width: 800px; font-family: 'Roboto', 'Arial', sans-serif; color: #5F5F5F; }
.title { font-size: 20px; font-weight: 600; }
.context { font-size: 16px; font-weight: 600; padding-top: 30px; }
.ruleName { font-size: 14px; font-weight: 500; }
.itemText { font-size: 12px; }
.status-validated { color: #2E8B57; }
.status-draft { color: #D2691E; }
.status-disabled { color: #9F9F9F; }
pre { font-size: 12px; background: #F5F5F5; padding: 8px; }
ul { list-style: none; padding-left: 2em; }
li { padding-top: 5px; }
</style>
</head>
<body>

{{define "ruleSection"}}
<li>
	<span class="ruleName">{{.ShortName}}</span>
	{{if .Name}}<span class="itemText">({{.Name}})</span>{{end}}
	<span class="itemText status-{{.Status}}">{{.Status}}</span>
	<ul>
		{{range .Params}}<li class="itemText">param {{.}}</li>{{end}}
		{{if .Meta}}<li class="itemText">{{structFieldWithName "Name" .Meta "(no name)"}} ({{typeName .Meta}})</li>{{end}}
		<li><pre>{{.Algorithm}}</pre></li>
	</ul>
</li>
{{end}}

<span class="title">Contexts and Rules</span>

{{range .Contexts}}
	<div class="context">{{.Name}}</div>
	{{if .Description}}<div class="itemText">{{.Description}}</div>{{end}}
	<ul>
		{{range .Elements}}<li class="itemText">allows {{.}}</li>{{end}}
	</ul>
	<ul>
		{{range .Rules}}{{template "ruleSection" .}}{{end}}
	</ul>
{{else}}
	<div class="itemText">There are no contexts defined</div>
{{end}}

{{if .Unbound}}
	<div class="context">Rules without a context</div>
	<ul>
		{{range .Unbound}}{{template "ruleSection" .}}{{end}}
	</ul>
{{end}}

<div class="context">Tree Elements</div>
<pre>{{.Tree}}</pre>
</body>
</html>
`)
	if err != nil {
		return "", err
	}

	buf := new(bytes.Buffer)
	if err := page.ExecuteTemplate(buf, "page", data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
