/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package payu

import (
	"html/template"
	"io"
)

var autoSubmitForm = template.Must(template.New("checkout").Parse(`<!DOCTYPE html>
<html>
<head><meta name="viewport" content="width=device-width, initial-scale=1"><title>Redirecting to payment</title></head>
<body onload="document.forms[0].submit()">
<form action="{{.Action}}" method="post">
{{range $name, $value := .Fields}}<input type="hidden" name="{{$name}}" value="{{$value}}">
{{end}}<noscript><button type="submit">Continue to payment</button></noscript>
</form>
</body>
</html>
`))

var delayedRedirect = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html>
<head><meta name="viewport" content="width=device-width, initial-scale=1">{{if .RedirectURL}}<meta http-equiv="refresh" content="{{.DelaySeconds}};url={{.RedirectURL}}">{{end}}<title>{{.Title}}</title></head>
<body>
<h2>{{.Title}}</h2>
<p>{{.Message}}</p>
</body>
</html>
`))

// RenderForm writes an HTML page that posts fields to action as soon as it loads.
func RenderForm(w io.Writer, action string, fields FormFields) error {
	values := map[string]string{}
	for k, v := range fields.Values() {
		values[k] = v[0]
	}
	return autoSubmitForm.Execute(w, struct {
		Action string
		Fields map[string]string
	}{Action: action, Fields: values})
}

// ResultPage is the page shown once the gateway redirects back.
type ResultPage struct {
	Title        string
	Message      string
	RedirectURL  string
	DelaySeconds int
}

// RenderResult writes the result page; with a RedirectURL it moves on after DelaySeconds.
func RenderResult(w io.Writer, page ResultPage) error {
	return delayedRedirect.Execute(w, page)
}
