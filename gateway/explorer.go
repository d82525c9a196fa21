package gateway

import (
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/blockberries/nodegate/logging"
	"github.com/blockberries/nodegate/rpc"
)

var explorerTemplate = template.Must(template.New("explorer").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>nodegate explorer</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
table { border-collapse: collapse; margin-bottom: 1.5em; }
td, th { border: 1px solid #ccc; padding: 0.3em 0.6em; text-align: left; }
code { background: #f4f4f4; padding: 0 0.2em; }
.privileged { color: #a00; }
</style>
</head>
<body>
<h1>nodegate</h1>
<p>POST JSON-RPC 2.0 to <code>{{.QueryPath}}</code>, or open a websocket on the same path.
The machine-readable schema is at <a href="{{.SchemaPath}}">{{.SchemaPath}}</a>.</p>
<p>Methods marked <span class="privileged">privileged</span> require the
<code>{{.Schema.Policy.Name}}</code> policy: claim <code>{{.Schema.Policy.ClaimType}}={{.Schema.Policy.ClaimValue}}</code>.</p>
{{range .Schema.Methods}}
<h2 id="{{.Name}}"><code>{{.Name}}</code>{{if .Privileged}} <span class="privileged">privileged</span>{{end}}</h2>
<p>{{.Description}}</p>
{{if .Aliases}}<p>Aliases: {{range $i, $a := .Aliases}}{{if $i}}, {{end}}<code>{{$a}}</code>{{end}}</p>{{end}}
{{if .Params}}
<table>
<tr><th>param</th><th>type</th><th>required</th><th>description</th></tr>
{{range .Params}}<tr><td><code>{{.Name}}</code></td><td>{{.Type}}</td><td>{{if .Required}}yes{{else}}no{{end}}</td><td>{{.Description}}</td></tr>
{{end}}</table>
{{end}}
<p>Returns <code>{{.Result}}</code>.</p>
{{end}}
</body>
</html>
`))

type explorerPage struct {
	QueryPath  string
	SchemaPath string
	Schema     rpc.Schema
}

func (g *Gateway) schemaPath() string {
	return g.cfg.QueryPath + "/schema"
}

func (g *Gateway) handleExplorer(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := explorerPage{
		QueryPath:  g.cfg.QueryPath,
		SchemaPath: g.schemaPath(),
		Schema:     g.dispatcher.Schema(),
	}
	if err := explorerTemplate.Execute(w, page); err != nil {
		g.logger.Warn("rendering explorer", logging.Error(err))
	}
}

func (g *Gateway) handleSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(g.logger, w, http.StatusOK, g.dispatcher.Schema())
}

func writeJSON(logger *logging.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("writing response", logging.Error(err))
	}
}
