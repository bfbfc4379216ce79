package handlers

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"

	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPISpec []byte

const docsPage = `<!DOCTYPE html>
<html>
<head>
  <title>Stem Splitter API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({url: "/docs/openapi.json", dom_id: "#swagger-ui"});
  </script>
</body>
</html>
`

// DocsHandler serves the interactive API documentation
type DocsHandler struct {
	document []byte
}

// NewDocsHandler renders the embedded OpenAPI document to JSON
func NewDocsHandler() (*DocsHandler, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(openAPISpec, &doc); err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	rendered, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("render openapi document: %w", err)
	}
	return &DocsHandler{document: rendered}, nil
}

// Root handles GET / by redirecting to the docs
func (h *DocsHandler) Root(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/docs", http.StatusTemporaryRedirect)
}

// Page handles GET /docs
func (h *DocsHandler) Page(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(docsPage))
}

// Document handles GET /docs/openapi.json
func (h *DocsHandler) Document(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(h.document)
}
