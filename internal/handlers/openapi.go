package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/eval-hub/model-arena/internal/executioncontext"
	"github.com/eval-hub/model-arena/internal/http_wrappers"
	"github.com/eval-hub/model-arena/internal/messages"
)

// HandleOpenAPI serves the API description found next to the working directory or the executable.
func (h *Handlers) HandleOpenAPI(ctx *executioncontext.ExecutionContext, r http_wrappers.RequestWrapper, w http_wrappers.ResponseWrapper) {
	possiblePaths := []string{
		filepath.Join("docs", "openapi.yaml"),
		filepath.Join("..", "..", "docs", "openapi.yaml"),
		filepath.Join("..", "..", "..", "docs", "openapi.yaml"),
	}

	var spec []byte
	var err error
	for _, path := range possiblePaths {
		spec, err = os.ReadFile(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// If file not found, try to find it relative to the executable
		exePath, _ := os.Executable()
		if exePath != "" {
			exeDir := filepath.Dir(exePath)
			specPath := filepath.Join(exeDir, "docs", "openapi.yaml")
			spec, err = os.ReadFile(specPath)
		}
	}

	if err != nil {
		w.ErrorWithMessageCode(ctx.RequestID, messages.InternalServerError, "Error", "failed to read the OpenAPI description: "+err.Error())
		return
	}

	w.SetHeader("Content-Type", "application/yaml")
	w.SetStatusCode(http.StatusOK)
	_, _ = w.Write(spec)
}

// HandleDocs serves a Swagger UI page that loads /openapi.yaml from the same host.
func (h *Handlers) HandleDocs(ctx *executioncontext.ExecutionContext, r http_wrappers.RequestWrapper, w http_wrappers.ResponseWrapper) {

	html := `<!DOCTYPE html>
<html>
<head>
  <title>Model Arena API Documentation</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui.css" />
  <style>
    html {
      box-sizing: border-box;
      overflow: -moz-scrollbars-vertical;
      overflow-y: scroll;
    }
    *, *:before, *:after {
      box-sizing: inherit;
    }
    body {
      margin:0;
      background: #fafafa;
    }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui-bundle.js"></script>
  <script src="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui-standalone-preset.js"></script>
  <script>
    window.onload = function() {
      const ui = SwaggerUIBundle({
        url: "/openapi.yaml",
        dom_id: '#swagger-ui',
        deepLinking: true,
        presets: [
          SwaggerUIBundle.presets.apis,
          SwaggerUIStandalonePreset
        ],
        plugins: [
          SwaggerUIBundle.plugins.DownloadUrl
        ],
        layout: "StandaloneLayout"
      });
    };
  </script>
</body>
</html>`

	w.SetHeader("Content-Type", "text/html; charset=utf-8")
	w.SetStatusCode(http.StatusOK)
	_, _ = w.Write([]byte(html))
}
