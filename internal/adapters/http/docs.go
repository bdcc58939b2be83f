package http

import (
	"os"
	"sort"

	"github.com/gofiber/fiber/v2"
)

// openAPIPath is resolved against the working directory of the API binary.
var openAPIPath = "api/openapi.yaml"

const docsHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Livemap API</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <p style="font-family:sans-serif;margin:1em">
    REST and GraphQL are described below. The map view protocol on <code>/ws/map</code>
    is listed at <a href="/docs/ws">/docs/ws</a>.
  </p>
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>SwaggerUIBundle({url: '/docs/openapi.yaml', dom_id: '#swagger-ui'});</script>
</body>
</html>`

// wsCatalog lists the message types of the map view protocol.
type wsCatalog struct {
	Endpoint       string   `json:"endpoint"`
	Auth           string   `json:"auth"`
	Envelope       string   `json:"envelope"`
	ClientToServer []string `json:"client_to_server"`
	ServerToClient []string `json:"server_to_client"`
}

func buildWSCatalog() wsCatalog {
	in := make([]string, 0, len(knownInbound))
	for t := range knownInbound {
		in = append(in, t)
	}
	sort.Strings(in)
	out := append([]string(nil), outboundTypes...)
	sort.Strings(out)
	return wsCatalog{
		Endpoint:       "/ws/map",
		Auth:           "bearer token or ?token= query parameter",
		Envelope:       `client: {"type": ..., fields}; server: {"type": ..., "data": {...}}`,
		ClientToServer: in,
		ServerToClient: out,
	}
}

// SetupDocs registers the docs page, the OpenAPI document and the
// WebSocket message catalogue.
func SetupDocs(app *fiber.App) {
	catalog := buildWSCatalog()

	app.Get("/docs", func(c *fiber.Ctx) error {
		c.Type("html", "utf-8")
		return c.SendString(docsHTML)
	})

	app.Get("/docs/openapi.yaml", func(c *fiber.Ctx) error {
		data, err := os.ReadFile(openAPIPath)
		if err != nil {
			return newError(c, fiber.StatusNotFound, "openapi document not found", "")
		}
		c.Set("Content-Type", "application/yaml")
		return c.Send(data)
	})

	app.Get("/docs/ws", func(c *fiber.Ctx) error {
		return c.JSON(catalog)
	})
}
