package handlers

import (
	"bytes"
	"embed"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/flosch/pongo2/v6"
	"github.com/labstack/echo/v5"

	"helpdesk/views"
)

//go:embed templates/*.pongo2
var templateFS embed.FS

// embedLoader serves templates from the binary; names are relative to templates/.
type embedLoader struct {
	fs   embed.FS
	root string
}

func (l embedLoader) Abs(_, name string) string {
	return path.Join(l.root, strings.TrimPrefix(name, "/"))
}

func (l embedLoader) Get(p string) (io.Reader, error) {
	b, err := l.fs.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

func init() {
	pongo2.RegisterFilter("label", filterLabel)
}

func filterLabel(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsValue(views.Label(in.String())), nil
}

type Renderer struct {
	set *pongo2.TemplateSet
}

func NewRenderer() *Renderer {
	set := pongo2.NewSet("helpdesk", embedLoader{fs: templateFS, root: "templates"})
	set.Globals["app_name"] = "Help Desk"
	return &Renderer{set: set}
}

// HTML renders name with data and writes it with code. The request's form token
// is available to every template as csrf.
func (r *Renderer) HTML(c echo.Context, code int, name string, data pongo2.Context) error {
	if token, ok := c.Get(csrfField).(string); ok {
		if data == nil {
			data = pongo2.Context{}
		}
		data["csrf"] = token
	}
	tpl, err := r.set.FromCache(name)
	if err != nil {
		return err
	}
	out, err := tpl.ExecuteBytes(data)
	if err != nil {
		return err
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.HTMLBlob(code, out)
}

func (r *Renderer) errorPage(c echo.Context, code int, msg string) error {
	return r.HTML(c, code, "error.pongo2", pongo2.Context{
		"title":   http.StatusText(code),
		"message": msg,
	})
}
