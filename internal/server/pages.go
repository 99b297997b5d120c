package server

import (
	"html/template"

	"github.com/MarcoPoloResearchLab/identity/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/identity/backend/internal/credentials"
	"github.com/gin-gonic/gin"
)

const pageTemplateName = "page"

var pageTemplate = template.Must(template.New(pageTemplateName).Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
{{range .Errors}}<p class="error" data-field="{{.Field}}" data-code="{{.Code}}">{{.Message}}</p>
{{end}}{{with .User}}<p class="user">Signed in as {{.Email}}</p>
{{end}}{{if .Action}}<form method="post" action="{{.Action}}">
{{range .Fields}}<label>{{.Label}} <input name="{{.Name}}" type="{{.Type}}"></label>
{{end}}<button type="submit">Continue</button>
</form>
{{end}}{{range .Providers}}<a class="provider" href="/auth/{{.}}/login">Continue with {{.}}</a>
{{end}}</body>
</html>
`))

// page describes a rendered view. JSON clients receive the same structure.
type page struct {
	Title     string            `json:"title"`
	Action    string            `json:"action,omitempty"`
	Fields    []pageField       `json:"fields,omitempty"`
	Errors    []auth.FieldError `json:"errors"`
	Providers []string          `json:"providers,omitempty"`
	User      *credentials.User `json:"user,omitempty"`
}

type pageField struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Label string `json:"label"`
}

var (
	emailField     = pageField{Name: "email", Type: "email", Label: "Email"}
	passwordField  = pageField{Name: "password", Type: "password", Label: "Password"}
	firstNameField = pageField{Name: "firstName", Type: "text", Label: "First name"}
	lastNameField  = pageField{Name: "lastName", Type: "text", Label: "Last name"}
)

func (h *httpHandler) renderPage(c *gin.Context, status int, view page) {
	if view.Errors == nil {
		view.Errors = []auth.FieldError{}
	}
	if wantsHTML(c) {
		c.HTML(status, pageTemplateName, view)
		return
	}
	c.JSON(status, view)
}

func wantsHTML(c *gin.Context) bool {
	return c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) == gin.MIMEHTML
}
