package handler

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"time"

	"leadrelay/internal/leads/domain"
	"leadrelay/internal/leads/service"

	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const displayLayout = "02/01/2006 15:04"

type loginView struct {
	Action string
	Error  string
}

type dashboardRow struct {
	Name          string
	Phone         string
	Email         string
	Created       string
	Status        string
	Error         string
	Stage         domain.Stage
	WelcomeSent   bool
	Followup1Sent bool
	Followup2Sent bool
}

type dashboardView struct {
	Rows        []dashboardRow
	Counter     int64
	GeneratedAt string
	ActionURL   string
}

func newDashboardView(o service.Overview, loc *time.Location) dashboardView {
	rows := make([]dashboardRow, 0, len(o.Leads))
	for _, l := range o.Leads {
		row := dashboardRow{
			Name:          l.Name,
			Phone:         l.Phone,
			Email:         l.Email,
			Created:       l.CreatedAt().In(loc).Format(displayLayout),
			Error:         l.FinalError,
			Stage:         l.Stage,
			WelcomeSent:   l.SentFirst,
			Followup1Sent: l.Followup.Sent1,
			Followup2Sent: l.Followup.Sent2,
		}
		row.Status = "Waiting"
		if l.SentFirst {
			row.Status = "Welcome sent"
		}
		rows = append(rows, row)
	}
	return dashboardView{
		Rows:        rows,
		Counter:     o.Counter,
		GeneratedAt: o.GeneratedAt.In(loc).Format(displayLayout),
		ActionURL:   LeadActionPath,
	}
}

func (h *Handler) renderLogin(c *gin.Context, status int, errMsg string) {
	h.render(c, status, "login", loginView{Action: LoginPath, Error: errMsg})
}

// render executes into a buffer so a template error never leaves a half-written page.
func (h *Handler) render(c *gin.Context, status int, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		h.log.Error("template render failed", "template", name, "error", err)
		c.String(http.StatusInternalServerError, "render error")
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}
