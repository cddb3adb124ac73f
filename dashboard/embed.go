package dashboard

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"strings"
	"time"
)

//go:embed index.html static
var embeddedFiles embed.FS

// Static serves the dashboard's script and stylesheet under /static/.
var Static, _ = fs.Sub(embeddedFiles, "static")

// Page is the server-rendered dashboard template
var Page = template.Must(template.New("index.html").Funcs(template.FuncMap{
	"label": label,
	"when":  when,
}).ParseFS(embeddedFiles, "index.html"))

// label turns enum values like in_progress into "in progress".
func label(v interface{}) string {
	return strings.ReplaceAll(fmt.Sprint(v), "_", " ")
}

func when(v interface{}) string {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return "-"
		}
		return t.Local().Format("Jan 2 15:04")
	case *time.Time:
		if t == nil || t.IsZero() {
			return "-"
		}
		return t.Local().Format("Jan 2 15:04")
	}
	return "-"
}
