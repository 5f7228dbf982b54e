package router

import (
	"html/template"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/movpey/movpey/internal/logging"
	"go.uber.org/zap"
)

var blockedPage = template.Must(template.New("blocked").Parse(`<!DOCTYPE html>
<html lang="vi">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="robots" content="noindex">
<title>MovPey - Not available in your region</title>
</head>
<body>
<main>
<h1>Dịch vụ không khả dụng tại khu vực của bạn</h1>
<p>MovPey is not available in your region.</p>
{{- if .Contact}}
<p>Liên hệ / Contact: <a href="mailto:{{.Contact}}">{{.Contact}}</a></p>
{{- end}}
</main>
</body>
</html>
`))

type blockedData struct {
	Contact string
}

// blocked renders the page denied requests are redirected to. It never
// resolves the caller's country.
func (rt *Router) blocked(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	data := blockedData{Contact: rt.contact}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if err := blockedPage.Execute(w, data); err != nil {
		logging.Warn("Blocked page render failed", zap.Error(err))
	}
}
