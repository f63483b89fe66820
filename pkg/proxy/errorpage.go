package proxy

import (
	"fmt"
	"net/http"
)

// ErrorPageStyle selects the body rendered for gateway-level failures.
type ErrorPageStyle string

const (
	// ErrorPagePlain renders the bare status text.
	ErrorPagePlain ErrorPageStyle = "plain"
	// ErrorPageNginx mimics nginx's special response pages, so the proxy's
	// failures are indistinguishable from a stock front-proxy setup.
	ErrorPageNginx ErrorPageStyle = "nginx"
)

// msiePadding disables MSIE and Chrome friendly error pages, same trick as
// nginx's special responses.
const msiePadding = "<!-- a padding to disable MSIE and Chrome friendly error page -->\n"

// writeGatewayError emits a gateway failure response in the configured style.
func writeGatewayError(w http.ResponseWriter, status int, style ErrorPageStyle) {
	statusLine := fmt.Sprintf("%d %s", status, http.StatusText(status))

	if style != ErrorPageNginx {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintln(w, statusLine)
		return
	}

	body := fmt.Sprintf(
		"<html>\n<head><title>%s</title></head>\n<body>\n<center><h1>%s</h1></center>\n<hr><center>nginx</center>\n</body>\n</html>\n",
		statusLine, statusLine,
	)
	for i := 0; i < 6; i++ {
		body += msiePadding
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}
