package http

import (
	"html/template"
	"net/http"

	ilog "your.org/whatsmeow-linker/internal/log"
)

// The landing page is deliberately a single inline template: it shows
// the mirrored connection state, polls for the QR image and offers
// the code-request form.  All real work happens in the JSON API.
var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>WhatsApp Linker</title>
  <style>
    body { font-family: sans-serif; max-width: 640px; margin: 2rem auto; }
    .state { font-weight: bold; }
    #qr img { border: 1px solid #ccc; }
    code { font-size: 1.4rem; letter-spacing: 0.2rem; }
  </style>
</head>
<body>
  <h1>WhatsApp Linker</h1>
  <p>Connection: <span class="state">{{.State}}</span>
  {{if .ManualRequired}} — QR refresh limit reached, restart pairing manually{{end}}</p>

  <div id="qr">
  {{if .QRAvailable}}
    <p>Scan to link this bot:</p>
    <img src="data:image/png;base64,{{.QRImage}}" alt="QR code" width="256" height="256">
  {{else if eq .State "online"}}
    <p>Session is linked and online.</p>
  {{else}}
    <p>No QR code available yet.</p>
  {{end}}
  </div>

  <h2>Request a pairing code</h2>
  <form id="gen">
    <input type="tel" name="phoneNumber" placeholder="+254723278526">
    <button type="submit">Generate</button>
  </form>
  <p id="result"></p>

  <script>
    document.getElementById('gen').addEventListener('submit', async (e) => {
      e.preventDefault();
      const phoneNumber = e.target.phoneNumber.value;
      const res = await fetch('/generate-code', {
        method: 'POST',
        headers: {'Content-Type': 'application/json'},
        body: JSON.stringify({phoneNumber})
      });
      const data = await res.json();
      document.getElementById('result').innerHTML = data.success
        ? 'Your code: <code>' + data.displayCode + '</code>'
        : 'Error: ' + data.message;
    });
  </script>
</body>
</html>
`))

type indexData struct {
	State          string
	QRAvailable    bool
	QRImage        string
	ManualRequired bool
}

// handleIndex renders the status page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.mirror.Snapshot()
	img, _ := s.mirror.QRImage()
	data := indexData{
		State:          string(snap.State),
		QRAvailable:    snap.QRAvailable,
		QRImage:        img,
		ManualRequired: snap.ManualRequired,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, data); err != nil {
		ilog.Errorf("render index: %v", err)
	}
}
