package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/sweeney/experience-degrader/internal/logic"
	"github.com/sweeney/experience-degrader/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"percent": func(level float64) string {
		return fmt.Sprintf("%.0f%%", level*100)
	},
	// The variables are generated locally, never from request input.
	"cssVars": func(s logic.State) template.CSS {
		var b strings.Builder
		for _, v := range logic.CSSVariables(s) {
			fmt.Fprintf(&b, "%s: %s; ", v.Name, v.Value)
		}
		return template.CSS(b.String())
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Experience</title>
<style id="degradation-vars">:root { {{cssVars .State}} }</style>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em;
  filter: blur(var(--degradation-blur)) hue-rotate(var(--degradation-hue))
    contrast(var(--degradation-contrast)) saturate(var(--degradation-saturate)); }
main { transform: rotate(var(--degradation-rotation)) skew(var(--degradation-skew)); }
h1 { font-size: 1.4em; text-shadow: var(--degradation-chromatic) 0 red, calc(-1 * var(--degradation-chromatic)) 0 cyan; }
section { min-height: 90vh; border-bottom: 1px solid #ddd; padding: 2em 0; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.connected { color: green; }
.disconnected { color: red; }
#message { position: fixed; top: 1em; left: 0; right: 0; text-align: center; font-weight: bold; }
#message:empty { display: none; }
</style>
</head>
<body data-phase="{{.State.Phase}}">
<div id="message">{{.State.TransitionMessage}}</div>
<main>
<section>
<h1>Experience</h1>
<table>
<tr><th>Phase</th><td id="phase">{{.State.Phase}}</td></tr>
<tr><th>Degradation</th><td id="level">{{percent .State.Level}}</td></tr>
<tr><th>Scroll loops</th><td>{{.State.ScrollLoops}}</td></tr>
<tr><th>Time spent</th><td>{{.State.TimeSpent}}s</td></tr>
<tr><th>Interactions</th><td>{{.State.Interactions}}</td></tr>
<tr><th>Cycles</th><td>{{.State.Cycles}}</td></tr>
<tr><th>Tracking</th><td>{{if .State.IsActive}}running{{else}}stopped{{end}}</td></tr>
</table>
<p><button id="damage" type="button">Break it</button></p>
</section>
<section><p>Keep scrolling.</p></section>
<section><p>Nothing here is wrong.</p></section>
<section>
<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Session</th><td>{{.Session}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>
<p><a href="/index.json">JSON</a> · <a href="/degradation.css">CSS</a>{{if .Config.JournalPath}} · <a href="/events.json">Events</a>{{end}}</p>
</section>
</main>
<script>
(function() {
  var native = {{.Config.NativeScroll}};
  var root = document.documentElement;
  var phaseEl = document.getElementById("phase");
  var levelEl = document.getElementById("level");
  var msgEl = document.getElementById("message");

  function post(path, body) {
    return fetch(path, {
      method: "POST",
      headers: { "Content-Type": "application/json" },
      body: JSON.stringify(body || {})
    }).catch(function() {});
  }

  function apply(msg) {
    if (msg.css) {
      for (var k in msg.css) { root.style.setProperty(k, msg.css[k]); }
    }
    if (msg.phase) {
      phaseEl.textContent = msg.phase;
      document.body.dataset.phase = msg.phase;
    }
    levelEl.textContent = Math.round((msg.level || 0) * 100) + "%";
    msgEl.textContent = msg.message || "";
  }

  document.getElementById("damage").addEventListener("click", function() {
    post("/api/damage", { amount: 5 });
  });
  document.addEventListener("click", function() {
    post("/api/interaction", { amount: 1 });
  });

  var pending = false;
  function sample(send) {
    if (pending) { return; }
    pending = true;
    requestAnimationFrame(function() {
      pending = false;
      send();
    });
  }

  if (!native) {
    window.addEventListener("scroll", function() {
      sample(function() {
        var max = root.scrollHeight - window.innerHeight;
        if (max > 0) { post("/api/scroll", { progress: window.scrollY / max }); }
      });
    });
    return;
  }

  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws;
  function connect() {
    ws = new WebSocket(proto + location.host + "/viewport");
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        if (msg.type === "scroll_to") { window.scrollTo(0, msg.top || 0); }
        if (msg.type === "state") { apply(msg); }
      } catch (e) {}
    };
    ws.onclose = function() { setTimeout(connect, 2000); };
  }
  connect();

  window.addEventListener("scroll", function() {
    sample(function() {
      if (!ws || ws.readyState !== WebSocket.OPEN) { return; }
      ws.send(JSON.stringify({
        type: "viewport",
        scroll_y: window.scrollY,
        scroll_height: root.scrollHeight,
        inner_height: window.innerHeight
      }));
    });
  });
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
