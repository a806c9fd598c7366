package cable

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	topicLenMin = 1
	topicLenMax = 256
)

type wsHandler struct {
	s *Server
}

func (wsh wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := map[string]string{}
	if wsh.s.auth != nil {
		var err error
		identity, err = wsh.s.auth(r)
		if err != nil {
			// An unauthenticated session never upgrades.
			wsh.s.logger.Warn("handshake rejected", zap.Error(err))
			http.NotFound(w, r)
			return
		}
	}

	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(wsh.s.origin),
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newConnection(wsh.s, newWsTransport(ws), identity)
	c.process()
}

func originChecker(origin string) func(r *http.Request) bool {
	if origin == "" {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		return r.Header.Get("Origin") == origin
	}
}

type postHandler struct {
	s *Server
}

// postHandler publishes the request body to the topic named by the path,
// so non-socket producers can broadcast.
func (ph postHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic, ok := validateTopic(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		sendBadRequestError(w, "Unable to read POST body.")
		return
	}
	ph.s.bus.Publish(topic, body)
	w.Write([]byte("OK\n"))
}

type statsHandler struct {
	s *Server
}

func (sh statsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Connections int               `json:"connections"`
		Sessions    []ConnectionStats `json:"sessions"`
	}{
		Connections: sh.s.mgr.Count(),
		Sessions:    sh.s.mgr.Statistics(),
	})
}

type getHandler struct {
	s *Server
}

// getHandler serves an HTML page with a websocket client speaking the
// cable protocol against the requested topic.
func (gh getHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic, ok := validateTopic(w, r)
	if !ok {
		return
	}
	webTemplate.Execute(w, templateArgs{Host: r.Host, Topic: topic})
}

func validateTopic(w http.ResponseWriter, r *http.Request) (string, bool) {
	topic := strings.TrimPrefix(r.URL.Path, "/")
	if !utf8.ValidString(topic) {
		sendBadRequestError(w, "Topic must be valid Unicode (UTF-8).")
		return "", false
	}
	topicLen := utf8.RuneCountInString(topic)
	if !(topicLenMin <= topicLen && topicLen <= topicLenMax) {
		sendBadRequestError(w, fmt.Sprintf(
			"Topic length must be %d-%d Unicode characters (UTF-8).",
			topicLenMin, topicLenMax))
		return "", false
	}
	return topic, true
}

func sendBadRequestError(w http.ResponseWriter, str string) {
	http.Error(w,
		fmt.Sprintf("Error: bad request. %s", str),
		http.StatusBadRequest)
}

type templateArgs struct {
	Host, Topic string
}

var webTemplate = template.Must(template.New("webTemplate").Parse(`
<html>
<head>
<title>cable {{.Topic}}</title>
<script type="text/javascript">
window.addEventListener("load", function() {
    var log = document.getElementById("log");
    var form = document.getElementById("form");
    var msg = document.getElementById("msg");
    var identifier = "debug_{{.Topic}}";

    function appendLog(text) {
        var line = document.createElement("div");
        line.textContent = text;
        log.appendChild(line);
        log.scrollTop = log.scrollHeight;
    }

    if (!window["WebSocket"]) {
        appendLog("Your browser does not support WebSockets.");
        return;
    }

    var conn = new WebSocket("ws://{{.Host}}/cable");
    conn.onopen = function() {
        conn.send(JSON.stringify({
            command: "subscribe",
            identifier: identifier,
            data: {channel: "DebugChannel", topic: {{.Topic}}}
        }));
    };
    conn.onclose = function() {
        appendLog("Connection closed.");
    };
    conn.onmessage = function(evt) {
        appendLog(evt.data);
    };

    form.addEventListener("submit", function(e) {
        e.preventDefault();
        if (!msg.value) {
            return;
        }
        conn.send(JSON.stringify({
            command: "message",
            identifier: identifier,
            data: {action: "speak", content: msg.value}
        }));
        msg.value = "";
    });
});
</script>
</head>
<body>
<h3>Cable client for {{.Topic}}</h3>
<div id="log"></div>
<form id="form">
    <input type="submit" value="Send" />
    <input type="text" id="msg" size="64"/>
</form>
</body>
</html>
`))
