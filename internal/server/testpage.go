package server

import (
	"fmt"
	"log"
	"net/http"
)

// TestPageHandler serves an HTML page for exercising the WebSocket protocol
// by hand: pick a user id, choose a room from GET /rooms, join it and chat.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		log.Printf("Error writing HTML response: %v", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>roomchat console</title>
<style>
  main { max-width: 720px; margin: 2em auto; font: 14px/1.4 monospace; }
  fieldset { margin-bottom: 1em; }
  #log { height: 320px; overflow-y: auto; border: 1px solid #999; padding: .5em; white-space: pre-wrap; }
  .system { color: #777; }
  .chat b { color: #036; }
</style>
</head>
<body>
<main>
  <h1>roomchat console</h1>

  <form id="session">
    <fieldset>
      <legend>Session <span id="state">CLOSED</span></legend>
      <label>user id <input name="user" required></label>
      <button>open / close</button>
    </fieldset>
  </form>

  <form id="room">
    <fieldset disabled>
      <legend>Room</legend>
      <select name="room"><option value="">default room</option></select>
      <button type="button" id="refresh">reload rooms</button>
      <button>join_room</button>
    </fieldset>
  </form>

  <form id="chat">
    <fieldset disabled>
      <legend>Chat</legend>
      <input name="content" size="50" autocomplete="off">
      <button>send</button>
    </fieldset>
  </form>

  <div id="log"></div>
</main>

<script>
  const $ = (sel) => document.querySelector(sel);
  const roomSelect = $('#room select');
  let socket = null;

  function log(cls, html) {
    const row = document.createElement('div');
    row.className = cls;
    row.innerHTML = html;
    $('#log').append(row);
    $('#log').scrollTop = $('#log').scrollHeight;
  }

  const escape = (s) => String(s).replace(/[&<>"]/g, (c) => '&#' + c.charCodeAt(0) + ';');

  function setOpen(open) {
    $('#state').textContent = open ? 'OPEN' : 'CLOSED';
    $('#room fieldset').disabled = !open;
    $('#chat fieldset').disabled = !open;
    $('#session input').disabled = open;
  }

  async function loadRooms() {
    const rooms = await (await fetch('/rooms')).json();
    roomSelect.length = 1;
    for (const r of rooms) {
      roomSelect.add(new Option(r.name + (r.is_default ? ' *' : ''), r.id));
    }
  }

  function send(type, fields) {
    if (!socket || socket.readyState !== WebSocket.OPEN) return;
    const frame = { type, ...fields };
    if (roomSelect.value) frame.room_id = roomSelect.value;
    socket.send(JSON.stringify(frame));
  }

  $('#session').onsubmit = (e) => {
    e.preventDefault();
    if (socket) { socket.close(); return; }
    const user = e.target.user.value.trim();
    const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
    socket = new WebSocket(proto + '//' + location.host + '/ws/' + encodeURIComponent(user));
    socket.onopen = () => { setOpen(true); loadRooms(); };
    socket.onclose = () => { setOpen(false); socket = null; log('system', '-- closed'); };
    socket.onmessage = (ev) => {
      const evt = JSON.parse(ev.data);
      if (evt.type === 'chat') {
        log('chat', '<b>' + escape(evt.message.username) + '</b> ' + escape(evt.message.content));
      } else {
        log('system', '-- ' + escape(evt.content));
      }
    };
  };

  $('#refresh').onclick = loadRooms;
  $('#room').onsubmit = (e) => { e.preventDefault(); send('join_room', {}); };
  $('#chat').onsubmit = (e) => {
    e.preventDefault();
    const input = e.target.content;
    if (input.value.trim()) send('chat', { content: input.value.trim() });
    input.value = '';
  };
</script>
</body>
</html>`
