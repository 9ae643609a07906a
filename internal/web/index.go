package web

// indexHTML is the browser shell: live readouts from /api/stream plus links
// to the rendered graphs.
const indexHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>accelgraph</title>
<style>
body { font-family: sans-serif; margin: 1.5em; }
table { border-collapse: collapse; }
td, th { padding: 0.2em 0.8em; text-align: right; }
</style>
</head>
<body>
<h1>accelgraph</h1>
<p>
<button onclick="post('/api/session/resume')">Resume</button>
<button onclick="post('/api/session/pause')">Pause</button>
<a href="/api/graph">graphs</a> |
<a href="/api/graph.png?group=accel">accel.png</a> |
<a href="/api/graph.png?group=orientation">orientation.png</a> |
<a href="/api/status">status</a> |
<a href="/api/logs?format=text">logs</a>
</p>
<p>rate: <span id="rate">-</span> ms, accuracy: <span id="accuracy">-</span></p>
<table>
<thead><tr><th>accel_x</th><th>accel_y</th><th>accel_z</th><th>pitch</th><th>roll</th><th>azimuth</th></tr></thead>
<tbody><tr id="values"><td>-</td><td>-</td><td>-</td><td>-</td><td>-</td><td>-</td></tr></tbody>
</table>
<p id="notice"></p>
<script>
function post(path) {
  fetch(path, {method: 'POST'}).then(r => r.text()).then(t => {
    document.getElementById('notice').textContent = t;
  });
}
function connect() {
  const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
  const ws = new WebSocket(proto + '//' + location.host + '/api/stream');
  ws.onmessage = ev => {
    const u = JSON.parse(ev.data);
    document.getElementById('rate').textContent = u.rate_ms.toFixed(3);
    document.getElementById('accuracy').textContent = u.accuracy;
    const cells = document.getElementById('values').children;
    u.points.forEach((p, i) => { cells[i].textContent = p.value.toFixed(2); });
  };
  ws.onclose = () => setTimeout(connect, 1000);
}
connect();
</script>
</body>
</html>
`
