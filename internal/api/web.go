package api

import "net/http"

// handleWebInterface serves a single page that reads the token from the
// link fragment and renders the ledger through the JSON endpoints.
func (a *API) handleWebInterface(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(webPage))
}

const webPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>qarzbot</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 720px; margin: 2rem auto; padding: 0 1rem; }
table { border-collapse: collapse; width: 100%; margin-bottom: 2rem; }
td, th { border-bottom: 1px solid #ddd; padding: .4rem; text-align: left; }
.muted { color: #777; }
</style>
</head>
<body>
<h1>My debts</h1>
<p id="status" class="muted">Loading...</p>
<div id="summary"></div>
<h2>Latest</h2>
<table id="history"><thead><tr><th>#</th><th>Lender</th><th>Borrower</th><th>Amount</th><th>Paid</th><th>Status</th><th>Reason</th></tr></thead><tbody></tbody></table>
<script>
const params = new URLSearchParams(location.hash.slice(1));
let token = params.get("token");
if (token) { localStorage.setItem("qarz_token", token); history.replaceState(null, "", "/"); }
token = token || localStorage.getItem("qarz_token");

function label(p) { return p.name || (p.handle ? "@" + p.handle : "unknown"); }

async function get(path) {
  const res = await fetch(path, { headers: { Authorization: "Bearer " + token } });
  if (!res.ok) throw new Error(res.status === 401 ? "Your link expired. Send /web to the bot for a new one." : "Request failed: " + res.status);
  return res.json();
}

async function loadDebts() {
  if (!token) { document.getElementById("status").textContent = "Send /web to the bot to get a sign-in link."; return; }
  try {
    const [summary, debts] = await Promise.all([get("/api/me/summary"), get("/api/me/history")]);
    const s = summary.stats;
    const box = document.getElementById("summary");
    box.replaceChildren();
    const totals = document.createElement("p");
    totals.textContent = "You owe " + s.owe + ", owed to you " + s.owed + ", net " + summary.net;
    const list = document.createElement("ul");
    for (const p of summary.by_person) {
      const li = document.createElement("li");
      li.textContent = p.label + ": " + p.net;
      list.appendChild(li);
    }
    box.append(totals, list);
    const body = document.querySelector("#history tbody");
    body.innerHTML = "";
    for (const d of debts) {
      const tr = document.createElement("tr");
      for (const v of [d.id, label(d.creditor), label(d.debtor), d.amount + " " + d.currency, d.paid, d.status, d.reason]) {
        const td = document.createElement("td");
        td.textContent = v;
        tr.appendChild(td);
      }
      body.appendChild(tr);
    }
    document.getElementById("status").textContent = "";
  } catch (e) {
    document.getElementById("status").textContent = e.message;
  }
}
loadDebts();
</script>
</body>
</html>
`
