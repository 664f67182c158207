package relay

// The relay speaks a small JSON protocol over one WebSocket per client.
// Requests carry a client-chosen seq; the relay answers each request with a
// response bearing the same seq. Watch pushes are unsolicited and carry the
// watch id returned by the watch_doc/watch_col response instead.

// request ops.
const (
	opPut      = "put"
	opMerge    = "merge"
	opGet      = "get"
	opDelete   = "delete"
	opAdd      = "add"
	opList     = "list"
	opWatchDoc = "watch_doc"
	opWatchCol = "watch_col"
	opUnwatch  = "unwatch"
)

// push events.
const (
	eventDoc    = "doc"
	eventChange = "change"
)

type request struct {
	Seq    uint64         `json:"seq"`
	Op     string         `json:"op"`
	Path   string         `json:"path,omitempty"`
	ID     string         `json:"id,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	Limit  int            `json:"limit,omitempty"`
	Watch  uint64         `json:"watch,omitempty"`
}

type document struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

type response struct {
	Seq   uint64     `json:"seq"`
	OK    bool       `json:"ok"`
	Error string     `json:"error,omitempty"`
	ID    string     `json:"id,omitempty"`
	Found bool       `json:"found,omitempty"`
	Docs  []document `json:"docs,omitempty"`
	Watch uint64     `json:"watch,omitempty"`
}

type push struct {
	Event  string         `json:"event"`
	Watch  uint64         `json:"watch"`
	Kind   string         `json:"kind,omitempty"`
	ID     string         `json:"id,omitempty"`
	Fields map[string]any `json:"fields"`
	Gone   bool           `json:"gone,omitempty"`
}
