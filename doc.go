/*
Package blaze is a concurrent TCP request server built on a cooperative,
thread-pinned worker pool.

A dedicated acceptor thread takes connections off the listening socket and
hands them through a bounded admission queue. Each worker owns an OS thread,
a private poller and the connections it adopted. A connection is a task that
runs until its socket would block, then suspends so the worker can serve
others. Request heads are framed a byte at a time, parsed into a zero-copy
view over one owned buffer, routed and answered.

Quick Start

	cfg := config.New()
	logger, _, _ := logging.NewLogger(cfg.LoggingOptions())
	if err := app.Run(context.Background(), cfg, logger); err != nil {
		log.Fatal(err)
	}

Custom routes run on the engine directly:

	b := router.NewBuilder()
	b.Handle("/hello/:name", func(req *http.Request, w http.ResponseWriter, ps router.Params) error {
		name, _ := ps.Get("name")
		return http.WriteString(w, 200, "Hello "+name+"!")
	})
	routes, _ := b.Build()

	engine := core.NewEngine(routes, core.Options{Logger: logger})
	_ = engine.Listen("127.0.0.1:3333")
	_ = engine.Serve(ctx)

Modules

  - app: process lifecycle, engine plus admin server
  - config: defaults, JSON file, BLAZE_* environment and flags
  - api: built-in endpoints and the default route table
  - core: engine, acceptor, connections and their tasks
  - core/http: request framing, the request view and responses
  - core/queue: the admission queue
  - core/pools: cooperative worker pool and request buffer pool
  - core/poller: readiness multiplexing (epoll/kqueue)
  - core/router: radix routing table
  - core/middleware: endpoint wrappers
  - core/codec: JSON and protobuf response bodies
  - core/admin: /metrics, /debug/pools and /healthz over HTTP/1.1 and h2c
  - core/observability: Prometheus collectors and the performance monitor
  - core/logging: zap-backed logr loggers
*/
package blaze
