// Package script evaluates Lua configuration scripts against the builder
// vocabulary.
//
// A script sees these globals and nothing from the host process:
//
//	server()              read-only view of the server (see Describer)
//	run(app)              app is a catalog name or function(req, res)
//	run_before(hook)      hook is a catalog name or function(req, res)
//	run_after(hook)       see builder.WithDistinctPostHooks
//	use(name, ...)        declare a catalog middleware; a trailing function is its block
//	warmup(fn)            fn(app) runs once after assembly; first call wins
//
// Only the base, table, string and math libraries are opened, without the
// functions that load code or touch the file system. print goes to the
// evaluator's logger.
//
// Example:
//
//	use("recovery")
//	use("logging")
//	use("rate_limit", { limit = 100, window = "1m", strategy = "ip" })
//	run_before(function(req, res) res.set_header("X-Served-By", server().name) end)
//	run("app")
//	warmup(function(app) assert(app:serve("GET", "/healthz") == 200) end)
//
// Lua functions kept by the pipeline share one Lua state and are called one
// at a time.
package script
