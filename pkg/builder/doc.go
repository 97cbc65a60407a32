// Package builder records pipeline declarations and assembles them into a
// request pipeline.
//
// A Builder is the evaluation context of one configuration script. It exposes a
// fixed vocabulary (Server, Run, RunBefore, RunAfter, Use, Warmup) and records
// what the script asks for without constructing anything. Build then folds the
// middleware declarations around the application, so that the first declared
// middleware is the outermost layer:
//
//	b := builder.New(srv)
//	b.Use(logging).Use(auth).Run(app)
//	p, err := b.Build() // p.Root is logging(auth(app))
//
// A Builder is single-use and not safe for concurrent use. The Pipeline it
// returns is immutable and may be shared by any number of request goroutines.
package builder
