/*
Package pipehttp serves pipelined HTTP/1.x requests on connections accepted
elsewhere.

Every request parsed off a connection gets a ResponseSink that is queued
before its handler starts. Handlers run concurrently on a shared worker pool
and write into their own sink; a single writer per connection copies the sinks
to the socket in queue order, so responses always leave in request order even
when a later handler finishes first. The queue holds at most
Server.PipelineCapacity sinks, which stalls parsing when the client pipelines
faster than responses are produced.

	s := &pipehttp.Server{
		Handler: func(ctx *pipehttp.RequestCtx) error {
			return ctx.RespondString(200, "text/plain", "hello")
		},
	}
	err := s.ServeConn(c)
*/
package pipehttp
