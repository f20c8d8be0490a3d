// Package rlm implements a recursive language-model loop: a root model
// answers a query about a very large context by writing code that runs in a
// persistent sandbox, where the context is bound to a variable and the model
// can call itself recursively through llm_query.
//
// # Quick Start
//
//	root := openaicompat.NewProvider(apiKey, "gpt-4o", "https://api.openai.com/v1")
//	sub := openaicompat.NewProvider(apiKey, "gpt-4o-mini", "https://api.openai.com/v1")
//
//	engine := rlm.New(rlm.WithRetry(root), sandbox.NewSubprocess(),
//		rlm.WithSubProvider(rlm.WithRetry(sub)),
//		rlm.WithMaxIterations(10),
//		rlm.WithLogging(true),
//	)
//
//	res, err := engine.Completion(ctx, hugeDocument, "What is the magic number?")
//
// # Protocol
//
// Each round the root model sees the transcript plus a next-action prompt.
// Code it wants to run goes in a fenced block tagged repl:
//
//	```repl
//	chunk = context[:10000]
//	print(llm_query(f"find the magic number in: {chunk}"))
//	```
//
// Every block runs in order and its report is appended to the transcript.
// A line starting with FINAL(text) or FINAL_VAR(name) ends the session; the
// variable form reads the named binding from the sandbox. When no answer
// arrives within the round budget, one more completion is forced.
//
// # Core Interfaces
//
//   - [Provider]: completion service (provider/openaicompat)
//   - [Runtime], [Sandbox]: code execution (sandbox, sandbox/remote)
//   - [Recorder], [TraceStore]: session traces (store/sqlite, store/postgres, store/redis)
//   - [Tracer]: spans (observer)
package rlm
