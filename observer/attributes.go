package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for rlm observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMessages = attribute.Key("llm.messages")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrTokensCached = attribute.Key("llm.tokens.cached")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrContextKind  = attribute.Key("sandbox.context_kind")
	AttrContextBytes = attribute.Key("sandbox.context_bytes")
	AttrCodeLength   = attribute.Key("sandbox.code_length")
	AttrExecStatus   = attribute.Key("sandbox.status")
	AttrStdoutLength = attribute.Key("sandbox.stdout_length")
	AttrStderrLength = attribute.Key("sandbox.stderr_length")

	AttrSessionID   = attribute.Key("rlm.session_id")
	AttrRounds      = attribute.Key("rlm.rounds")
	AttrForced      = attribute.Key("rlm.forced")
	AttrQueryLength = attribute.Key("rlm.query_length")
	AttrStatus      = attribute.Key("rlm.status")
)
