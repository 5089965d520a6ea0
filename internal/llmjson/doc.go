// Package llmjson recovers structured data from free-form model output.
//
// Everything here is a pure text transformation: fence and prose stripping,
// quote normalization, bracket repair, and two parsers (strict JSON and a
// permissive literal syntax). Schema knowledge lives with the caller.
package llmjson
