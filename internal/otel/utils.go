package otel

import (
	"go.opentelemetry.io/otel/attribute"
)

const (
	WroteBytesKey = attribute.Key("http.wrote_bytes") // if anything was written to the response writer, the total number of bytes written
	WriteErrorKey = attribute.Key("http.write_error") // if an error occurred while writing a reply, the string of the error (io.EOF is not recorded)
	StatusCodeKey = attribute.Key("http.status_code")
	RouteKey      = attribute.Key("http.route")
)
