// Package model defines shared types for the proxy.
package model

import (
	"context"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// URI is the original path and query string including the API prefix.
	URI string
	// Header is the inbound header set. It is inspected for the body media
	// type only and never forwarded.
	Header http.Header
	Body   []byte
}

// ProxyResponse is a fully read upstream response to be relayed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
