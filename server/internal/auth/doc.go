// Package auth provides authentication middleware for the topicwatch HTTP
// server.
//
// APIKey(mode, header, key) wraps an http.Handler and checks the API key in
// the named request header. WebSocket clients that cannot set headers may
// pass it as the api_key query parameter instead.
//
// When mode != "apikey" or key == "", all requests pass through (useful for
// local development with auth disabled). When the key is incorrect or absent
// the middleware answers 401 immediately.
package auth
