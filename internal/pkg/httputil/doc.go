// Package httputil holds the JSON request/response helpers shared by the
// API handlers and the webhook receiver, so every endpoint answers with the
// same envelope and error shape.
package httputil
