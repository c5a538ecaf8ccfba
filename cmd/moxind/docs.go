package main

// General API documentation for swaggo. Run `swag init -g cmd/moxind/docs.go
// -o internal/httpapi/apidocs` to regenerate.
//
// @title           moxind local server
// @version         1.0
// @description     OpenAI-compatible HTTP surface of the moxind backend.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
