package config

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// AdminToken is the shared secret expected in the X-Admin-Token header
	// on admin endpoints. Required outside development mode.
	AdminToken string `env:"ADMIN_TOKEN" envDefault:""`

	// ReadHeaderTimeoutSeconds bounds slow-header attacks on the listener.
	ReadHeaderTimeoutSeconds int `env:"HTTP_READ_HEADER_TIMEOUT_SECONDS" envDefault:"10"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.ReadHeaderTimeoutSeconds <= 0 {
		h.ReadHeaderTimeoutSeconds = 10
	}
}
