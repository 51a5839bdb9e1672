package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Options holds everything a run needs. It is built once in main from
// command-line input and passed by value into every constructor.
type Options struct {
	ConfigPath string
	Groups     []string // empty means every group in the document

	Controller string // single base URL; overrides Host/Ports when set
	Host       string
	Ports      []int
	Secret     string

	Concurrency    int
	TimeoutSeconds int
	TestURL        string
	MaxRPS         float64 // 0 means unlimited

	StatusAddr string // empty disables the status server

	LogLevel  string
	LogFormat string // "text" or "json"
}

// Defaults fills in zero-valued fields.
func (o *Options) Defaults() {
	if o.ConfigPath == "" {
		o.ConfigPath = "clash_config.yaml"
	}
	if o.Host == "" {
		o.Host = "127.0.0.1"
	}
	if len(o.Ports) == 0 && o.Controller == "" {
		o.Ports = []int{9090, 9097}
	}
	if o.Concurrency == 0 {
		o.Concurrency = 100
	}
	if o.TimeoutSeconds == 0 {
		o.TimeoutSeconds = 5
	}
	if o.TestURL == "" {
		o.TestURL = "http://www.gstatic.com/generate_204"
	}
	if o.LogLevel == "" {
		o.LogLevel = "info"
	}
	if o.LogFormat == "" {
		o.LogFormat = "text"
	}
}

// Validate checks option validity.
func (o *Options) Validate() error {
	if o.Concurrency < 1 || o.Concurrency > 10000 {
		return fmt.Errorf("concurrency must be between 1 and 10000")
	}
	if o.TimeoutSeconds < 1 || o.TimeoutSeconds > 300 {
		return fmt.Errorf("timeout must be between 1 and 300 seconds")
	}
	if o.MaxRPS < 0 {
		return fmt.Errorf("rps must not be negative")
	}
	if o.Controller != "" {
		u, err := url.Parse(o.Controller)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("controller must be a base URL like http://127.0.0.1:9090")
		}
	}
	if o.LogFormat != "text" && o.LogFormat != "json" {
		return fmt.Errorf("log format must be 'text' or 'json'")
	}
	return nil
}

// Candidates returns the control-plane base URLs to try in order.
func (o *Options) Candidates() []string {
	if o.Controller != "" {
		return []string{strings.TrimRight(o.Controller, "/")}
	}
	urls := make([]string, 0, len(o.Ports))
	for _, port := range o.Ports {
		urls = append(urls, fmt.Sprintf("http://%s:%d", o.Host, port))
	}
	return urls
}

// ParsePorts parses a comma-separated port list flag value.
func ParsePorts(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ports := make([]int, 0, len(parts))
	for _, part := range parts {
		port, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid port %q", strings.TrimSpace(part))
		}
		ports = append(ports, port)
	}
	return ports, nil
}

// ParseGroups parses a comma-separated group list flag value.
func ParseGroups(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	groups := make([]string, 0, len(parts))
	for _, part := range parts {
		if name := strings.TrimSpace(part); name != "" {
			groups = append(groups, name)
		}
	}
	return groups
}
