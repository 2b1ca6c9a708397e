// Package config handles configuration loading for marketdesk.
//
// # Overview
//
// Configuration is loaded from YAML (or TOML, by file extension) with
// environment variable expansion. Missing timings fall back to defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  token: "${MARKETDESK_TOKEN}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	feed:
//	  reconnect_delay: "3s"
//	  heartbeat_interval: "30s"
//
// # Configuration Sections
//
//	backend:
//	  base_url: "http://localhost:8080"
//	  ws_url: ""                 # derived from base_url when empty
//	  request_timeout: "15s"
//
//	feed:
//	  auto_reconnect: true
//	  reconnect_delay: "3s"
//	  heartbeat_interval: "30s"
//	  dial_timeout: "10s"
//
//	workbench:
//	  account_id: ""
//	  deep_link_buyer_id: ""
//	  deep_link_item_id: ""
//	  page_size: 100
//	  dedupe_ttl: "2m"
//	  dedupe_size: 1000
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("marketdesk.yaml")
//	if err != nil {
//	    return err
//	}
package config
