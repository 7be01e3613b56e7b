// Package config loads the gateway configuration.
//
// Configuration is built in layers: Default() first, then each file added
// with AddLayer deep-merged over it (maps merge, lists replace), then
// environment overrides. Files may be JSON or YAML, chosen by extension.
// Durations are written as Go duration strings ("1s", "5m") or with a day
// suffix ("14d").
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/barnowl/base.yaml")
//	loader.AddLayer("/etc/barnowl/site.yaml")
//	loader.EnableValidation(true)
//	cfg, err := loader.Load()
//
// A minimal file running one serial reel with mixing enabled:
//
//	platform:
//	  id: lobby
//	listeners:
//	  - type: serial
//	    name: reel-0
//	    path: /dev/ttyUSB0
//	mixing:
//	  enabled: true
//	  delay: 1s
//
// # Environment overrides
//
//	BARNOWL_PLATFORM_ID      platform.id
//	BARNOWL_NATS_URLS        nats.urls (comma separated)
//	BARNOWL_METRICS_PORT     metrics.port
//	BARNOWL_MIXING_ENABLED   mixing.enabled
//	BARNOWL_SELECTOR_N       selector.n
//
// # Security
//
// Config files are size limited, must be regular files, and relative paths
// may not escape the working directory. JSON nesting depth is bounded.
package config
