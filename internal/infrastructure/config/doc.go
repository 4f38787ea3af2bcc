// Package config handles loading and validating gateway connector configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The gateway key and API secret should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - broker.tls.insecure_skip_verify is for development brokers only
//
// Usage:
//
//	cfg, err := config.Load("configs/ttngwc.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Gateway.ID)
package config
